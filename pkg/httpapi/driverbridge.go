package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/engine"
	"github.com/keboola/storage-core/pkg/types"
	"github.com/keboola/storage-core/pkg/workspace"
)

// The driver bridge is the single envelope the Keboola connector SDKs
// speak against instead of the resource-oriented REST routes above:
// one PascalCase, "Command"-suffixed command in, one commandResponse
// out, with a messages[] channel for partial-failure reporting. The
// envelope shape and the snake_case request / camelCase internal field
// convention mirror the driver router the rest of this surface is an
// HTTP reduction of.

type driverEnvelope struct {
	Command        json.RawMessage    `json:"command"`
	Credentials    *driverCredentials `json:"credentials,omitempty"`
	Features       []string           `json:"features,omitempty"`
	RuntimeOptions *driverRuntime     `json:"runtimeOptions,omitempty"`
}

type driverCredentials struct {
	Host      string `json:"host"`
	Principal string `json:"principal"`
}

type driverRuntime struct {
	RunID string `json:"runId"`
}

// driverMessage levels are capitalized per the connector SDK contract.
const (
	levelError   = "Error"
	levelWarning = "Warning"
	levelInfo    = "Info"
)

type driverMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type driverResponse struct {
	CommandResponse map[string]interface{} `json:"commandResponse,omitempty"`
	Messages        []driverMessage        `json:"messages"`
}

// driverCommandHeader is decoded first, from the camelCase-converted
// command, to dispatch on its type before decoding type-specific
// fields. A "@type" value is accepted as a dotted type URL whose last
// segment is the command name (e.g. "keboola.storage.v1.CreateBucketCommand").
type driverCommandHeader struct {
	Type      string `json:"type"`
	AtType    string `json:"@type"`
	ProjectID string `json:"projectId"`
}

func commandTypeName(h driverCommandHeader) string {
	t := h.Type
	if t == "" {
		t = h.AtType
	}
	if idx := strings.LastIndex(t, "."); idx >= 0 {
		t = t[idx+1:]
	}
	return t
}

func (s *Server) handleDriverCommand(w http.ResponseWriter, r *http.Request) {
	var env driverEnvelope
	if err := decodeJSON(r, &env); err != nil {
		writeError(w, err)
		return
	}

	camelCommand, err := convertJSONKeysToCamelCase(env.Command)
	if err != nil {
		writeError(w, apierr.Validation("invalid command envelope: %v", err))
		return
	}

	var header driverCommandHeader
	if err := json.Unmarshal(camelCommand, &header); err != nil {
		writeError(w, apierr.Validation("invalid command envelope: %v", err))
		return
	}
	cmdType := commandTypeName(header)

	key := bearerToken(r)
	if env.Credentials != nil && env.Credentials.Principal != "" {
		key = env.Credentials.Principal
	}
	apiKey, err := s.deps.Auth.AuthorizeDriver(key)
	if err != nil {
		writeError(w, err)
		return
	}
	if apiKey != nil && header.ProjectID != "" && apiKey.ProjectID != header.ProjectID {
		writeError(w, apierr.Authz("api key is not authorized for project %q", header.ProjectID))
		return
	}

	result, messages, err := s.dispatchDriverCommand(r, cmdType, camelCommand)
	if err != nil {
		writeJSON(w, statusForKind(apierr.KindOf(err)), driverResponse{
			Messages: append(messages, driverMessage{Level: levelError, Message: err.Error()}),
		})
		return
	}
	commandResponse, err := wrapCommandResponse(cmdType, result)
	if err != nil {
		writeError(w, apierr.Internal(err, "encode command response"))
		return
	}
	writeJSON(w, http.StatusOK, driverResponse{CommandResponse: commandResponse, Messages: messages})
}

// wrapCommandResponse marshals result to a plain map and stamps it
// with the "@type" the connector SDKs key their response decoding on.
// There's no protobuf type registry backing this module, so the value
// is synthesized from the request's own command type.
func wrapCommandResponse(cmdType string, result interface{}) (map[string]interface{}, error) {
	if result == nil {
		return nil, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["@type"] = strings.TrimSuffix(cmdType, "Command") + "Response"
	return m, nil
}

// convertJSONKeysToCamelCase decodes raw into a generic value,
// recursively rewrites every snake_case object key to camelCase (the
// wire format this module accepts mirrors the driver service's own
// request shape), and re-encodes it so the per-command structs below
// can use plain camelCase json tags.
func convertJSONKeysToCamelCase(raw json.RawMessage) (json.RawMessage, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	out, err := json.Marshal(camelizeKeys(v))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func camelizeKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[snakeToCamel(k)] = camelizeKeys(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = camelizeKeys(val)
		}
		return out
	default:
		return v
	}
}

// snakeToCamel turns foo_bar into fooBar. Keys with no underscore
// (most of this schema) pass through unchanged.
func snakeToCamel(name string) string {
	parts := strings.Split(name, "_")
	if len(parts) == 1 {
		return name
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func (s *Server) dispatchDriverCommand(r *http.Request, cmdType string, raw json.RawMessage) (interface{}, []driverMessage, error) {
	switch cmdType {
	case "CreateBucketCommand":
		var cmd struct {
			ProjectID string `json:"projectId"`
			Bucket    string `json:"bucket"`
		}
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, nil, apierr.Validation("invalid CreateBucketCommand: %v", err)
		}
		b := &types.Bucket{ProjectID: cmd.ProjectID, Name: normalizeBucketName(cmd.Bucket), CreatedAt: time.Now()}
		if err := s.deps.Store.CreateBucket(b); err != nil {
			return nil, nil, err
		}
		return b, nil, nil

	case "CreateTableCommand":
		var cmd struct {
			ProjectID  string         `json:"projectId"`
			BranchID   string         `json:"branchId"`
			Bucket     string         `json:"bucket"`
			Table      string         `json:"table"`
			Columns    []types.Column `json:"columns"`
			PrimaryKey []string       `json:"primaryKey"`
		}
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, nil, apierr.Validation("invalid CreateTableCommand: %v", err)
		}
		path, err := s.deps.Paths.TablePath(cmd.ProjectID, cmd.BranchID, cmd.Bucket, cmd.Table)
		if err != nil {
			return nil, nil, err
		}
		if err := ensureParentDir(path); err != nil {
			return nil, nil, err
		}
		var messages []driverMessage
		err = s.withBranchTable(r, cmd.ProjectID, branchSegment(cmd.BranchID), cmd.Bucket, cmd.Table, func(eng *engine.Engine) error {
			return eng.CreateTable(r.Context(), toEngineColumns(cmd.Columns), cmd.PrimaryKey)
		})
		if err != nil {
			return nil, nil, err
		}
		if cmd.BranchID != "" {
			if err := s.deps.Store.MarkTableCopiedToBranch(cmd.ProjectID, cmd.BranchID, cmd.Bucket, cmd.Table); err != nil {
				messages = append(messages, driverMessage{Level: levelWarning, Message: "table created but branch tracking failed: " + err.Error()})
			}
		}
		rec := &types.Table{
			ProjectID: cmd.ProjectID, BucketName: cmd.Bucket, TableName: cmd.Table,
			Columns: cmd.Columns, PrimaryKey: cmd.PrimaryKey, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
		if cmd.BranchID == "" {
			if err := s.deps.Store.CreateTable(rec); err != nil {
				messages = append(messages, driverMessage{Level: levelWarning, Message: "table created but catalog record failed: " + err.Error()})
			}
		}
		return rec, messages, nil

	case "DropTableCommand":
		var cmd struct {
			ProjectID string `json:"projectId"`
			BranchID  string `json:"branchId"`
			Bucket    string `json:"bucket"`
			Table     string `json:"table"`
		}
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, nil, apierr.Validation("invalid DropTableCommand: %v", err)
		}
		bid := branchSegment(cmd.BranchID)
		if err := s.autoSnapshot(r, cmd.ProjectID, bid, cmd.Bucket, cmd.Table, types.SnapshotAutoPreDrop); err != nil && apierr.KindOf(err) != apierr.KindNotFound {
			return nil, nil, err
		}
		err := s.withBranchTable(r, cmd.ProjectID, bid, cmd.Bucket, cmd.Table, func(eng *engine.Engine) error {
			return eng.DropTable(r.Context())
		})
		if err != nil && apierr.KindOf(err) != apierr.KindNotFound {
			return nil, nil, err
		}
		if path, pathErr := s.deps.Paths.TablePath(cmd.ProjectID, cmd.BranchID, cmd.Bucket, cmd.Table); pathErr == nil {
			_ = os.Remove(path)
		}
		if cmd.BranchID == "" {
			if err := s.deps.Store.DeleteTable(cmd.ProjectID, cmd.Bucket, cmd.Table); err != nil && apierr.KindOf(err) != apierr.KindNotFound {
				return nil, nil, err
			}
		}
		return struct{}{}, nil, nil

	case "DropColumnCommand":
		var cmd struct {
			ProjectID string `json:"projectId"`
			BranchID  string `json:"branchId"`
			Bucket    string `json:"bucket"`
			Table     string `json:"table"`
			Column    string `json:"column"`
		}
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, nil, apierr.Validation("invalid DropColumnCommand: %v", err)
		}
		bid := branchSegment(cmd.BranchID)
		if err := s.autoSnapshot(r, cmd.ProjectID, bid, cmd.Bucket, cmd.Table, types.SnapshotAutoPreDropColumn); err != nil {
			return nil, nil, err
		}
		err := s.withBranchTable(r, cmd.ProjectID, bid, cmd.Bucket, cmd.Table, func(eng *engine.Engine) error {
			return eng.DropColumn(r.Context(), cmd.Column)
		})
		if err != nil {
			return nil, nil, err
		}
		return struct{}{}, nil, nil

	case "DeleteTableRowsCommand":
		var cmd struct {
			ProjectID string `json:"projectId"`
			BranchID  string `json:"branchId"`
			Bucket    string `json:"bucket"`
			Table     string `json:"table"`
			Where     string `json:"where"`
		}
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, nil, apierr.Validation("invalid DeleteTableRowsCommand: %v", err)
		}
		bid := branchSegment(cmd.BranchID)
		if engine.IsDeleteAll(cmd.Where) {
			snapType := types.SnapshotAutoPreDeleteAll
			if strings.TrimSpace(cmd.Where) == "" {
				snapType = types.SnapshotAutoPreTruncate
			}
			if err := s.autoSnapshot(r, cmd.ProjectID, bid, cmd.Bucket, cmd.Table, snapType); err != nil {
				return nil, nil, err
			}
		}
		var deleted int64
		err := s.withBranchTable(r, cmd.ProjectID, bid, cmd.Bucket, cmd.Table, func(eng *engine.Engine) error {
			var err error
			deleted, err = eng.DeleteRows(r.Context(), cmd.Where)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return struct {
			DeletedRows int64 `json:"deletedRows"`
		}{deleted}, nil, nil

	case "TableImportFromFileCommand":
		var cmd struct {
			ProjectID string              `json:"projectId"`
			BranchID  string              `json:"branchId"`
			Bucket    string              `json:"bucket"`
			Table     string              `json:"table"`
			Source    string              `json:"source"`
			Format    engine.ImportFormat `json:"format"`
		}
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, nil, apierr.Validation("invalid TableImportFromFileCommand: %v", err)
		}
		var result *engine.ImportResult
		err := s.withBranchTable(r, cmd.ProjectID, branchSegment(cmd.BranchID), cmd.Bucket, cmd.Table, func(eng *engine.Engine) error {
			var err error
			result, err = eng.ImportFromFile(r.Context(), cmd.Source, cmd.Format, engine.ImportOptions{})
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return result, nil, nil

	case "CreateWorkspaceCommand":
		var cmd struct {
			ProjectID string `json:"projectId"`
			BranchID  string `json:"branchId"`
			Name      string `json:"name"`
		}
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, nil, apierr.Validation("invalid CreateWorkspaceCommand: %v", err)
		}
		result, err := s.deps.Workspaces.Create(workspace.CreateParams{ProjectID: cmd.ProjectID, BranchID: cmd.BranchID, Name: cmd.Name})
		if err != nil {
			return nil, nil, err
		}
		return createWorkspaceResponse{Workspace: result.Workspace, Username: result.Username, Password: result.Password}, nil, nil

	case "CreateSnapshotCommand":
		var cmd struct {
			ProjectID   string `json:"projectId"`
			BranchID    string `json:"branchId"`
			Bucket      string `json:"bucket"`
			Table       string `json:"table"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, nil, apierr.Validation("invalid CreateSnapshotCommand: %v", err)
		}
		snap, err := s.deps.Snapshots.Manual(r.Context(), cmd.ProjectID, cmd.BranchID, cmd.Bucket, cmd.Table, cmd.Description, s.deps.LockTimeout)
		if err != nil {
			return nil, nil, err
		}
		return snap, nil, nil

	default:
		return nil, nil, apierr.Validation("unknown driver command type %q", cmdType)
	}
}

// branchSegment is the inverse of normalizeBranchID: the literal "main"
// segment withBranchTable/autoSnapshot expect when a command's
// branchId is empty.
func branchSegment(branchID string) string {
	if branchID == "" {
		return "main"
	}
	return branchID
}
