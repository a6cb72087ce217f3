package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/keboola/storage-core/pkg/apierr"
)

// errorBody is the JSON shape every failing endpoint returns.
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusForKind maps an apierr.Kind onto the HTTP status the spec's
// three wire surfaces agree on.
func statusForKind(kind apierr.Kind) int {
	switch kind {
	case apierr.KindValidation:
		return http.StatusBadRequest
	case apierr.KindAuth:
		return http.StatusUnauthorized
	case apierr.KindAuthz:
		return http.StatusForbidden
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindConflict:
		return http.StatusConflict
	case apierr.KindGone:
		return http.StatusGone
	case apierr.KindRateLimit:
		return http.StatusTooManyRequests
	case apierr.KindLockTimeout:
		return http.StatusConflict
	case apierr.KindEngineError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError reports err in the shared error body, returning the
// status code it was mapped to so the caller's metrics middleware can
// label on it.
func writeError(w http.ResponseWriter, err error) int {
	kind := apierr.KindOf(err)
	status := statusForKind(kind)
	var body errorBody
	body.Error.Kind = string(kind)
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
	return status
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Validation("invalid request body: %v", err)
	}
	return nil
}
