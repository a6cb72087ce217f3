package metadata

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/log"
	"github.com/keboola/storage-core/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketProjects            = []byte("projects")
	bucketBuckets             = []byte("buckets")
	bucketTables              = []byte("tables")
	bucketBranches            = []byte("branches")
	bucketAPIKeys             = []byte("api_keys")
	bucketWorkspaces          = []byte("workspaces")
	bucketWorkspaceCreds      = []byte("workspace_credentials")
	bucketPGWireSessions      = []byte("pgwire_sessions")
	bucketBucketShares        = []byte("bucket_shares")
	bucketBucketLinks         = []byte("bucket_links")
	bucketSnapshots           = []byte("snapshots")
	bucketSnapshotConfigs     = []byte("snapshot_configs")
	bucketOperationsLog       = []byte("operations_log")
)

// BoltStore implements Store using an embedded bbolt database, one
// bucket per entity and one JSON document per row — the same pattern
// the domain engines expect, generalized from
// node/service/container entities to project/bucket/table ones.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the bbolt database at path
// and ensures every entity bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("metadata: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketProjects, bucketBuckets, bucketTables, bucketBranches,
			bucketAPIKeys, bucketWorkspaces, bucketWorkspaceCreds,
			bucketPGWireSessions, bucketBucketShares, bucketBucketLinks,
			bucketSnapshots, bucketSnapshotConfigs, bucketOperationsLog,
		}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func bucketKey(parts ...string) []byte {
	key := parts[0]
	for _, p := range parts[1:] {
		key += "/" + p
	}
	return []byte(key)
}

func put(tx *bolt.Tx, bucketName []byte, key []byte, v interface{}) error {
	b := tx.Bucket(bucketName)
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return b.Put(key, data)
}

// --- Projects ---

func (s *BoltStore) CreateProject(p *types.Project) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketProjects, []byte(p.ID), p)
	})
}

func (s *BoltStore) GetProject(id string) (*types.Project, error) {
	var p types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProjects).Get([]byte(id))
		if data == nil {
			return apierr.NotFound("project %q not found", id)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListProjects() ([]*types.Project, error) {
	var out []*types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var p types.Project
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateProject(p *types.Project) error {
	return s.CreateProject(p)
}

func (s *BoltStore) DeleteProject(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).Delete([]byte(id))
	})
}

// --- Buckets ---

func (s *BoltStore) CreateBucket(b *types.Bucket) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketBuckets, bucketKey(b.ProjectID, b.Name), b)
	})
}

func (s *BoltStore) GetBucket(projectID, name string) (*types.Bucket, error) {
	var b types.Bucket
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBuckets).Get(bucketKey(projectID, name))
		if data == nil {
			return apierr.NotFound("bucket %q not found in project %q", name, projectID)
		}
		return json.Unmarshal(data, &b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BoltStore) ListBuckets(projectID string) ([]*types.Bucket, error) {
	var out []*types.Bucket
	prefix := projectID + "/"
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBuckets).Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var b types.Bucket
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			out = append(out, &b)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) DeleteBucket(projectID, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBuckets).Delete(bucketKey(projectID, name))
	})
}

// --- Tables ---

func (s *BoltStore) CreateTable(t *types.Table) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketTables, bucketKey(t.ProjectID, t.BucketName, t.TableName), t)
	})
}

func (s *BoltStore) GetTable(projectID, bucket, table string) (*types.Table, error) {
	var t types.Table
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTables).Get(bucketKey(projectID, bucket, table))
		if data == nil {
			return apierr.NotFound("table %q.%q not found in project %q", bucket, table, projectID)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *BoltStore) ListTables(projectID, bucket string) ([]*types.Table, error) {
	var out []*types.Table
	prefix := projectID + "/" + bucket + "/"
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTables).Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var t types.Table
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, &t)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) UpdateTable(t *types.Table) error {
	return s.CreateTable(t)
}

func (s *BoltStore) DeleteTable(projectID, bucket, table string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTables).Delete(bucketKey(projectID, bucket, table))
	})
}

// --- Branches ---

func (s *BoltStore) CreateBranch(b *types.Branch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketBranches, bucketKey(b.ProjectID, b.ID), b)
	})
}

func (s *BoltStore) GetBranch(projectID, branchID string) (*types.Branch, error) {
	var b types.Branch
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBranches).Get(bucketKey(projectID, branchID))
		if data == nil {
			return apierr.NotFound("branch %q not found in project %q", branchID, projectID)
		}
		return json.Unmarshal(data, &b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BoltStore) ListBranches(projectID string) ([]*types.Branch, error) {
	var out []*types.Branch
	prefix := projectID + "/"
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBranches).Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var b types.Branch
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			out = append(out, &b)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) UpdateBranch(b *types.Branch) error {
	return s.CreateBranch(b)
}

func (s *BoltStore) DeleteBranch(projectID, branchID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBranches).Delete(bucketKey(projectID, branchID))
	})
}

func (s *BoltStore) GetBranchTables(projectID, branchID string) ([]string, error) {
	b, err := s.GetBranch(projectID, branchID)
	if err != nil {
		return nil, err
	}
	return b.CopiedTables, nil
}

func (s *BoltStore) IsTableInBranch(projectID, branchID, bucket, table string) (bool, error) {
	b, err := s.GetBranch(projectID, branchID)
	if err != nil {
		return false, err
	}
	return b.HasCopiedTable(bucket, table), nil
}

// MarkTableCopiedToBranch performs a read-modify-write of the branch
// record inside a single bbolt transaction, so a concurrent copy
// cannot clobber another's CopiedTables append.
func (s *BoltStore) MarkTableCopiedToBranch(projectID, branchID, bucket, table string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketBranches)
		key := bucketKey(projectID, branchID)
		data := bkt.Get(key)
		if data == nil {
			return apierr.NotFound("branch %q not found in project %q", branchID, projectID)
		}
		var branch types.Branch
		if err := json.Unmarshal(data, &branch); err != nil {
			return err
		}
		if !branch.HasCopiedTable(bucket, table) {
			branch.CopiedTables = append(branch.CopiedTables, bucket+"/"+table)
		}
		return put(tx, bucketBranches, key, &branch)
	})
}

// UnmarkTableCopiedFromBranch removes a bucket/table entry from the
// branch's CopiedTables record, used by pull() once the branch file
// itself has been deleted.
func (s *BoltStore) UnmarkTableCopiedFromBranch(projectID, branchID, bucket, table string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketBranches)
		key := bucketKey(projectID, branchID)
		data := bkt.Get(key)
		if data == nil {
			return apierr.NotFound("branch %q not found in project %q", branchID, projectID)
		}
		var branch types.Branch
		if err := json.Unmarshal(data, &branch); err != nil {
			return err
		}
		target := bucket + "/" + table
		kept := branch.CopiedTables[:0]
		for _, t := range branch.CopiedTables {
			if t != target {
				kept = append(kept, t)
			}
		}
		branch.CopiedTables = kept
		return put(tx, bucketBranches, key, &branch)
	})
}

// --- API keys ---

func (s *BoltStore) CreateAPIKey(k *types.APIKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketAPIKeys, []byte(k.ID), k)
	})
}

func (s *BoltStore) GetAPIKey(id string) (*types.APIKey, error) {
	var k types.APIKey
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAPIKeys).Get([]byte(id))
		if data == nil {
			return apierr.NotFound("api key %q not found", id)
		}
		return json.Unmarshal(data, &k)
	})
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// GetAPIKeyByPrefix returns the only live (not revoked) key whose
// KeyPrefix matches; callers still must verify the full hash (spec
// §4.C, §4.E).
func (s *BoltStore) GetAPIKeyByPrefix(prefix string) (*types.APIKey, error) {
	var found *types.APIKey
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPIKeys).ForEach(func(k, v []byte) error {
			var key types.APIKey
			if err := json.Unmarshal(v, &key); err != nil {
				return err
			}
			if key.KeyPrefix == prefix && !key.Revoked {
				found = &key
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, apierr.NotFound("no live api key with prefix %q", prefix)
	}
	return found, nil
}

func (s *BoltStore) ListAPIKeys(projectID string) ([]*types.APIKey, error) {
	var out []*types.APIKey
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPIKeys).ForEach(func(k, v []byte) error {
			var key types.APIKey
			if err := json.Unmarshal(v, &key); err != nil {
				return err
			}
			if key.ProjectID == projectID {
				out = append(out, &key)
			}
			return nil
		})
	})
	return out, err
}

// UpdateAPIKeyLastUsed is best-effort: a failure here must never fail
// the authentication call that triggered it.
func (s *BoltStore) UpdateAPIKeyLastUsed(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAPIKeys)
		data := b.Get([]byte(id))
		if data == nil {
			return apierr.NotFound("api key %q not found", id)
		}
		var key types.APIKey
		if err := json.Unmarshal(data, &key); err != nil {
			return err
		}
		now := time.Now()
		key.LastUsedAt = &now
		return put(tx, bucketAPIKeys, []byte(id), &key)
	})
	if err != nil {
		log.WithComponent("metadata").Warn().Err(err).Str("api_key_id", id).Msg("failed to update api key last_used_at")
	}
	return nil
}

func (s *BoltStore) RevokeAPIKey(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAPIKeys)
		data := b.Get([]byte(id))
		if data == nil {
			return apierr.NotFound("api key %q not found", id)
		}
		var key types.APIKey
		if err := json.Unmarshal(data, &key); err != nil {
			return err
		}
		key.Revoked = true
		return put(tx, bucketAPIKeys, []byte(id), &key)
	})
}

func (s *BoltStore) DeleteAPIKey(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPIKeys).Delete([]byte(id))
	})
}

// --- Workspaces ---

func (s *BoltStore) CreateWorkspace(w *types.Workspace) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketWorkspaces, []byte(w.ID), w)
	})
}

func (s *BoltStore) GetWorkspace(id string) (*types.Workspace, error) {
	var w types.Workspace
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkspaces).Get([]byte(id))
		if data == nil {
			return apierr.NotFound("workspace %q not found", id)
		}
		return json.Unmarshal(data, &w)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *BoltStore) ListWorkspaces(projectID string) ([]*types.Workspace, error) {
	var out []*types.Workspace
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkspaces).ForEach(func(k, v []byte) error {
			var w types.Workspace
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if w.ProjectID == projectID {
				out = append(out, &w)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateWorkspace(w *types.Workspace) error {
	return s.CreateWorkspace(w)
}

func (s *BoltStore) DeleteWorkspace(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkspaces).Delete([]byte(id))
	})
}

// --- Workspace credentials ---

func (s *BoltStore) PutWorkspaceCredential(c *types.WorkspaceCredential) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketWorkspaceCreds, []byte(c.WorkspaceID), c)
	})
}

func (s *BoltStore) GetWorkspaceCredential(workspaceID string) (*types.WorkspaceCredential, error) {
	var c types.WorkspaceCredential
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkspaceCreds).Get([]byte(workspaceID))
		if data == nil {
			return apierr.NotFound("no credential for workspace %q", workspaceID)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetWorkspaceCredentialByUsername scans the credential bucket for a
// matching username, used by the PG-wire startup flow where the
// client supplies a username and password but no workspace id.
func (s *BoltStore) GetWorkspaceCredentialByUsername(username string) (*types.WorkspaceCredential, error) {
	var found *types.WorkspaceCredential
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkspaceCreds).ForEach(func(k, v []byte) error {
			var c types.WorkspaceCredential
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.Username == username {
				found = &c
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, apierr.NotFound("no credential for username %q", username)
	}
	return found, nil
}

func (s *BoltStore) DeleteWorkspaceCredential(workspaceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkspaceCreds).Delete([]byte(workspaceID))
	})
}

// --- PG-wire sessions ---

func (s *BoltStore) CreatePGWireSession(sess *types.PGWireSession) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketPGWireSessions, []byte(sess.SessionID), sess)
	})
}

func (s *BoltStore) GetPGWireSession(id string) (*types.PGWireSession, error) {
	var sess types.PGWireSession
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPGWireSessions).Get([]byte(id))
		if data == nil {
			return apierr.NotFound("pgwire session %q not found", id)
		}
		return json.Unmarshal(data, &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *BoltStore) ListPGWireSessions(workspaceID string) ([]*types.PGWireSession, error) {
	var out []*types.PGWireSession
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPGWireSessions).ForEach(func(k, v []byte) error {
			var sess types.PGWireSession
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if workspaceID == "" || sess.WorkspaceID == workspaceID {
				out = append(out, &sess)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdatePGWireSession(sess *types.PGWireSession) error {
	return s.CreatePGWireSession(sess)
}

func (s *BoltStore) DeletePGWireSession(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPGWireSessions).Delete([]byte(id))
	})
}

func (s *BoltStore) CountActivePGWireSessions(workspaceID string) (int, error) {
	sessions, err := s.ListPGWireSessions(workspaceID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, sess := range sessions {
		if sess.Status == types.SessionActive {
			count++
		}
	}
	return count, nil
}

// CleanupIdleSessions marks every active session whose LastActivityAt
// is older than threshold as timed out, and returns the ones it
// changed so the caller can close their sockets.
func (s *BoltStore) CleanupIdleSessions(threshold time.Duration) ([]*types.PGWireSession, error) {
	var expired []*types.PGWireSession
	cutoff := time.Now().Add(-threshold)

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPGWireSessions)
		return b.ForEach(func(k, v []byte) error {
			var sess types.PGWireSession
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if sess.Status == types.SessionActive && sess.LastActivityAt.Before(cutoff) {
				sess.Status = types.SessionTimeout
				data, err := json.Marshal(&sess)
				if err != nil {
					return err
				}
				if err := b.Put(k, data); err != nil {
					return err
				}
				expired = append(expired, &sess)
			}
			return nil
		})
	})
	return expired, err
}

// --- Bucket sharing ---

func (s *BoltStore) CreateBucketShare(sh *types.BucketShare) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := bucketKey(sh.SourceProjectID, sh.SourceBucket, sh.TargetProjectID)
		return put(tx, bucketBucketShares, key, sh)
	})
}

func (s *BoltStore) GetBucketShare(sourceProjectID, sourceBucket, targetProjectID string) (*types.BucketShare, error) {
	var sh types.BucketShare
	key := bucketKey(sourceProjectID, sourceBucket, targetProjectID)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBucketShares).Get(key)
		if data == nil {
			return apierr.NotFound("bucket share not found for %s/%s -> %s", sourceProjectID, sourceBucket, targetProjectID)
		}
		return json.Unmarshal(data, &sh)
	})
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

func (s *BoltStore) ListBucketShares(sourceProjectID, sourceBucket string) ([]*types.BucketShare, error) {
	var out []*types.BucketShare
	prefix := sourceProjectID + "/" + sourceBucket + "/"
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBucketShares).Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var sh types.BucketShare
			if err := json.Unmarshal(v, &sh); err != nil {
				return err
			}
			out = append(out, &sh)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) DeleteBucketShare(sourceProjectID, sourceBucket, targetProjectID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBucketShares).Delete(bucketKey(sourceProjectID, sourceBucket, targetProjectID))
	})
}

func (s *BoltStore) CreateBucketLink(l *types.BucketLink) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := bucketKey(l.TargetProjectID, l.TargetBucket)
		return put(tx, bucketBucketLinks, key, l)
	})
}

func (s *BoltStore) GetBucketLink(targetProjectID, targetBucket string) (*types.BucketLink, error) {
	var l types.BucketLink
	key := bucketKey(targetProjectID, targetBucket)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBucketLinks).Get(key)
		if data == nil {
			return apierr.NotFound("bucket link not found for %s/%s", targetProjectID, targetBucket)
		}
		return json.Unmarshal(data, &l)
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *BoltStore) ListBucketLinks(targetProjectID string) ([]*types.BucketLink, error) {
	var out []*types.BucketLink
	prefix := targetProjectID + "/"
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBucketLinks).Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var l types.BucketLink
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			out = append(out, &l)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) DeleteBucketLink(targetProjectID, targetBucket string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBucketLinks).Delete(bucketKey(targetProjectID, targetBucket))
	})
}

// --- Snapshots ---

func (s *BoltStore) CreateSnapshot(sn *types.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketSnapshots, []byte(sn.ID), sn)
	})
}

func (s *BoltStore) GetSnapshot(id string) (*types.Snapshot, error) {
	var sn types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(id))
		if data == nil {
			return apierr.NotFound("snapshot %q not found", id)
		}
		return json.Unmarshal(data, &sn)
	})
	if err != nil {
		return nil, err
	}
	return &sn, nil
}

func (s *BoltStore) ListSnapshots(projectID, bucket, table string) ([]*types.Snapshot, error) {
	var out []*types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			var sn types.Snapshot
			if err := json.Unmarshal(v, &sn); err != nil {
				return err
			}
			if sn.ProjectID != projectID {
				return nil
			}
			if bucket != "" && sn.Bucket != bucket {
				return nil
			}
			if table != "" && sn.Table != table {
				return nil
			}
			out = append(out, &sn)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteSnapshot(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(id))
	})
}

// CleanupExpiredSnapshots deletes every snapshot row whose ExpiresAt
// has passed and returns them so the caller can delete the backing
// .duckdb files.
func (s *BoltStore) CleanupExpiredSnapshots(now time.Time) ([]*types.Snapshot, error) {
	var expired []*types.Snapshot
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		var toDelete [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var sn types.Snapshot
			if err := json.Unmarshal(v, &sn); err != nil {
				return err
			}
			if now.After(sn.ExpiresAt) {
				expired = append(expired, &sn)
				keyCopy := append([]byte(nil), k...)
				toDelete = append(toDelete, keyCopy)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return expired, err
}

// --- Snapshot config ---

func (s *BoltStore) PutSnapshotConfig(c *types.SnapshotConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := bucketKey(string(c.Scope), c.ScopeKey)
		return put(tx, bucketSnapshotConfigs, key, c)
	})
}

func (s *BoltStore) GetSnapshotConfig(scope types.ConfigScope, scopeKey string) (*types.SnapshotConfig, error) {
	var c types.SnapshotConfig
	key := bucketKey(string(scope), scopeKey)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshotConfigs).Get(key)
		if data == nil {
			return apierr.NotFound("no snapshot config at scope %s/%s", scope, scopeKey)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) DeleteSnapshotConfig(scope types.ConfigScope, scopeKey string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshotConfigs).Delete(bucketKey(string(scope), scopeKey))
	})
}

// --- Operations log ---

// LogOperation never fails the caller: a write error here is logged to
// the process log and swallowed.
func (s *BoltStore) LogOperation(entry *types.OperationLogEntry) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperationsLog)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.ID = int64(seq)
		return put(tx, bucketOperationsLog, seqKey(seq), entry)
	})
	if err != nil {
		log.WithComponent("metadata").Error().Err(err).Str("operation", entry.Operation).Msg("failed to persist operation log entry")
	}
}

func (s *BoltStore) ListOperations(projectID string, limit int) ([]*types.OperationLogEntry, error) {
	var out []*types.OperationLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOperationsLog).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var entry types.OperationLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if projectID != "" && entry.ProjectID != projectID {
				continue
			}
			out = append(out, &entry)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

func hasPrefix(key []byte, prefix string) bool {
	if len(key) < len(prefix) {
		return false
	}
	return string(key[:len(prefix)]) == prefix
}
