// Package idempotency implements a bbolt-bucket-backed cache of
// (idempotency key, request fingerprint) -> prior response, used by
// the HTTP control plane's mutating endpoints.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("idempotency_cache")

// Entry is one cached response, keyed by idempotency key.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	StatusCode  int       `json:"status_code"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"stored_at"`
}

// Store is a small bbolt-backed TTL cache, separate from pkg/metadata's
// catalog because its entries are transient and unrelated to the
// durable domain entities.
type Store struct {
	db  *bolt.DB
	ttl time.Duration
}

// Open opens (creating if necessary) the idempotency cache at path.
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, ttl: ttl}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Fingerprint hashes a request body to the value stored alongside an
// idempotency key, so a key reused with a different body is treated as
// a conflicting request rather than a replay.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached entry for key, or (nil, false) if absent or
// expired. An expired entry is lazily evicted.
func (s *Store) Lookup(key string) (*Entry, bool) {
	var entry Entry
	found := false
	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil
		}
		if time.Since(entry.StoredAt) > s.ttl {
			return b.Delete([]byte(key))
		}
		found = true
		return nil
	})
	if !found {
		return nil, false
	}
	return &entry, true
}

// Store records the response for key so a repeat with the same
// fingerprint returns it verbatim instead of re-executing the mutation.
func (s *Store) Store(key, fingerprint string, statusCode int, body []byte) error {
	entry := Entry{Fingerprint: fingerprint, StatusCode: statusCode, Body: body, StoredAt: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), data)
	})
}

// Sweep removes every entry older than the configured TTL; intended to
// run on a periodic background tick rather than purely lazily, keeping
// the file from growing unbounded under low read traffic.
func (s *Store) Sweep() (removed int, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry Entry
			if jsonErr := json.Unmarshal(v, &entry); jsonErr != nil {
				continue
			}
			if time.Since(entry.StoredAt) > s.ttl {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if delErr := b.Delete(k); delErr != nil {
				return delErr
			}
			removed++
		}
		return nil
	})
	return removed, err
}
