package idempotency

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "idempotency.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	s := newStore(t, time.Minute)
	_, found := s.Lookup("missing")
	assert.False(t, found)
}

func TestStoreThenLookupRoundTrips(t *testing.T) {
	s := newStore(t, time.Minute)
	fp := Fingerprint([]byte(`{"name":"bucket1"}`))
	require.NoError(t, s.Store("idem-1", fp, 201, []byte(`{"id":"b1"}`)))

	entry, found := s.Lookup("idem-1")
	require.True(t, found)
	assert.Equal(t, fp, entry.Fingerprint)
	assert.Equal(t, 201, entry.StatusCode)
	assert.Equal(t, `{"id":"b1"}`, string(entry.Body))
}

func TestLookupEvictsExpiredEntry(t *testing.T) {
	s := newStore(t, time.Millisecond)
	require.NoError(t, s.Store("idem-1", "fp", 200, []byte("ok")))
	time.Sleep(5 * time.Millisecond)

	_, found := s.Lookup("idem-1")
	assert.False(t, found)
}

func TestSweepRemovesOnlyStaleEntries(t *testing.T) {
	s := newStore(t, 5*time.Millisecond)
	require.NoError(t, s.Store("stale", "fp", 200, []byte("old")))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Store("fresh", "fp", 200, []byte("new")))

	removed, err := s.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, staleFound := s.Lookup("stale")
	assert.False(t, staleFound)
	_, freshFound := s.Lookup("fresh")
	assert.True(t, freshFound)
}

func TestFingerprintIsDeterministic(t *testing.T) {
	body := []byte(`{"a":1}`)
	assert.Equal(t, Fingerprint(body), Fingerprint(body))
	assert.NotEqual(t, Fingerprint(body), Fingerprint([]byte(`{"a":2}`)))
}
