package tablelock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() Key {
	return Key{ProjectID: "p1", Bucket: "in_c", Table: "users"}
}

func TestAcquireRelease(t *testing.T) {
	m := New()
	h, err := m.Acquire(context.Background(), testKey(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, h)
	h.Release()
}

func TestTryAcquireBusy(t *testing.T) {
	m := New()
	key := testKey()

	h1, err := m.TryAcquire(key)
	require.NoError(t, err)

	_, err = m.TryAcquire(key)
	require.Error(t, err)
	e, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindConflict, e.Kind)

	h1.Release()

	h2, err := m.TryAcquire(key)
	require.NoError(t, err)
	h2.Release()
}

func TestAcquireTimesOut(t *testing.T) {
	m := New()
	key := testKey()

	h1, err := m.Acquire(context.Background(), key, time.Second)
	require.NoError(t, err)
	defer h1.Release()

	_, err = m.Acquire(context.Background(), key, 20*time.Millisecond)
	require.Error(t, err)
	e, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindLockTimeout, e.Kind)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	m := New()
	key := testKey()

	h1, err := m.Acquire(context.Background(), key, time.Second)
	require.NoError(t, err)
	defer h1.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = m.Acquire(ctx, key, 5*time.Second)
	require.Error(t, err)
}

func TestDifferentKeysDoNotContend(t *testing.T) {
	m := New()
	k1 := Key{ProjectID: "p1", Bucket: "in_c", Table: "a"}
	k2 := Key{ProjectID: "p1", Bucket: "in_c", Table: "b"}

	h1, err := m.Acquire(context.Background(), k1, time.Second)
	require.NoError(t, err)
	defer h1.Release()

	h2, err := m.Acquire(context.Background(), k2, time.Second)
	require.NoError(t, err)
	defer h2.Release()
}

func TestSerializesAccessAcrossGoroutines(t *testing.T) {
	m := New()
	key := testKey()

	var mu sync.Mutex
	counter := 0
	maxObserved := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Acquire(context.Background(), key, 5*time.Second)
			if err != nil {
				return
			}
			mu.Lock()
			counter++
			if counter > maxObserved {
				maxObserved = counter
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			counter--
			mu.Unlock()
			h.Release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxObserved)
}
