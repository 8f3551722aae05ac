package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletd/walletd/internal/engine"
	"github.com/walletd/walletd/internal/kv"
	"github.com/walletd/walletd/internal/logging"
	"github.com/walletd/walletd/internal/mock"
)

var funded = engine.Balance{Confirmed: 50_000, Lightning: 10_000}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, p *mock.Provider, opts ...Option) (*Store, *kv.MemoryStore) {
	t.Helper()
	store := kv.NewMemoryStore()
	return newTestStoreWithKV(t, store, p, opts...), store
}

func newTestStoreWithKV(t *testing.T, store kv.Store, p *mock.Provider, opts ...Option) *Store {
	t.Helper()
	base := []Option{WithLogger(logging.Discard())}
	s, err := New(context.Background(), store, p, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Teardown(context.Background()) })
	return s
}

// bootedStore returns a store with a running engine.
func bootedStore(t *testing.T, p *mock.Provider, opts ...Option) (*Store, *kv.MemoryStore) {
	t.Helper()
	s, store := newTestStore(t, p, opts...)
	require.NoError(t, s.Setup(context.Background(), ""))
	require.True(t, s.Snapshot().EngineRunning, "boot failed: %+v", s.Snapshot().BootError)
	return s, store
}

// assertEngineInvariant checks that a running engine implies a clean, done
// boot.
func assertEngineInvariant(t *testing.T, snap Snapshot) {
	t.Helper()
	if snap.EngineRunning {
		assert.Nil(t, snap.BootError)
		assert.False(t, snap.ExistingInstanceDetected)
		assert.Equal(t, StageDone, snap.LoadStage)
	}
}

func setJSON(t *testing.T, store kv.Store, key string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), key, string(data)))
}

type failingChecker struct{ err error }

func (f failingChecker) Run(context.Context) error { return f.err }
