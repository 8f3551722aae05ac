package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletd/walletd/internal/mock"
)

func TestMountBootsAndSyncs(t *testing.T) {
	p := mock.NewProvider().SetBalance(funded)
	s, _ := newTestStore(t, p)
	s.syncInterval = 10 * time.Millisecond
	s.recheckSpec = "@every 1h"

	require.NoError(t, s.Mount(context.Background()))
	require.True(t, s.Snapshot().EngineRunning)
	require.NotNil(t, s.cron)

	require.Eventually(t, func() bool { return s.Snapshot().LastSyncAt != nil }, time.Second, 5*time.Millisecond)

	eng := p.Opened()[0]
	s.Teardown(context.Background())
	assert.True(t, eng.Stopped())

	snap := s.Snapshot()
	assert.False(t, snap.EngineRunning)
	assert.Nil(t, snap.Balance)
	assert.Nil(t, snap.LastSyncAt)
	assert.False(t, snap.IsSyncing)

	calls := p.Calls(mock.OpBalance)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, p.Calls(mock.OpBalance), "sync loop stopped")
}

func TestMountTwiceStartsOneEngine(t *testing.T) {
	p := mock.NewProvider()
	s, _ := newTestStore(t, p)

	require.NoError(t, s.Mount(context.Background()))
	require.NoError(t, s.Mount(context.Background()))
	assert.Len(t, p.Opened(), 1)
}

func TestMountSkipsBootAfterFailure(t *testing.T) {
	p := mock.NewProvider().Fail(mock.OpPrepare, assert.AnError)
	s, _ := newTestStore(t, p)

	require.NoError(t, s.Mount(context.Background()))
	require.NotNil(t, s.Snapshot().BootError)
	s.Teardown(context.Background())

	require.NoError(t, s.Mount(context.Background()))
	assert.Equal(t, 1, p.Calls(mock.OpPrepare))
}

func TestTeardownDuringOpenCancelsBoot(t *testing.T) {
	p := mock.NewProvider().SetBalance(funded).Delay(mock.OpOpen, 200*time.Millisecond)
	s, _ := newTestStore(t, p)
	s.syncInterval = 10 * time.Millisecond

	mounted := make(chan error, 1)
	go func() { mounted <- s.Mount(context.Background()) }()

	require.Eventually(t, func() bool { return p.Calls(mock.OpOpen) == 1 }, time.Second, 5*time.Millisecond)
	s.Teardown(context.Background())

	select {
	case err := <-mounted:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Mount did not return after Teardown")
	}

	snap := s.Snapshot()
	assert.False(t, snap.EngineRunning)
	assert.Nil(t, snap.BootError, "teardown is not a boot failure")
	for _, eng := range p.Opened() {
		assert.True(t, eng.Stopped())
	}

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, p.Calls(mock.OpBalance), "no sync loop after teardown")
	s.bgMu.Lock()
	assert.Nil(t, s.bgCancel)
	s.bgMu.Unlock()
}

func TestTeardownAfterOpenStopsUncommittedEngine(t *testing.T) {
	p := mock.NewProvider().SetBalance(funded).Delay(mock.OpBalance, 200*time.Millisecond)
	s, _ := newTestStore(t, p)
	s.syncInterval = 10 * time.Millisecond

	mounted := make(chan error, 1)
	go func() { mounted <- s.Mount(context.Background()) }()

	require.Eventually(t, func() bool { return p.Calls(mock.OpBalance) == 1 }, time.Second, 5*time.Millisecond)
	s.Teardown(context.Background())
	require.NoError(t, <-mounted)

	require.Len(t, p.Opened(), 1)
	assert.True(t, p.Opened()[0].Stopped(), "engine opened by the abandoned boot is stopped")
	snap := s.Snapshot()
	assert.False(t, snap.EngineRunning)
	assert.Nil(t, snap.BootError)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, p.Calls(mock.OpBalance), "no sync loop after teardown")
}

func TestTeardownWithoutEngine(t *testing.T) {
	s, _ := newTestStore(t, mock.NewProvider())
	s.Teardown(context.Background())
	assert.False(t, s.Snapshot().EngineRunning)
}
