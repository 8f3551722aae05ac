package channel

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletd/walletd/internal/logging"
)

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func assertSilent(t *testing.T, ch <-chan Message) {
	t.Helper()
	select {
	case m, ok := <-ch:
		if ok {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryHubDeliversToPeersOnly(t *testing.T) {
	hub := NewHub()
	a, b := hub.Connect(), hub.Connect()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	subA, err := a.Subscribe(ctx)
	require.NoError(t, err)
	subB, err := b.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Publish(ctx, Message{Type: MsgNewTab, From: "a"}))

	assert.Equal(t, Message{Type: MsgNewTab, From: "a"}, recv(t, subB))
	assertSilent(t, subA)
}

func TestMemorySubscriptionEndsWithContext(t *testing.T) {
	bus := NewHub().Connect()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func TestMemoryClosedBus(t *testing.T) {
	hub := NewHub()
	a, b := hub.Connect(), hub.Connect()
	defer b.Close()

	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.Publish(context.Background(), Message{Type: MsgNewTab}), ErrClosed)
	_, err = a.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, hub.Connect().Publish(context.Background(), Message{Type: MsgExistingTab, From: "c"}))
	assert.Equal(t, MsgExistingTab, recv(t, sub).Type)
}

func TestDecode(t *testing.T) {
	m, err := decode([]byte(`{"type":"EXISTING_TAB","from":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, Message{Type: MsgExistingTab, From: "x"}, m)

	_, err = decode([]byte(`{"from":"x"}`))
	assert.Error(t, err)
	_, err = decode([]byte(`not json`))
	assert.Error(t, err)
}

func startRelay(t *testing.T) (*Relay, string) {
	t.Helper()
	relay := NewRelay(logging.Discard())
	srv := httptest.NewServer(relay)
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
	})
	return relay, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitClients(t *testing.T, r *Relay, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestWSRelay(t *testing.T) {
	relay, url := startRelay(t)
	ctx := context.Background()
	log := logging.Discard()

	a, err := DialWS(ctx, url, "tab-detector", log)
	require.NoError(t, err)
	defer a.Close()
	b, err := DialWS(ctx, url, "tab-detector", log)
	require.NoError(t, err)
	defer b.Close()
	other, err := DialWS(ctx, url, "elsewhere", log)
	require.NoError(t, err)
	defer other.Close()
	waitClients(t, relay, 3)

	subA, err := a.Subscribe(ctx)
	require.NoError(t, err)
	subB, err := b.Subscribe(ctx)
	require.NoError(t, err)
	subOther, err := other.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Publish(ctx, Message{Type: MsgNewTab, From: "a"}))
	assert.Equal(t, Message{Type: MsgNewTab, From: "a"}, recv(t, subB))

	require.NoError(t, b.Publish(ctx, Message{Type: MsgExistingTab, From: "b"}))
	assert.Equal(t, Message{Type: MsgExistingTab, From: "b"}, recv(t, subA))

	assertSilent(t, subOther)
}

func TestWSRelayDropsClosedClients(t *testing.T) {
	relay, url := startRelay(t)
	a, err := DialWS(context.Background(), url, "tab-detector", logging.Discard())
	require.NoError(t, err)
	waitClients(t, relay, 1)

	require.NoError(t, a.Close())
	waitClients(t, relay, 0)
	assert.ErrorIs(t, a.Publish(context.Background(), Message{Type: MsgNewTab}), ErrClosed)
}

func TestRedisBus(t *testing.T) {
	addr := os.Getenv("WALLETD_TEST_REDIS")
	if addr == "" {
		t.Skip("WALLETD_TEST_REDIS not set")
	}
	name := "walletd-test-" + time.Now().Format("150405.000")
	a, err := NewRedisBus(addr, name)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisBus(addr, name)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	sub, err := b.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Publish(ctx, Message{Type: MsgNewTab, From: "a"}))
	assert.Equal(t, Message{Type: MsgNewTab, From: "a"}, recv(t, sub))
}
