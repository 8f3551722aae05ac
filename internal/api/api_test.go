package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletd/walletd/internal/config"
	"github.com/walletd/walletd/internal/engine"
	"github.com/walletd/walletd/internal/kv"
	"github.com/walletd/walletd/internal/logging"
	"github.com/walletd/walletd/internal/mock"
	"github.com/walletd/walletd/internal/session"
	"github.com/walletd/walletd/internal/ws"
)

const testToken = "secret"

type testEnv struct {
	srv      *httptest.Server
	store    *session.Store
	provider *mock.Provider
	stream   *ws.Broadcaster
}

func newTestEnv(t *testing.T, cfg config.ServerConfig, privacy *session.PrivacyFilter, opts ...session.Option) *testEnv {
	t.Helper()
	p := mock.NewProvider().SetBalance(engine.Balance{Confirmed: 10_000})
	base := []session.Option{session.WithLogger(logging.Discard())}
	store, err := session.New(context.Background(), kv.NewMemoryStore(), p, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Teardown(context.Background()) })

	stream := ws.NewBroadcaster(store, privacy, 10*time.Millisecond, 0, 0, logging.Discard())
	t.Cleanup(stream.Stop)
	store.OnChange(stream.QueueUpdate)

	if cfg.AuthToken == "" {
		cfg.AuthToken = testToken
	}
	srv := httptest.NewServer(NewServer(store, stream, privacy, cfg, logging.Discard()).Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, provider: p, stream: stream}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)

	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["engineRunning"])
}

func TestHealthReportsFailedSync(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)
	require.NoError(t, env.store.Setup(context.Background(), ""))
	env.provider.Fail(mock.OpBalance, errors.New("engine busy"))
	for i := 0; i < 3; i++ {
		require.True(t, env.store.Sync(context.Background()))
	}

	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "engine busy", body["lastError"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)
	env.do(t, http.MethodGet, "/api/state", nil)

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "walletd_http_requests_total")
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)

	resp, err := http.Get(env.srv.URL + "/api/state")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(env.srv.URL + "/api/state?token=" + testToken)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/state", nil)
	req.Header.Set("X-Walletd-Token", testToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/state", nil).StatusCode)
}

func TestSetupAndReject(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)

	resp := env.do(t, http.MethodPost, "/api/setup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[session.Snapshot](t, resp)
	assert.True(t, snap.EngineRunning)
	assert.Equal(t, session.StageDone, snap.LoadStage)

	resp = env.do(t, http.MethodPost, "/api/setup", setupRequest{Password: "x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[errorResponse](t, resp)
	assert.Equal(t, "engine_already_running", body.Kind)
	assert.Equal(t, "reload", body.Recovery)
	assert.Len(t, env.provider.Opened(), 1)
}

func TestSetupRejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)
	resp := env.do(t, http.MethodPost, "/api/setup", map[string]string{"passphrase": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEngineRequiredEndpoints(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)

	for _, path := range []string{"/api/tags", "/api/activity", "/api/price/usd"} {
		resp := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, path)
	}
	resp := env.do(t, http.MethodPost, "/api/subscription/check", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPrice(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)

	resp := env.do(t, http.MethodGet, "/api/price/btc", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, priceResponse{Currency: "BTC", Price: 1}, decode[priceResponse](t, resp))

	env.do(t, http.MethodPost, "/api/setup", nil)
	resp = env.do(t, http.MethodGet, "/api/price/eur", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, priceResponse{Currency: "EUR", Price: 60000}, decode[priceResponse](t, resp))
}

func TestSaveFiat(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)

	resp := env.do(t, http.MethodPut, "/api/fiat", session.Currency{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.do(t, http.MethodPost, "/api/setup", nil)
	resp = env.do(t, http.MethodPut, "/api/fiat", session.Currency{Value: "GBP", HasSymbol: "£", MaxFractionalDigits: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GBP", env.store.Snapshot().Fiat.Value)
	assert.Equal(t, "GBP", env.store.Snapshot().Fiat.Label)
	assert.Equal(t, 52000.0, env.store.Snapshot().Price)
}

func TestPreferenceEndpoints(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/api/backed-up", nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/api/beta-warned", nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/api/npub", publicIDRequest{Npub: "npub1bob"}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/npub", publicIDRequest{}).StatusCode)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/api/invoice-display", invoiceDisplayRequest{Kind: "onchain"}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/invoice-display", invoiceDisplayRequest{Kind: "telegram"}).StatusCode)

	snap := env.store.Snapshot()
	assert.True(t, snap.HasBackedUp)
	assert.True(t, snap.BetaWarned)
	assert.Equal(t, "npub1bob", snap.PublicID)
	assert.Equal(t, session.InvoiceOnchain, snap.PreferredInvoiceDisplay)
}

func TestIncoming(t *testing.T) {
	navigated := make(chan string, 1)
	env := newTestEnv(t, config.ServerConfig{}, nil, session.WithNavigator(func(path string) { navigated <- path }))

	resp := env.do(t, http.MethodPost, "/api/incoming", incomingRequest{Input: " tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[incomingResponse](t, resp)
	require.NotNil(t, body.Result)
	assert.Equal(t, "signet", body.Result.Network)
	require.NotNil(t, env.store.Snapshot().ScanResult)

	resp = env.do(t, http.MethodPost, "/api/incoming", incomingRequest{Input: "hello world"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/incoming", incomingRequest{Input: "https://example.com/gift?code=1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, decode[incomingResponse](t, resp).Result)
	select {
	case path := <-navigated:
		assert.Equal(t, "/gift?code=1", path)
	default:
		t.Fatal("gift link did not navigate")
	}

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/incoming", nil).StatusCode)
	assert.Nil(t, env.store.Snapshot().ScanResult)
}

func TestActivityEndpoint(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)
	env.provider.SetActivity([]engine.OnChainTx{
		{Txid: "a", Received: 1, Confirmation: &engine.Confirmation{Height: 1, Time: 10}},
		{Txid: "b", Received: 1, Confirmation: &engine.Confirmation{Height: 2, Time: 20}},
	}, nil, nil)
	env.do(t, http.MethodPost, "/api/setup", nil)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/activity?limit=-1", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/activity?limit=x", nil).StatusCode)

	resp := env.do(t, http.MethodGet, "/api/activity?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := decode[[]map[string]any](t, resp)
	require.Len(t, items, 1)
}

func TestSyncAndDelete(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)

	resp := env.do(t, http.MethodPost, "/api/sync", nil)
	assert.Equal(t, false, decode[map[string]any](t, resp)["ran"])

	env.do(t, http.MethodPost, "/api/setup", nil)
	resp = env.do(t, http.MethodPost, "/api/sync", nil)
	assert.Equal(t, true, decode[map[string]any](t, resp)["ran"])

	resp = env.do(t, http.MethodPost, "/api/wallet/delete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[session.Snapshot](t, resp).Deleting)

	resp = env.do(t, http.MethodPost, "/api/setup", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPrivacyFilterOnState(t *testing.T) {
	filter := &session.PrivacyFilter{MaskPublicID: true, HideBalances: true}
	env := newTestEnv(t, config.ServerConfig{}, filter)
	require.NoError(t, env.store.SavePublicID(context.Background(), "npub1carol"))
	env.do(t, http.MethodPost, "/api/setup", nil)

	snap := decode[session.Snapshot](t, env.do(t, http.MethodGet, "/api/state", nil))
	assert.NotEqual(t, "npub1carol", snap.PublicID)
	assert.Nil(t, snap.Balance)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{RateLimit: 0.001, RateBurst: 1}, nil)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/state", nil).StatusCode)
	resp := env.do(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestStreamThroughRouter(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+testToken, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    ws.MessageType     `json:"type"`
		Payload ws.SnapshotPayload `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ws.MsgSnapshot, msg.Type)
	assert.False(t, msg.Payload.State.EngineRunning)

	env.do(t, http.MethodPost, "/api/setup", nil)
	require.Eventually(t, func() bool {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			return false
		}
		return msg.Payload.State.EngineRunning
	}, 3*time.Second, time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin", nil, "", "walletd:8080", true},
		{"same host", nil, "http://walletd:8080", "walletd:8080", true},
		{"localhost", nil, "http://localhost:3000", "walletd:8080", true},
		{"loopback v6", nil, "http://[::1]:3000", "walletd:8080", true},
		{"foreign", nil, "https://evil.example", "walletd:8080", false},
		{"allow list hit", []string{"https://app.example"}, "https://app.example", "walletd:8080", true},
		{"allow list host", []string{"https://app.example"}, "http://app.example", "walletd:8080", true},
		{"allow list miss", []string{"https://app.example"}, "http://localhost:3000", "walletd:8080", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, originChecker(tt.allowed)(r))
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Recovery(logging.Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
