package httpengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletd/walletd/internal/engine"
)

func newTestDaemon(t *testing.T, mux *http.ServeMux) *Provider {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewProvider(srv.URL+"/", 5*time.Second)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestOpenAndQueries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/open", func(w http.ResponseWriter, r *http.Request) {
		var req openRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hunter2", req.Credential)
		assert.True(t, req.SafeMode)
		assert.Equal(t, "signet", req.Settings.Network)
		writeJSON(w, http.StatusOK, openResponse{Network: "signet"})
	})
	mux.HandleFunc("/v1/balance", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, engine.Balance{Confirmed: 1000, Lightning: 50})
	})
	mux.HandleFunc("/v1/price/eur", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]float64{"price": 61234.5})
	})
	mux.HandleFunc("/v1/subscription", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int64{"expiresAt": 1700000000})
	})
	mux.HandleFunc("/v1/onchain", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []engine.OnChainTx{{Txid: "aa", Received: 5, Labels: []string{"l1"}}})
	})
	mux.HandleFunc("/v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []engine.Invoice{{PaymentHash: "ph", Paid: true, Expire: 10}})
	})
	mux.HandleFunc("/v1/tags", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []engine.TagItem{{ID: "l1", Name: "rent"}})
	})

	p := newTestDaemon(t, mux)
	ctx := context.Background()

	eng, err := p.Open(ctx, engine.Settings{Network: "signet"}, "hunter2", true)
	require.NoError(t, err)
	assert.Equal(t, "signet", eng.Network())

	bal, err := eng.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), bal.Confirmed)
	assert.Equal(t, uint64(50), bal.Lightning)

	price, err := eng.BitcoinPrice(ctx, "EUR")
	require.NoError(t, err)
	assert.InDelta(t, 61234.5, price, 0.001)

	expires, ok, err := eng.CheckSubscribed(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), expires.Unix())

	txs, err := eng.ListOnchain(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, []string{"l1"}, txs[0].Labels)

	invoices, err := eng.ListInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.True(t, invoices[0].Paid)

	tags, err := eng.TagItems(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "rent", tags[0].Name)
}

func TestNoSubscription(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/open", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, openResponse{})
	})
	mux.HandleFunc("/v1/subscription", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"expiresAt": nil})
	})
	p := newTestDaemon(t, mux)

	eng, err := p.Open(context.Background(), engine.Settings{Network: "regtest"}, "", false)
	require.NoError(t, err)
	assert.Equal(t, "regtest", eng.Network(), "falls back to the requested network")

	_, ok, err := eng.CheckSubscribed(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind engine.Kind
	}{
		{"envelope wrong credential", http.StatusBadRequest, `{"error":{"kind":"wrong_credential","message":"Incorrect password entered."}}`, engine.KindWrongCredential},
		{"envelope incompatible", http.StatusInternalServerError, `{"error":{"kind":"incompatible","message":"no indexeddb"}}`, engine.KindIncompatible},
		{"envelope unknown kind", http.StatusInternalServerError, `{"error":{"kind":"cosmic_rays"}}`, engine.KindOther},
		{"unauthorized", http.StatusUnauthorized, ``, engine.KindWrongCredential},
		{"bad gateway", http.StatusBadGateway, `upstream down`, engine.KindNetworkUnavailable},
		{"conflict", http.StatusConflict, ``, engine.KindNotRunning},
		{"teapot", http.StatusTeapot, `short and stout`, engine.KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/v1/prepare", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			p := newTestDaemon(t, mux)

			err := p.Prepare(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, engine.KindOf(err))
		})
	}
}

func TestUnreachableDaemon(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewProvider(url, time.Second)
	err := p.Prepare(context.Background())
	require.Error(t, err)
	assert.Equal(t, engine.KindNetworkUnavailable, engine.KindOf(err))
}
