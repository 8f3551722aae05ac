package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentHandlerUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/api/price/{currency}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/price/{currency}", "418"))
	for _, cur := range []string{"usd", "eur"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/price/"+cur, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/price/{currency}", "418"))
	assert.Equal(t, 2.0, after-before)
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(syncTicks.WithLabelValues("skipped"))
	RecordSyncTick("skipped")
	assert.Equal(t, 1.0, testutil.ToFloat64(syncTicks.WithLabelValues("skipped"))-before)

	SetSyncHealth(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(syncHealth))

	g := testutil.ToFloat64(guardDetections)
	RecordGuardDetection()
	assert.Equal(t, 1.0, testutil.ToFloat64(guardDetections)-g)

	RecordEngineCall("get_balance", errors.New("x"), 10*time.Millisecond)
	RecordBootStage("setup", "ok", time.Second)
	RecordBootResult("ok")
	RecordSubscriptionCheck("grace")
	StreamClientConnected()
	StreamClientDisconnected()
	assert.Equal(t, 0.0, testutil.ToFloat64(streamClients))
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordBootResult("ok")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "walletd_boot_results_total"))
}
