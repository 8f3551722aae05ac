package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/walletd/walletd/internal/payparse"
	"github.com/walletd/walletd/internal/session"
)

func (s *Server) snapshot() session.Snapshot {
	snap := s.store.Snapshot()
	if !s.privacy.IsNoop() {
		snap = s.privacy.Apply(snap)
	}
	return snap
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	status := http.StatusOK
	if snap.SyncHealth == session.StatusFailed {
		status = http.StatusServiceUnavailable
	}
	body := map[string]any{
		"status":        snap.SyncHealth,
		"engineRunning": snap.EngineRunning,
		"loadStage":     snap.LoadStage,
	}
	if snap.SyncError != "" {
		body["lastError"] = snap.SyncError
	}
	writeJSON(w, status, body)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

type setupRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.store.Setup(r.Context(), req.Password); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleDeleteWallet(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteWallet(r.Context()); err != nil {
		s.log.WithError(err).Error("Delete wallet finished with errors")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ran := s.store.Sync(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ran": ran, "state": s.snapshot()})
}

func (s *Server) handleBackedUp(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetHasBackedUp(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBetaWarned(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetBetaWarned(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

type subscriptionRequest struct {
	JustPaid bool `json:"justPaid"`
}

type subscriptionResponse struct {
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Entitled  bool       `json:"entitled"`
}

func (s *Server) handleCheckSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.store.CheckForSubscription(r.Context(), req.JustPaid); err != nil {
		writeSessionError(w, err)
		return
	}
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, subscriptionResponse{ExpiresAt: snap.SubscriptionExpiresAt, Entitled: snap.Entitled})
}

type priceResponse struct {
	Currency string  `json:"currency"`
	Price    float64 `json:"price"`
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "currency"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "currency is required")
		return
	}
	price, err := s.store.FetchPrice(r.Context(), session.Currency{Value: code, Label: code})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{Currency: code, Price: price})
}

func (s *Server) handleSaveFiat(w http.ResponseWriter, r *http.Request) {
	var cur session.Currency
	if err := decodeJSON(r, &cur); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if cur.Value == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	if cur.Label == "" {
		cur.Label = cur.Value
	}
	if err := s.store.SaveFiat(r.Context(), cur); err != nil {
		writeSessionError(w, err)
		return
	}
	snap := s.snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"fiat": snap.Fiat, "price": snap.Price})
}

type publicIDRequest struct {
	Npub string `json:"npub"`
}

func (s *Server) handleSavePublicID(w http.ResponseWriter, r *http.Request) {
	var req publicIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Npub == "" {
		writeError(w, http.StatusBadRequest, "npub is required")
		return
	}
	if err := s.store.SavePublicID(r.Context(), req.Npub); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type invoiceDisplayRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) handleInvoiceDisplay(w http.ResponseWriter, r *http.Request) {
	var req invoiceDisplayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	kind, err := session.ParseInvoiceKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SetPreferredInvoiceDisplay(r.Context(), kind); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type incomingRequest struct {
	Input string `json:"input"`
}

type incomingResponse struct {
	Result *payparse.ParsedParams `json:"result"`
}

// handleIncoming parses a pasted or scanned string. A recognised payment
// becomes the scan result; gift links are announced on the stream.
func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request) {
	var req incomingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var (
		parseErr error
		result   *payparse.ParsedParams
	)
	s.store.HandleIncomingString(strings.TrimSpace(req.Input),
		func(err error) { parseErr = err },
		func(p payparse.ParsedParams) { result = &p },
	)
	if parseErr != nil {
		writeError(w, http.StatusUnprocessableEntity, parseErr.Error())
		return
	}
	if result != nil {
		s.store.SetScanResult(result)
	}
	writeJSON(w, http.StatusOK, incomingResponse{Result: result})
}

func (s *Server) handleClearScan(w http.ResponseWriter, r *http.Request) {
	s.store.SetScanResult(nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	items, err := s.store.Activity(r.Context(), limit)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
