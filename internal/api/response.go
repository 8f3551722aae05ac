package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/walletd/walletd/internal/session"
)

type errorResponse struct {
	Error    string `json:"error"`
	Kind     string `json:"kind,omitempty"`
	Recovery string `json:"recovery,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeSessionError maps session errors onto HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	var be *session.BootError
	switch {
	case errors.As(err, &be):
		info := be.Info()
		writeJSON(w, http.StatusConflict, errorResponse{Error: info.Message, Kind: info.Kind, Recovery: info.Recovery})
	case errors.Is(err, session.ErrNoEngine), errors.Is(err, session.ErrDeleting), errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// decodeJSON reads a JSON body. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
