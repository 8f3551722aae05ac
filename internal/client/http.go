// Package client talks to a running walletd over HTTP and the snapshot
// stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/walletd/walletd/internal/activity"
	"github.com/walletd/walletd/internal/engine"
	"github.com/walletd/walletd/internal/payparse"
	"github.com/walletd/walletd/internal/session"
)

// APIError is a non-2xx response.
type APIError struct {
	Status   int
	Message  string `json:"error"`
	Kind     string `json:"kind"`
	Recovery string `json:"recovery"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%d %s: %s (recovery: %s)", e.Status, e.Kind, e.Message, e.Recovery)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// HTTPClient makes REST calls to walletd.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// Health is the /health response.
type Health struct {
	Status        session.HealthStatus `json:"status"`
	EngineRunning bool                 `json:"engineRunning"`
	LoadStage     session.LoadStage    `json:"loadStage"`
	LastError     string               `json:"lastError,omitempty"`
}

func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	var h Health
	// A failed sync loop answers 503 with the same body.
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
		return &Health{Status: session.StatusFailed}, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// State fetches GET /api/state.
func (c *HTTPClient) State(ctx context.Context) (*session.Snapshot, error) {
	var s session.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/state", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Setup sends POST /api/setup and returns the state after boot.
func (c *HTTPClient) Setup(ctx context.Context, password string) (*session.Snapshot, error) {
	var s session.Snapshot
	body := map[string]string{"password": password}
	if err := c.do(ctx, http.MethodPost, "/api/setup", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteWallet sends POST /api/wallet/delete.
func (c *HTTPClient) DeleteWallet(ctx context.Context) (*session.Snapshot, error) {
	var s session.Snapshot
	if err := c.do(ctx, http.MethodPost, "/api/wallet/delete", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Sync triggers one sync tick and reports whether it ran.
func (c *HTTPClient) Sync(ctx context.Context) (bool, error) {
	var out struct {
		Ran bool `json:"ran"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/sync", nil, &out); err != nil {
		return false, err
	}
	return out.Ran, nil
}

func (c *HTTPClient) SetBackedUp(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/backed-up", nil, nil)
}

func (c *HTTPClient) SetBetaWarned(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/beta-warned", nil, nil)
}

func (c *HTTPClient) Tags(ctx context.Context) ([]engine.TagItem, error) {
	var out []engine.TagItem
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscription is the POST /api/subscription/check response.
type Subscription struct {
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Entitled  bool       `json:"entitled"`
}

func (c *HTTPClient) CheckSubscription(ctx context.Context, justPaid bool) (*Subscription, error) {
	var out Subscription
	body := map[string]bool{"justPaid": justPaid}
	if err := c.do(ctx, http.MethodPost, "/api/subscription/check", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Price fetches the bitcoin price in currency.
func (c *HTTPClient) Price(ctx context.Context, currency string) (float64, error) {
	var out struct {
		Price float64 `json:"price"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/price/"+url.PathEscape(currency), nil, &out); err != nil {
		return 0, err
	}
	return out.Price, nil
}

func (c *HTTPClient) SaveFiat(ctx context.Context, cur session.Currency) error {
	return c.do(ctx, http.MethodPut, "/api/fiat", cur, nil)
}

func (c *HTTPClient) SavePublicID(ctx context.Context, npub string) error {
	return c.do(ctx, http.MethodPut, "/api/npub", map[string]string{"npub": npub}, nil)
}

func (c *HTTPClient) SetInvoiceDisplay(ctx context.Context, kind session.InvoiceKind) error {
	return c.do(ctx, http.MethodPut, "/api/invoice-display", map[string]string{"kind": string(kind)}, nil)
}

// Incoming submits a pasted or scanned string. A nil result with no error
// means the input was a navigation link or named no destination.
func (c *HTTPClient) Incoming(ctx context.Context, input string) (*payparse.ParsedParams, error) {
	var out struct {
		Result *payparse.ParsedParams `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/incoming", map[string]string{"input": input}, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (c *HTTPClient) ClearScan(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/incoming", nil, nil)
}

// Activity fetches the merged feed; limit <= 0 returns everything.
func (c *HTTPClient) Activity(ctx context.Context, limit int) ([]activity.Item, error) {
	path := "/api/activity"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []activity.Item
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(respBody))
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
