// Package httpengine talks to a wallet engine daemon over its JSON HTTP API.
package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/walletd/walletd/internal/engine"
)

// Provider opens engines served by a daemon at baseURL
// (e.g. "http://127.0.0.1:9735").
type Provider struct {
	baseURL string
	client  *http.Client
}

var _ engine.Provider = (*Provider)(nil)

// NewProvider creates a provider targeting baseURL. A zero timeout leaves
// per-call deadlines to the caller's context.
func NewProvider(baseURL string, timeout time.Duration) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Prepare checks that the engine daemon is reachable and its runtime loaded.
func (p *Provider) Prepare(ctx context.Context) error {
	return p.do(ctx, "prepare", http.MethodPost, "/v1/prepare", nil, nil)
}

type openRequest struct {
	Settings   engine.Settings `json:"settings"`
	Credential string          `json:"credential,omitempty"`
	SafeMode   bool            `json:"safeMode"`
}

type openResponse struct {
	Network string `json:"network"`
}

func (p *Provider) Open(ctx context.Context, settings engine.Settings, credential string, safeMode bool) (engine.Engine, error) {
	var resp openResponse
	req := openRequest{Settings: settings, Credential: credential, SafeMode: safeMode}
	if err := p.do(ctx, "open", http.MethodPost, "/v1/open", req, &resp); err != nil {
		return nil, err
	}
	network := resp.Network
	if network == "" {
		network = settings.Network
	}
	return &Engine{provider: p, network: network}, nil
}

// Engine is a remote engine opened through Provider.Open.
type Engine struct {
	provider *Provider
	network  string
}

var _ engine.Engine = (*Engine)(nil)

func (e *Engine) Network() string { return e.network }

func (e *Engine) Stop(ctx context.Context) error {
	return e.provider.do(ctx, "stop", http.MethodPost, "/v1/stop", nil, nil)
}

func (e *Engine) DeleteAll(ctx context.Context) error {
	return e.provider.do(ctx, "delete_all", http.MethodPost, "/v1/delete", nil, nil)
}

func (e *Engine) Balance(ctx context.Context) (engine.Balance, error) {
	var b engine.Balance
	err := e.provider.do(ctx, "get_balance", http.MethodGet, "/v1/balance", nil, &b)
	return b, err
}

func (e *Engine) BitcoinPrice(ctx context.Context, fiat string) (float64, error) {
	var resp struct {
		Price float64 `json:"price"`
	}
	path := "/v1/price/" + url.PathEscape(strings.ToLower(fiat))
	if err := e.provider.do(ctx, "get_bitcoin_price", http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Price, nil
}

func (e *Engine) CheckSubscribed(ctx context.Context) (time.Time, bool, error) {
	var resp struct {
		ExpiresAt *int64 `json:"expiresAt"`
	}
	if err := e.provider.do(ctx, "check_subscribed", http.MethodGet, "/v1/subscription", nil, &resp); err != nil {
		return time.Time{}, false, err
	}
	if resp.ExpiresAt == nil || *resp.ExpiresAt == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(*resp.ExpiresAt, 0), true, nil
}

func (e *Engine) ListOnchain(ctx context.Context) ([]engine.OnChainTx, error) {
	var out []engine.OnChainTx
	err := e.provider.do(ctx, "list_onchain", http.MethodGet, "/v1/onchain", nil, &out)
	return out, err
}

func (e *Engine) ListInvoices(ctx context.Context) ([]engine.Invoice, error) {
	var out []engine.Invoice
	err := e.provider.do(ctx, "list_invoices", http.MethodGet, "/v1/invoices", nil, &out)
	return out, err
}

func (e *Engine) TagItems(ctx context.Context) ([]engine.TagItem, error) {
	var out []engine.TagItem
	err := e.provider.do(ctx, "get_tag_items", http.MethodGet, "/v1/tags", nil, &out)
	return out, err
}

func (p *Provider) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &engine.Error{Kind: engine.KindOther, Op: op, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return &engine.Error{Kind: engine.KindOther, Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &engine.Error{Kind: transportKind(err), Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &engine.Error{Kind: engine.KindNetworkUnavailable, Op: op, Err: err}
	}

	if resp.StatusCode >= 300 {
		return decodeError(op, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &engine.Error{Kind: engine.KindOther, Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// decodeError reads the daemon's error envelope:
//
//	{"error": {"kind": "wrong_credential", "message": "Incorrect password entered."}}
//
// Responses without an envelope are classified from the status code.
func decodeError(op string, status int, body []byte) error {
	kind := gjson.GetBytes(body, "error.kind")
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	err := fmt.Errorf("%d: %s", status, msg)
	if kind.Exists() {
		return &engine.Error{Kind: engine.ParseKind(kind.String()), Op: op, Err: err}
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &engine.Error{Kind: engine.KindWrongCredential, Op: op, Err: err}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &engine.Error{Kind: engine.KindNetworkUnavailable, Op: op, Err: err}
	case http.StatusConflict:
		return &engine.Error{Kind: engine.KindNotRunning, Op: op, Err: err}
	}
	return &engine.Error{Kind: engine.KindOther, Op: op, Err: err}
}

func transportKind(err error) engine.Kind {
	if errors.Is(err, context.Canceled) {
		return engine.KindOther
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return engine.KindNetworkUnavailable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return engine.KindNetworkUnavailable
	}
	return engine.KindOther
}
