// Package mock provides a simulated wallet engine. It backs the daemon's
// --mock mode and serves as the deterministic test double for the session
// orchestrator: failures, slow calls and partial outages are injected per
// operation.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/walletd/walletd/internal/engine"
)

// Op names an engine operation for failure and delay injection.
type Op string

const (
	OpPrepare         Op = "prepare"
	OpOpen            Op = "open"
	OpStop            Op = "stop"
	OpDeleteAll       Op = "delete_all"
	OpBalance         Op = "get_balance"
	OpPrice           Op = "get_bitcoin_price"
	OpCheckSubscribed Op = "check_subscribed"
	OpListOnchain     Op = "list_onchain"
	OpListInvoices    Op = "list_invoices"
	OpTagItems        Op = "get_tag_items"
)

// Provider is a simulated engine.Provider. The zero value is not usable;
// call NewProvider.
type Provider struct {
	mu sync.Mutex

	// Credential, when non-empty, must be supplied to Open.
	credential string
	failures   map[Op]error
	delays     map[Op]time.Duration
	calls      map[Op]int

	network      string
	balance      engine.Balance
	prices       map[string]float64
	subscription time.Time
	onchain      []engine.OnChainTx
	invoices     []engine.Invoice
	tags         []engine.TagItem

	opened       []*Engine
	lastSettings engine.Settings
	lastSafeMode bool
}

var _ engine.Provider = (*Provider)(nil)

func NewProvider() *Provider {
	return &Provider{
		failures: make(map[Op]error),
		delays:   make(map[Op]time.Duration),
		calls:    make(map[Op]int),
		network:  "signet",
		prices:   map[string]float64{"usd": 65000, "eur": 60000, "gbp": 52000},
	}
}

// RequireCredential makes Open fail with KindWrongCredential unless the
// given credential is supplied.
func (p *Provider) RequireCredential(credential string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.credential = credential
	return p
}

// Fail makes op return err until cleared with Fail(op, nil).
func (p *Provider) Fail(op Op, err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
	} else {
		p.failures[op] = err
	}
	return p
}

// Delay makes op block for d (or until its context ends).
func (p *Provider) Delay(op Op, d time.Duration) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays[op] = d
	return p
}

func (p *Provider) SetNetwork(network string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.network = network
	return p
}

func (p *Provider) SetBalance(b engine.Balance) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = b
	return p
}

func (p *Provider) SetPrice(fiat string, price float64) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[strings.ToLower(fiat)] = price
	return p
}

func (p *Provider) SetSubscription(expiresAt time.Time) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscription = expiresAt
	return p
}

func (p *Provider) SetActivity(txs []engine.OnChainTx, invoices []engine.Invoice, tags []engine.TagItem) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onchain = txs
	p.invoices = invoices
	p.tags = tags
	return p
}

// Calls reports how many times op was invoked.
func (p *Provider) Calls(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Opened returns the engines handed out by Open, oldest first.
func (p *Provider) Opened() []*Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Engine, len(p.opened))
	copy(out, p.opened)
	return out
}

// LastOpen returns the settings and safe-mode flag of the latest Open call.
func (p *Provider) LastOpen() (engine.Settings, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSettings, p.lastSafeMode
}

// enter records a call and applies injected delay and failure.
func (p *Provider) enter(ctx context.Context, op Op) error {
	p.mu.Lock()
	p.calls[op]++
	delay := p.delays[op]
	failure := p.failures[op]
	p.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return &engine.Error{Kind: engine.KindNetworkUnavailable, Op: string(op), Err: ctx.Err()}
		}
	}
	return failure
}

func (p *Provider) Prepare(ctx context.Context) error {
	return p.enter(ctx, OpPrepare)
}

func (p *Provider) Open(ctx context.Context, settings engine.Settings, credential string, safeMode bool) (engine.Engine, error) {
	if err := p.enter(ctx, OpOpen); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSettings = settings
	p.lastSafeMode = safeMode
	if p.credential != "" && credential != p.credential {
		return nil, engine.Errorf(engine.KindWrongCredential, string(OpOpen), "Incorrect password entered.")
	}
	e := &Engine{provider: p}
	p.opened = append(p.opened, e)
	return e, nil
}

// Engine is a simulated running engine sharing its Provider's data.
type Engine struct {
	provider *Provider

	mu      sync.Mutex
	stopped bool
	deleted bool
}

var _ engine.Engine = (*Engine)(nil)

func (e *Engine) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *Engine) Deleted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleted
}

func (e *Engine) Network() string {
	e.provider.mu.Lock()
	defer e.provider.mu.Unlock()
	return e.provider.network
}

func (e *Engine) Stop(ctx context.Context) error {
	if err := e.provider.enter(ctx, OpStop); err != nil {
		return err
	}
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) DeleteAll(ctx context.Context) error {
	if err := e.provider.enter(ctx, OpDeleteAll); err != nil {
		return err
	}
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()

	p := e.provider
	p.mu.Lock()
	p.balance = engine.Balance{}
	p.onchain = nil
	p.invoices = nil
	p.tags = nil
	p.subscription = time.Time{}
	p.mu.Unlock()
	return nil
}

func (e *Engine) running(op Op) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return &engine.Error{Kind: engine.KindNotRunning, Op: string(op)}
	}
	return nil
}

func (e *Engine) Balance(ctx context.Context) (engine.Balance, error) {
	if err := e.provider.enter(ctx, OpBalance); err != nil {
		return engine.Balance{}, err
	}
	if err := e.running(OpBalance); err != nil {
		return engine.Balance{}, err
	}
	e.provider.mu.Lock()
	defer e.provider.mu.Unlock()
	return e.provider.balance, nil
}

func (e *Engine) BitcoinPrice(ctx context.Context, fiat string) (float64, error) {
	if err := e.provider.enter(ctx, OpPrice); err != nil {
		return 0, err
	}
	if err := e.running(OpPrice); err != nil {
		return 0, err
	}
	e.provider.mu.Lock()
	defer e.provider.mu.Unlock()
	price, ok := e.provider.prices[strings.ToLower(fiat)]
	if !ok {
		return 0, engine.Errorf(engine.KindOther, string(OpPrice), "no price for %q", fiat)
	}
	return price, nil
}

func (e *Engine) CheckSubscribed(ctx context.Context) (time.Time, bool, error) {
	if err := e.provider.enter(ctx, OpCheckSubscribed); err != nil {
		return time.Time{}, false, err
	}
	if err := e.running(OpCheckSubscribed); err != nil {
		return time.Time{}, false, err
	}
	e.provider.mu.Lock()
	defer e.provider.mu.Unlock()
	if e.provider.subscription.IsZero() {
		return time.Time{}, false, nil
	}
	return e.provider.subscription, true, nil
}

func (e *Engine) ListOnchain(ctx context.Context) ([]engine.OnChainTx, error) {
	if err := e.provider.enter(ctx, OpListOnchain); err != nil {
		return nil, err
	}
	e.provider.mu.Lock()
	defer e.provider.mu.Unlock()
	out := make([]engine.OnChainTx, len(e.provider.onchain))
	copy(out, e.provider.onchain)
	return out, nil
}

func (e *Engine) ListInvoices(ctx context.Context) ([]engine.Invoice, error) {
	if err := e.provider.enter(ctx, OpListInvoices); err != nil {
		return nil, err
	}
	e.provider.mu.Lock()
	defer e.provider.mu.Unlock()
	out := make([]engine.Invoice, len(e.provider.invoices))
	copy(out, e.provider.invoices)
	return out, nil
}

func (e *Engine) TagItems(ctx context.Context) ([]engine.TagItem, error) {
	if err := e.provider.enter(ctx, OpTagItems); err != nil {
		return nil, err
	}
	e.provider.mu.Lock()
	defer e.provider.mu.Unlock()
	out := make([]engine.TagItem, len(e.provider.tags))
	copy(out, e.provider.tags)
	return out, nil
}
