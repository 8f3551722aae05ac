// Package session owns the wallet session: the engine handle, the boot
// state machine, the sync loop and the user preferences. Store is the single
// writer of that state; everything else reads snapshots and calls actions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/walletd/walletd/internal/config"
	"github.com/walletd/walletd/internal/engine"
	"github.com/walletd/walletd/internal/kv"
	"github.com/walletd/walletd/internal/metrics"
	"github.com/walletd/walletd/internal/payparse"
)

// Persistent keys.
const (
	KeyFiatCurrency          = "fiat_currency"
	KeyHasBackedUp           = "has_backed_up"
	KeySubscriptionTimestamp = "subscription_timestamp"
	KeyPublicID              = "npub"
	KeyBetaWarned            = "betaWarned"
	KeyPreferredInvoiceType  = "preferred_invoice_type"
	KeySettings              = "settings"
)

// Guard is the cross-instance handshake run before boot.
type Guard interface {
	Start(ctx context.Context) error
	Wait(ctx context.Context) bool
	Close() error
}

// EnvChecker verifies the host before the engine runtime is prepared.
type EnvChecker interface {
	Run(ctx context.Context) error
}

// Navigator receives internal navigation intents, such as a /gift link.
type Navigator func(path string)

// Option configures a Store.
type Option func(*Store)

func WithGuard(g Guard) Option              { return func(s *Store) { s.guard = g } }
func WithEnvChecker(c EnvChecker) Option    { return func(s *Store) { s.checker = c } }
func WithParser(p payparse.Parser) Option   { return func(s *Store) { s.parser = p } }
func WithNavigator(n Navigator) Option      { return func(s *Store) { s.navigate = n } }
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

// WithSafeMode opens the engine in safe mode.
func WithSafeMode(on bool) Option {
	return func(s *Store) { s.st.safeMode = on }
}

// WithConfig applies timing, schedule and default engine settings from cfg.
func WithConfig(cfg *config.Config) Option {
	return func(s *Store) {
		s.syncInterval = cfg.Sync.Interval
		s.failureThreshold = cfg.Sync.FailureThreshold
		s.stageTimeout = cfg.Boot.StageTimeout
		s.callTimeout = cfg.Engine.CallTimeout
		s.recheckSpec = cfg.Subscription.Recheck
		s.st.safeMode = cfg.Boot.SafeMode
		s.defaultSettings = engine.Settings{
			Network:          cfg.Settings.Network,
			Proxy:            cfg.Settings.Proxy,
			Esplora:          cfg.Settings.Esplora,
			RGS:              cfg.Settings.RGS,
			LSP:              cfg.Settings.LSP,
			AuthURL:          cfg.Settings.AuthURL,
			SubscriptionsURL: cfg.Settings.SubscriptionsURL,
			StorageURL:       cfg.Settings.StorageURL,
		}
	}
}

// Store is the wallet session. It owns the engine handle and the session
// record; every read returns a copy.
type Store struct {
	mu sync.RWMutex
	st state

	kv       kv.Store
	provider engine.Provider
	guard    Guard
	checker  EnvChecker
	parser   payparse.Parser
	navigate Navigator
	log      logrus.FieldLogger
	now      func() time.Time

	syncInterval     time.Duration
	failureThreshold int
	stageTimeout     time.Duration
	callTimeout      time.Duration
	recheckSpec      string
	defaultSettings  engine.Settings

	health       *tickHealth
	prices       singleflight.Group
	guardStarted bool

	listenersMu sync.RWMutex
	listeners   []func()

	// life is cancelled by Teardown and bounds every boot.
	life    context.Context
	endLife context.CancelFunc

	bgMu     sync.Mutex
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	cron     *cron.Cron
}

// New creates the session with preferences read from store. The engine is
// not started until Setup or Mount.
func New(ctx context.Context, store kv.Store, provider engine.Provider, opts ...Option) (*Store, error) {
	s := &Store{
		kv:               store,
		provider:         provider,
		parser:           payparse.Default{},
		log:              logrus.StandardLogger(),
		now:              time.Now,
		syncInterval:     3 * time.Second,
		failureThreshold: 3,
		stageTimeout:     60 * time.Second,
		callTimeout:      30 * time.Second,
		defaultSettings:  engine.Settings{Network: payparse.NetworkSignet},
	}
	s.life, s.endLife = context.WithCancel(context.Background())
	s.st.fiat = USDOption
	s.st.preferredInvoice = InvoiceUnified
	s.st.walletLoading = true

	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "session")
	s.health = newTickHealth(s.failureThreshold)

	if err := s.loadPreferences(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadPreferences(ctx context.Context) error {
	get := func(key string) (string, error) { return kv.GetOr(ctx, s.kv, key, "") }

	raw, err := get(KeyFiatCurrency)
	if err != nil {
		return err
	}
	if raw != "" {
		var cur Currency
		if err := json.Unmarshal([]byte(raw), &cur); err != nil || cur.Value == "" {
			s.log.WithField("value", raw).Warn("Ignoring unreadable fiat currency")
		} else {
			s.st.fiat = cur
		}
	}

	if raw, err = get(KeyHasBackedUp); err != nil {
		return err
	}
	s.st.hasBackedUp = raw == "true"

	if raw, err = get(KeyBetaWarned); err != nil {
		return err
	}
	s.st.betaWarned = raw == "true"

	if s.st.publicID, err = get(KeyPublicID); err != nil {
		return err
	}

	if raw, err = get(KeyPreferredInvoiceType); err != nil {
		return err
	}
	if raw != "" {
		if kind, err := ParseInvoiceKind(raw); err == nil {
			s.st.preferredInvoice = kind
		}
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	snap := s.st.snapshotLocked(s.now(), s.health.status())
	s.mu.RUnlock()

	if msg, at := s.health.lastFailure(); msg != "" {
		snap.SyncError = msg
		snap.SyncFailAt = &at
	}
	return snap
}

// OnChange registers fn to run after every state transition. fn must not
// block.
func (s *Store) OnChange(fn func()) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

func (s *Store) notify() {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// update applies fn under the write lock and notifies listeners.
func (s *Store) update(fn func(st *state)) {
	s.mu.Lock()
	fn(&s.st)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) currentEngine() engine.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.engine
}

// call runs one engine operation under the call timeout.
func (s *Store) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	metrics.RecordEngineCall(op, err, time.Since(start))
	return err
}

// DeleteWallet stops the engine, wipes its data and clears every stored
// preference. The session stays in the deleting state: a new wallet needs a
// fresh process.
func (s *Store) DeleteWallet(ctx context.Context) error {
	var eng engine.Engine
	s.update(func(st *state) {
		st.deleting = true
		eng = st.engine
	})

	var errs []error
	if eng != nil {
		if err := s.call(ctx, "stop", eng.Stop); err != nil {
			s.log.WithError(err).Error("Failed to stop engine before delete")
			errs = append(errs, err)
		}
		if err := s.call(ctx, "delete_all", eng.DeleteAll); err != nil {
			s.log.WithError(err).Error("Failed to delete engine data")
			errs = append(errs, err)
		}
	}
	if err := s.kv.Clear(ctx); err != nil {
		s.log.WithError(err).Error("Failed to clear storage")
		errs = append(errs, err)
	}

	s.update(func(st *state) {
		st.engine = nil
		st.balance = nil
		st.price = 0
		st.lastSyncAt = time.Time{}
		st.subscriptionExpiresAt = nil
		st.hasBackedUp = false
		st.betaWarned = false
		st.publicID = ""
		st.fiat = USDOption
		st.preferredInvoice = InvoiceUnified
		st.settings = nil
		st.scanResult = nil
	})
	s.log.Info("Wallet deleted")
	return errors.Join(errs...)
}

// SetHasBackedUp records that the user backed up their seed.
func (s *Store) SetHasBackedUp(ctx context.Context) error {
	if err := s.kv.Set(ctx, KeyHasBackedUp, "true"); err != nil {
		return err
	}
	s.update(func(st *state) { st.hasBackedUp = true })
	return nil
}

// SetBetaWarned records that the beta warning was acknowledged.
func (s *Store) SetBetaWarned(ctx context.Context) error {
	if err := s.kv.Set(ctx, KeyBetaWarned, "true"); err != nil {
		return err
	}
	s.update(func(st *state) { st.betaWarned = true })
	return nil
}

// SavePublicID stores the user's public identifier (npub).
func (s *Store) SavePublicID(ctx context.Context, id string) error {
	if err := s.kv.Set(ctx, KeyPublicID, id); err != nil {
		return err
	}
	s.update(func(st *state) { st.publicID = id })
	return nil
}

// SetPreferredInvoiceDisplay stores the preferred receive format.
func (s *Store) SetPreferredInvoiceDisplay(ctx context.Context, kind InvoiceKind) error {
	if _, err := ParseInvoiceKind(string(kind)); err != nil {
		return err
	}
	if err := s.kv.Set(ctx, KeyPreferredInvoiceType, string(kind)); err != nil {
		return err
	}
	s.update(func(st *state) { st.preferredInvoice = kind })
	return nil
}

// SetScanResult stores the last parsed incoming string; nil clears it.
func (s *Store) SetScanResult(p *payparse.ParsedParams) {
	s.update(func(st *state) {
		if p == nil {
			st.scanResult = nil
			return
		}
		c := *p
		st.scanResult = &c
	})
}

// ListTags returns the engine's label index. Engine failures are logged and
// yield an empty index.
func (s *Store) ListTags(ctx context.Context) ([]engine.TagItem, error) {
	eng := s.currentEngine()
	if eng == nil {
		return nil, ErrNoEngine
	}
	var tags []engine.TagItem
	err := s.call(ctx, "get_tag_items", func(ctx context.Context) error {
		var err error
		tags, err = eng.TagItems(ctx)
		return err
	})
	if err != nil {
		s.log.WithError(err).Warn("Failed to list tags")
		return []engine.TagItem{}, nil
	}
	return tags, nil
}

// FetchPrice returns the bitcoin price in cur. The base asset is always 1.
// Concurrent lookups for one currency share a single engine call.
func (s *Store) FetchPrice(ctx context.Context, cur Currency) (float64, error) {
	if cur.IsBase() {
		return 1, nil
	}
	eng := s.currentEngine()
	if eng == nil {
		return 0, ErrNoEngine
	}
	return s.fetchPrice(ctx, eng, cur)
}

func (s *Store) fetchPrice(ctx context.Context, eng engine.Engine, cur Currency) (float64, error) {
	if cur.IsBase() {
		return 1, nil
	}
	code := fiatCode(cur)
	// The flight is shared, so one caller going away must not fail the others.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.prices.Do(code, func() (any, error) {
		var price float64
		err := s.call(flightCtx, "get_bitcoin_price", func(ctx context.Context) error {
			var err error
			price, err = eng.BitcoinPrice(ctx, code)
			return err
		})
		return price, err
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func fiatCode(cur Currency) string {
	if cur.Value == "" {
		return "usd"
	}
	return strings.ToLower(cur.Value)
}

// SaveFiat persists cur and switches the displayed price to it. When the
// price lookup fails the preference is still stored but the displayed
// price/currency pair is left unchanged.
func (s *Store) SaveFiat(ctx context.Context, cur Currency) error {
	data, err := json.Marshal(cur)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, KeyFiatCurrency, string(data)); err != nil {
		return err
	}
	price, err := s.FetchPrice(ctx, cur)
	if err != nil {
		return err
	}
	s.update(func(st *state) {
		st.price = price
		st.fiat = cur
	})
	return nil
}

func formatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func parseUnix(s string) (time.Time, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	return time.Unix(n, 0), true
}
