package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/walletd/walletd/internal/engine"
	"github.com/walletd/walletd/internal/kv"
	"github.com/walletd/walletd/internal/metrics"
)

// Setup boots the engine: guard handshake, environment checks and runtime
// preparation, then Open with the stored settings and credential.
//
// Boot failures end as state (BootError or NeedsPassword) and Setup returns
// nil for them. Setup returns an error only when it refuses to start: an
// engine is already running or booting (ErrEngineAlreadyRunning), the wallet
// is being deleted, the session was torn down (ErrClosed), or an earlier
// attempt already failed (that BootError).
// After a wrong credential Setup may be called again.
//
// The boot is detached from ctx's cancellation: a caller that stops waiting
// does not fail the boot. Only Teardown and the stage timeouts end it early.
func (s *Store) Setup(ctx context.Context, credential string) error {
	s.mu.Lock()
	switch {
	case s.st.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.st.bootError != nil:
		err := s.st.bootError
		s.mu.Unlock()
		return err
	case s.st.engine != nil || s.st.booting:
		s.mu.Unlock()
		s.log.Warn("Setup called while an engine is running, aborting")
		return ErrEngineAlreadyRunning
	case s.st.deleting:
		s.mu.Unlock()
		return ErrDeleting
	}
	s.st.booting = true
	s.st.walletLoading = true
	s.mu.Unlock()
	s.notify()

	defer s.update(func(st *state) { st.booting = false })

	bootCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(s.life, cancel)
	defer stop()

	result := s.boot(bootCtx, credential)
	metrics.RecordBootResult(result)
	return nil
}

// boot runs the stages in order and returns the outcome label.
func (s *Store) boot(ctx context.Context, credential string) string {
	if err := s.stage(ctx, StageCheckingDoubleInit, s.checkDoubleInit); err != nil {
		return s.fail(err)
	}
	if err := s.stage(ctx, StageDownloading, s.prepare); err != nil {
		return s.fail(err)
	}

	var (
		eng      engine.Engine
		settings engine.Settings
	)
	err := s.stage(ctx, StageSetup, func(ctx context.Context) error {
		var err error
		settings, err = s.loadSettings(ctx)
		if err != nil {
			return err
		}
		s.mu.RLock()
		safeMode := s.st.safeMode
		s.mu.RUnlock()
		eng, err = s.provider.Open(ctx, settings, credential, safeMode)
		return err
	})
	if err != nil {
		if Classify(err) == KindWrongCredential {
			s.log.Warn("Incorrect credential, waiting for another attempt")
			s.update(func(st *state) {
				st.needsPassword = true
				st.walletLoading = false
			})
			return "needs_password"
		}
		return s.fail(err)
	}

	s.update(func(st *state) {
		st.settings = &settings
		st.needsPassword = false
	})

	expiresAt := s.revalidateSubscription(ctx, eng)

	var balance engine.Balance
	err = s.call(ctx, "get_balance", func(ctx context.Context) error {
		var err error
		balance, err = eng.Balance(ctx)
		return err
	})
	if err != nil {
		s.stopAbandoned(eng)
		return s.fail(err)
	}

	var price float64
	if !balance.IsZero() {
		s.mu.RLock()
		fiat := s.st.fiat
		s.mu.RUnlock()
		price, err = s.fetchPrice(ctx, eng, fiat)
		if err != nil {
			s.log.WithError(err).Warn("Initial price unavailable")
			price = 0
		}
	}

	var aborted bool
	s.update(func(st *state) {
		if st.existingInstanceDetected || st.deleting || st.closed {
			aborted = true
			return
		}
		st.engine = eng
		st.loadStage = StageDone
		st.walletLoading = false
		st.subscriptionExpiresAt = expiresAt
		st.balance = &balance
		st.price = price
	})
	if aborted {
		s.log.Warn("Boot finished after the session was abandoned, stopping engine")
		s.stopAbandoned(eng)
		return "aborted"
	}

	s.log.WithField("network", eng.Network()).Info("Wallet engine ready")
	return "ok"
}

// stage advances loadStage and runs fn under the stage timeout. The
// existing-instance flag is checked first.
func (s *Store) stage(ctx context.Context, stage LoadStage, fn func(ctx context.Context) error) error {
	var detected bool
	s.update(func(st *state) {
		if st.existingInstanceDetected {
			detected = true
			return
		}
		if stage > st.loadStage {
			st.loadStage = stage
		}
	})
	if detected {
		return &BootError{Kind: KindExistingInstance, Err: errExistingInstance}
	}

	log := s.log.WithField("stage", stage.String())
	log.Debug("Boot stage started")

	ctx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)

	outcome := "ok"
	if err != nil {
		outcome = Classify(err).String()
	}
	metrics.RecordBootStage(stage.String(), outcome, time.Since(start))
	log.WithFields(logrus.Fields{"outcome": outcome, "elapsed": time.Since(start).Round(time.Millisecond)}).Debug("Boot stage finished")
	return err
}

// stopAbandoned stops an engine that boot opened but never committed.
func (s *Store) stopAbandoned(eng engine.Engine) {
	if err := s.call(context.Background(), "stop", eng.Stop); err != nil {
		s.log.WithError(err).Warn("Failed to stop abandoned engine")
	}
}

// fail records err as the terminal error of this boot attempt. A boot cut
// short by Teardown records nothing.
func (s *Store) fail(err error) string {
	var be *BootError
	if !errors.As(err, &be) {
		be = &BootError{Kind: Classify(err), Err: err}
	}
	var closed bool
	s.update(func(st *state) {
		if st.closed {
			closed = true
			st.walletLoading = false
			return
		}
		if st.bootError == nil {
			st.bootError = be
		}
		if be.Kind == KindExistingInstance {
			st.existingInstanceDetected = true
		}
		st.walletLoading = false
	})
	if closed {
		s.log.WithError(be.Err).Info("Boot stopped by teardown")
		return "aborted"
	}
	s.log.WithError(be.Err).WithField("kind", be.Kind.String()).Error("Boot failed")
	return be.Kind.String()
}

func (s *Store) startGuard(ctx context.Context) error {
	s.mu.Lock()
	if s.guard == nil || s.guardStarted {
		s.mu.Unlock()
		return nil
	}
	s.guardStarted = true
	s.mu.Unlock()
	return s.guard.Start(ctx)
}

func (s *Store) checkDoubleInit(ctx context.Context) error {
	if s.guard == nil {
		return nil
	}
	if err := s.startGuard(ctx); err != nil {
		// The handshake is best effort; a broken channel must not brick boot.
		s.log.WithError(err).Warn("Instance guard unavailable, continuing")
		return nil
	}
	if s.guard.Wait(ctx) {
		metrics.RecordGuardDetection()
		return &BootError{Kind: KindExistingInstance, Err: errExistingInstance}
	}
	return nil
}

func (s *Store) prepare(ctx context.Context) error {
	if s.checker != nil {
		if err := s.checker.Run(ctx); err != nil {
			return err
		}
	}
	return s.provider.Prepare(ctx)
}

// loadSettings reads the stored engine settings, falling back to the
// configured defaults, and writes the result back.
func (s *Store) loadSettings(ctx context.Context) (engine.Settings, error) {
	settings := s.defaultSettings
	raw, err := s.kv.Get(ctx, KeySettings)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return engine.Settings{}, err
	default:
		var stored engine.Settings
		if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored.Network == "" {
			s.log.Warn("Stored settings unreadable, using defaults")
		} else {
			settings = stored
		}
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return engine.Settings{}, err
	}
	if err := s.kv.Set(ctx, KeySettings, string(data)); err != nil {
		return engine.Settings{}, err
	}
	return settings, nil
}
