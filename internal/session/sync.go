package session

import (
	"context"
	"time"

	"github.com/walletd/walletd/internal/engine"
	"github.com/walletd/walletd/internal/metrics"
)

// Sync runs one sync tick and reports whether it ran. A tick is skipped when
// no engine is running or another tick is in flight. Failures are logged and
// tracked in the sync health, never returned.
func (s *Store) Sync(ctx context.Context) bool {
	s.mu.Lock()
	if s.st.engine == nil || s.st.isSyncing {
		s.mu.Unlock()
		metrics.RecordSyncTick("skipped")
		return false
	}
	s.st.isSyncing = true
	eng := s.st.engine
	fiat := s.st.fiat
	s.mu.Unlock()
	s.notify()

	defer func() {
		s.update(func(st *state) { st.isSyncing = false })
		metrics.SetSyncHealth(s.health.status().Level())
	}()

	var balance engine.Balance
	err := s.call(ctx, "get_balance", func(ctx context.Context) error {
		var err error
		balance, err = eng.Balance(ctx)
		return err
	})
	if err != nil {
		s.health.recordFailure(err, s.now())
		s.log.WithError(err).WithField("health", s.health.status()).Warn("Sync tick failed")
		metrics.RecordSyncTick("failed")
		return true
	}

	price, priceErr := s.fetchPrice(ctx, eng, fiat)
	now := s.now()
	s.update(func(st *state) {
		st.balance = &balance
		st.lastSyncAt = now
		if st.fiat != fiat {
			// SaveFiat switched currency mid-tick and committed its own
			// price; keep that pair.
			return
		}
		if priceErr != nil {
			st.price = 1
			st.fiat = BTCOption
			return
		}
		st.price = price
	})

	if priceErr != nil {
		s.health.recordFailure(priceErr, now)
		s.log.WithError(priceErr).WithField("fiat", fiat.Value).Warn("Price unavailable, falling back to BTC")
		metrics.RecordSyncTick("price_fallback")
		return true
	}
	s.health.recordSuccess()
	metrics.RecordSyncTick("ok")
	return true
}

// runSyncLoop ticks every syncInterval until ctx is done.
func (s *Store) runSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	s.log.WithField("interval", s.syncInterval).Info("Sync loop started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sync loop stopped")
			return
		case <-ticker.C:
			s.Sync(ctx)
		}
	}
}
