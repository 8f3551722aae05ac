package session

import (
	"context"
	"time"
)

// Mount starts the session: the guard announces this instance, boot runs
// unless the session is already errored or deleting, and the sync loop and
// subscription schedule start. Mount returns once boot has finished; the
// background tasks run until Teardown.
func (s *Store) Mount(ctx context.Context) error {
	if err := s.startGuard(ctx); err != nil {
		s.log.WithError(err).Warn("Instance guard unavailable")
	}

	s.mu.RLock()
	skip := s.st.engine != nil || s.st.deleting || s.st.closed || s.st.bootError != nil || s.st.existingInstanceDetected
	s.mu.RUnlock()
	if skip {
		s.log.Warn("Setup aborted")
	} else if err := s.Setup(ctx, ""); err != nil {
		s.log.WithError(err).Warn("Setup rejected")
	}

	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	s.mu.RLock()
	closed := s.st.closed
	s.mu.RUnlock()
	if closed || s.bgCancel != nil {
		return nil
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runSyncLoop(bgCtx)
	}()

	if s.recheckSpec != "" {
		c, err := s.startRecheck(bgCtx, s.recheckSpec)
		if err != nil {
			s.log.WithError(err).WithField("spec", s.recheckSpec).Warn("Invalid subscription recheck schedule")
		} else {
			s.cron = c
		}
	}
	return nil
}

// Teardown stops background work, closes the guard and stops the engine.
// A boot still in flight is cancelled and never commits. The session cannot
// be mounted again. Failures are logged; the process is exiting.
func (s *Store) Teardown(ctx context.Context) {
	s.update(func(st *state) { st.closed = true })
	s.endLife()

	s.bgMu.Lock()
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgCancel = nil
	}
	c := s.cron
	s.cron = nil
	s.bgMu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.bgWG.Wait()

	if s.guard != nil {
		if err := s.guard.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close instance guard")
		}
	}

	eng := s.currentEngine()
	s.update(func(st *state) {
		st.engine = nil
		st.isSyncing = false
		st.balance = nil
		st.price = 0
		st.lastSyncAt = time.Time{}
		st.scanResult = nil
	})
	if eng == nil {
		return
	}
	if err := s.call(ctx, "stop", eng.Stop); err != nil {
		s.log.WithError(err).Error("Error stopping wallet engine")
		return
	}
	s.log.Info("Wallet engine stopped")
}
