package session

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/walletd/walletd/internal/engine"
	"github.com/walletd/walletd/internal/metrics"
)

// GracePeriod is the optimistic entitlement granted after a payment when the
// subscription authority cannot be reached.
const GracePeriod = 24 * time.Hour

// CheckForSubscription asks the engine for the subscription expiry and
// stores it. When the check fails right after a payment (justPaid) the user
// gets GracePeriod of entitlement; otherwise the cached expiry is kept and
// the error returned.
func (s *Store) CheckForSubscription(ctx context.Context, justPaid bool) error {
	eng := s.currentEngine()
	if eng == nil {
		return ErrNoEngine
	}

	var (
		expiresAt time.Time
		ok        bool
	)
	err := s.call(ctx, "check_subscribed", func(ctx context.Context) error {
		var err error
		expiresAt, ok, err = eng.CheckSubscribed(ctx)
		return err
	})
	if err != nil {
		if justPaid {
			grace := s.now().Add(GracePeriod)
			s.update(func(st *state) { st.subscriptionExpiresAt = &grace })
			s.log.WithError(err).Warn("Subscription check failed after payment, granting grace period")
			metrics.RecordSubscriptionCheck("grace")
			return nil
		}
		s.log.WithError(err).Warn("Subscription check failed")
		metrics.RecordSubscriptionCheck("failed")
		return err
	}
	if !ok {
		metrics.RecordSubscriptionCheck("none")
		return nil
	}

	if err := s.kv.Set(ctx, KeySubscriptionTimestamp, formatUnix(expiresAt)); err != nil {
		s.log.WithError(err).Warn("Failed to persist subscription timestamp")
	}
	s.update(func(st *state) { st.subscriptionExpiresAt = &expiresAt })
	metrics.RecordSubscriptionCheck("ok")
	return nil
}

// revalidateSubscription runs during boot. Only a wallet with a cached
// expiry is checked; on failure the cached value is kept.
func (s *Store) revalidateSubscription(ctx context.Context, eng engine.Engine) *time.Time {
	raw, err := s.kv.Get(ctx, KeySubscriptionTimestamp)
	if err != nil {
		return nil
	}
	cached, ok := parseUnix(raw)
	if !ok {
		return nil
	}

	var (
		expiresAt time.Time
		found     bool
	)
	err = s.call(ctx, "check_subscribed", func(ctx context.Context) error {
		var err error
		expiresAt, found, err = eng.CheckSubscribed(ctx)
		return err
	})
	if err != nil || !found {
		if err != nil {
			s.log.WithError(err).Warn("Could not revalidate subscription, keeping cached expiry")
		}
		return &cached
	}
	if err := s.kv.Set(ctx, KeySubscriptionTimestamp, formatUnix(expiresAt)); err != nil {
		s.log.WithError(err).Warn("Failed to persist subscription timestamp")
	}
	return &expiresAt
}

// startRecheck schedules CheckForSubscription on spec while an engine runs.
func (s *Store) startRecheck(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if s.currentEngine() == nil {
			return
		}
		if err := s.CheckForSubscription(ctx, false); err != nil {
			s.log.WithError(err).Debug("Scheduled subscription check failed")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
