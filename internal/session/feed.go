package session

import (
	"context"

	"github.com/walletd/walletd/internal/activity"
)

// Activity returns the merged activity feed, newest first. The label index
// is fetched fresh on every call. limit <= 0 returns everything.
func (s *Store) Activity(ctx context.Context, limit int) ([]activity.Item, error) {
	eng := s.currentEngine()
	if eng == nil {
		return nil, ErrNoEngine
	}
	var items []activity.Item
	err := s.call(ctx, "list_activity", func(ctx context.Context) error {
		var err error
		items, err = activity.Aggregate(ctx, eng, limit, s.now())
		return err
	})
	return items, err
}
