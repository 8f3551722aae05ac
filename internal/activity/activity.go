// Package activity merges on-chain transactions and settled lightning
// payments into one labelled feed, newest first.
package activity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/walletd/walletd/internal/engine"
)

type Kind string

const (
	KindOnchain   Kind = "onchain"
	KindLightning Kind = "lightning"
)

// Item is one feed entry. Exactly one of OnChain and Invoice is set,
// matching Kind. Time is unix seconds.
type Item struct {
	Kind    Kind              `json:"kind"`
	Time    int64             `json:"time"`
	OnChain *engine.OnChainTx `json:"onchain,omitempty"`
	Invoice *engine.Invoice   `json:"invoice,omitempty"`
	Labels  []engine.TagItem  `json:"labels"`
}

func (i Item) labelIDs() []string {
	if i.OnChain != nil {
		return i.OnChain.Labels
	}
	if i.Invoice != nil {
		return i.Invoice.Labels
	}
	return nil
}

// Source is the slice of the engine the aggregator reads.
type Source interface {
	ListOnchain(ctx context.Context) ([]engine.OnChainTx, error)
	ListInvoices(ctx context.Context) ([]engine.Invoice, error)
	TagItems(ctx context.Context) ([]engine.TagItem, error)
}

// Aggregate fetches both transaction lists and a fresh label index from src
// and merges them. limit <= 0 means no limit.
func Aggregate(ctx context.Context, src Source, limit int, now time.Time) ([]Item, error) {
	txs, err := src.ListOnchain(ctx)
	if err != nil {
		return nil, fmt.Errorf("list onchain: %w", err)
	}
	invoices, err := src.ListInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	tags, err := src.TagItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return Merge(txs, invoices, tags, limit, now), nil
}

// Merge builds the feed. Unconfirmed transactions take now as their time so
// they sort first; unpaid invoices are left out. Ties keep input order, with
// on-chain items ahead of invoices. The limit is applied before labels are
// resolved.
func Merge(txs []engine.OnChainTx, invoices []engine.Invoice, tags []engine.TagItem, limit int, now time.Time) []Item {
	items := make([]Item, 0, len(txs)+len(invoices))
	for i := range txs {
		tx := txs[i]
		t := now.Unix()
		if tx.Confirmation != nil {
			t = tx.Confirmation.Time
		}
		items = append(items, Item{Kind: KindOnchain, Time: t, OnChain: &tx})
	}
	for i := range invoices {
		inv := invoices[i]
		if !inv.Paid {
			continue
		}
		items = append(items, Item{Kind: KindLightning, Time: inv.Expire, Invoice: &inv})
	}

	sort.SliceStable(items, func(a, b int) bool {
		return items[a].Time > items[b].Time
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	for i := range items {
		items[i].Labels = resolveLabels(tags, items[i].labelIDs())
	}
	return items
}

// resolveLabels keeps the index entries whose id appears in ids, in index
// order. The result is never nil.
func resolveLabels(index []engine.TagItem, ids []string) []engine.TagItem {
	labels := []engine.TagItem{}
	if len(ids) == 0 {
		return labels
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, tag := range index {
		if _, ok := want[tag.ID]; ok {
			labels = append(labels, tag)
		}
	}
	return labels
}
