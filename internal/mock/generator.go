package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/walletd/walletd/internal/engine"
)

// Generator animates a Provider with plausible wallet activity so the daemon
// can run end to end without a real engine.
type Generator struct {
	provider *Provider
	interval time.Duration
	rng      *rand.Rand
}

func NewGenerator(p *Provider, interval time.Duration) *Generator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Generator{
		provider: p,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed loads a starting wallet: a few confirmed and pending on-chain
// transactions, settled and open invoices, and labels.
func (g *Generator) Seed(now time.Time) {
	fee := uint64(141)
	amount := uint64(2100)
	tags := []engine.TagItem{
		{ID: "tag-coffee", Kind: "label", Name: "coffee", LastUsedTime: now.Unix()},
		{ID: "tag-rent", Kind: "label", Name: "rent", LastUsedTime: now.Add(-48 * time.Hour).Unix()},
		{ID: "tag-satoshi", Kind: "contact", Name: "Satoshi", Npub: "npub1satoshi", Color: "blue"},
	}
	txs := []engine.OnChainTx{
		{Txid: "b7e1d0f0c1", Received: 250000, Confirmation: &engine.Confirmation{Height: 150012, Time: now.Add(-72 * time.Hour).Unix()}, Labels: []string{"tag-rent"}},
		{Txid: "c2aa9f7e03", Sent: 12000, Fee: &fee, Confirmation: &engine.Confirmation{Height: 150300, Time: now.Add(-6 * time.Hour).Unix()}},
		{Txid: "d41d8cd98f", Received: 5000, Labels: []string{"tag-satoshi"}},
	}
	invoices := []engine.Invoice{
		{PaymentHash: "ph-coffee", Description: "flat white", AmountSats: &amount, Paid: true, IsSend: true, Expire: now.Add(-time.Hour).Unix(), LastUpdated: now.Add(-time.Hour).Unix(), Labels: []string{"tag-coffee"}},
		{PaymentHash: "ph-open", Description: "unpaid request", Expire: now.Add(time.Hour).Unix(), LastUpdated: now.Unix()},
	}

	g.provider.SetActivity(txs, invoices, tags)
	g.provider.SetBalance(engine.Balance{Confirmed: 238000, Unconfirmed: 5000, Lightning: 42000})
}

// Start animates the provider until ctx is done.
func (g *Generator) Start(ctx context.Context) {
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			g.advance(tick, time.Now())
		}
	}
}

// advance moves prices along a slow sine drift with jitter, and every few
// ticks settles a new incoming lightning payment.
func (g *Generator) advance(tick int, now time.Time) {
	p := g.provider
	p.mu.Lock()
	defer p.mu.Unlock()

	drift := 1 + 0.01*math.Sin(float64(tick)/10) + (g.rng.Float64()-0.5)*0.002
	for fiat, price := range p.prices {
		p.prices[fiat] = math.Round(price*drift*100) / 100
	}

	if tick%5 != 0 {
		return
	}
	amount := uint64(100 + g.rng.Intn(5000))
	p.invoices = append(p.invoices, engine.Invoice{
		PaymentHash: fmt.Sprintf("ph-mock-%d", tick),
		Description: "mock payment",
		AmountSats:  &amount,
		Paid:        true,
		Expire:      now.Unix(),
		LastUpdated: now.Unix(),
	})
	p.balance.Lightning += amount
}
