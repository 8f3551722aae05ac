// Package engine defines the capability boundary to the external wallet
// engine. The session orchestrator depends only on these interfaces; the
// engine's ledger, networking and key handling stay on the other side.
package engine

import (
	"context"
	"time"
)

// Settings are the engine endpoints and network selection used at Open.
type Settings struct {
	Network          string `json:"network"`
	Proxy            string `json:"proxy,omitempty"`
	Esplora          string `json:"esplora,omitempty"`
	RGS              string `json:"rgs,omitempty"`
	LSP              string `json:"lsp,omitempty"`
	AuthURL          string `json:"authUrl,omitempty"`
	SubscriptionsURL string `json:"subscriptionsUrl,omitempty"`
	StorageURL       string `json:"storageUrl,omitempty"`
}

// Provider prepares the engine runtime and constructs engine instances.
//
// Prepare performs one-time resource initialization (downloading or loading
// the runtime). Failures carry KindNetworkUnavailable or KindIncompatible.
//
// Open constructs a running engine. A wrong or missing credential for an
// encrypted store fails with KindWrongCredential; the caller may retry with
// another credential.
type Provider interface {
	Prepare(ctx context.Context) error
	Open(ctx context.Context, settings Settings, credential string, safeMode bool) (Engine, error)
}

// Engine is a running wallet engine. Every method may block on the network
// and may fail with an *Error.
type Engine interface {
	// Stop halts background engine work. The engine is unusable afterwards.
	Stop(ctx context.Context) error
	// DeleteAll wipes the engine's persistent state. Call after Stop.
	DeleteAll(ctx context.Context) error

	Balance(ctx context.Context) (Balance, error)
	// BitcoinPrice returns the price of one bitcoin in the given lowercase
	// fiat code (e.g. "usd").
	BitcoinPrice(ctx context.Context, fiat string) (float64, error)
	// CheckSubscribed returns the subscription expiry, or ok=false when the
	// wallet has no subscription.
	CheckSubscribed(ctx context.Context) (expiresAt time.Time, ok bool, err error)

	ListOnchain(ctx context.Context) ([]OnChainTx, error)
	ListInvoices(ctx context.Context) ([]Invoice, error)
	TagItems(ctx context.Context) ([]TagItem, error)

	// Network reports the chain the engine runs against ("bitcoin",
	// "testnet", "signet", "regtest").
	Network() string
}

// Balance is denominated in satoshis.
type Balance struct {
	Confirmed   uint64 `json:"confirmed"`
	Unconfirmed uint64 `json:"unconfirmed"`
	Lightning   uint64 `json:"lightning"`
	ForceClose  uint64 `json:"forceClose"`
}

// IsZero reports whether every component of the balance is zero.
func (b Balance) IsZero() bool {
	return b.Confirmed == 0 && b.Unconfirmed == 0 && b.Lightning == 0 && b.ForceClose == 0
}

// Total sums all balance components.
func (b Balance) Total() uint64 {
	return b.Confirmed + b.Unconfirmed + b.Lightning + b.ForceClose
}

// Confirmation marks an on-chain transaction as included in a block.
type Confirmation struct {
	Height uint32 `json:"height"`
	Time   int64  `json:"time"` // unix seconds
}

type OnChainTx struct {
	Txid         string        `json:"txid"`
	Received     uint64        `json:"received"`
	Sent         uint64        `json:"sent"`
	Fee          *uint64       `json:"fee,omitempty"`
	Confirmation *Confirmation `json:"confirmation,omitempty"` // nil while unconfirmed
	Labels       []string      `json:"labels"`
}

// Invoice is a lightning payment record, inbound or outbound.
type Invoice struct {
	Bolt11      string   `json:"bolt11,omitempty"`
	PaymentHash string   `json:"paymentHash"`
	Preimage    string   `json:"preimage,omitempty"`
	Description string   `json:"description,omitempty"`
	AmountSats  *uint64  `json:"amountSats,omitempty"`
	Expire      int64    `json:"expire"` // unix seconds
	Paid        bool     `json:"paid"`
	FeesPaid    *uint64  `json:"feesPaid,omitempty"`
	IsSend      bool     `json:"isSend"`
	LastUpdated int64    `json:"lastUpdated"`
	Labels      []string `json:"labels"`
}

// TagItem is a user-defined label or contact the engine stores.
type TagItem struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"` // "label" or "contact"
	Name         string `json:"name"`
	LastUsedTime int64  `json:"lastUsedTime"`
	Npub         string `json:"npub,omitempty"`
	Color        string `json:"color,omitempty"`
}
