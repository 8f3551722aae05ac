package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/walletd/walletd/internal/engine"
	"github.com/walletd/walletd/internal/payparse"
)

// LoadStage is the boot progress. It only moves forward within a process.
type LoadStage int

const (
	StageFresh LoadStage = iota
	StageCheckingDoubleInit
	StageDownloading
	StageSetup
	StageDone
)

var stageNames = map[LoadStage]string{
	StageFresh:              "fresh",
	StageCheckingDoubleInit: "checking_double_init",
	StageDownloading:        "downloading",
	StageSetup:              "setup",
	StageDone:               "done",
}

var stageFromName = map[string]LoadStage{
	"fresh":                StageFresh,
	"checking_double_init": StageCheckingDoubleInit,
	"downloading":          StageDownloading,
	"setup":                StageSetup,
	"done":                 StageDone,
}

func (s LoadStage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s LoadStage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *LoadStage) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stageFromName[n]; ok {
		*s = v
	}
	return nil
}

// Currency is a display currency. BTC is the base asset: its price is 1.
type Currency struct {
	Value               string `json:"value"`
	Label               string `json:"label"`
	HasSymbol           string `json:"hasSymbol,omitempty"`
	MaxFractionalDigits int    `json:"maxFractionalDigits"`
}

var (
	BTCOption = Currency{Value: "BTC", Label: "BTC", MaxFractionalDigits: 8}
	USDOption = Currency{Value: "USD", Label: "USD", HasSymbol: "$", MaxFractionalDigits: 2}
)

// IsBase reports whether c is the base asset.
func (c Currency) IsBase() bool { return c.Value == BTCOption.Value }

// InvoiceKind is the preferred receive format.
type InvoiceKind string

const (
	InvoiceUnified   InvoiceKind = "unified"
	InvoiceLightning InvoiceKind = "lightning"
	InvoiceOnchain   InvoiceKind = "onchain"
)

func ParseInvoiceKind(s string) (InvoiceKind, error) {
	switch k := InvoiceKind(s); k {
	case InvoiceUnified, InvoiceLightning, InvoiceOnchain:
		return k, nil
	}
	return "", fmt.Errorf("unknown invoice display %q", s)
}

// state is the mutable session record. Guarded by Store.mu.
type state struct {
	engine                   engine.Engine
	loadStage                LoadStage
	bootError                *BootError
	booting                  bool
	needsPassword            bool
	existingInstanceDetected bool
	deleting                 bool
	closed                   bool
	walletLoading            bool

	balance    *engine.Balance
	price      float64
	fiat       Currency
	lastSyncAt time.Time
	isSyncing  bool

	subscriptionExpiresAt *time.Time

	hasBackedUp      bool
	betaWarned       bool
	publicID         string
	preferredInvoice InvoiceKind

	settings   *engine.Settings
	safeMode   bool
	scanResult *payparse.ParsedParams
}

// ErrorInfo is the client-facing form of a BootError.
type ErrorInfo struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Recovery string `json:"recovery"`
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	LoadStage                LoadStage  `json:"loadStage"`
	EngineRunning            bool       `json:"engineRunning"`
	Network                  string     `json:"network,omitempty"`
	WalletLoading            bool       `json:"walletLoading"`
	Deleting                 bool       `json:"deleting"`
	BootError                *ErrorInfo `json:"bootError,omitempty"`
	NeedsPassword            bool       `json:"needsPassword"`
	ExistingInstanceDetected bool       `json:"existingInstanceDetected"`

	Balance    *engine.Balance `json:"balance,omitempty"`
	Price      float64         `json:"price"`
	Fiat       Currency        `json:"fiat"`
	LastSyncAt *time.Time      `json:"lastSyncAt,omitempty"`
	IsSyncing  bool            `json:"isSyncing"`
	SyncHealth HealthStatus    `json:"syncHealth"`
	SyncError  string          `json:"syncError,omitempty"`
	SyncFailAt *time.Time      `json:"syncFailedAt,omitempty"`

	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt,omitempty"`
	Entitled              bool       `json:"entitled"`

	HasBackedUp             bool        `json:"hasBackedUp"`
	BetaWarned              bool        `json:"betaWarned"`
	PublicID                string      `json:"npub,omitempty"`
	PreferredInvoiceDisplay InvoiceKind `json:"preferredInvoiceDisplay"`

	Settings   *engine.Settings       `json:"settings,omitempty"`
	SafeMode   bool                   `json:"safeMode"`
	ScanResult *payparse.ParsedParams `json:"scanResult,omitempty"`
}

// IsEntitled reports whether a subscription expiring at expiresAt is active
// at now.
func IsEntitled(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && now.Before(*expiresAt)
}

// snapshotLocked copies st. Caller must hold the store lock.
func (st *state) snapshotLocked(now time.Time, health HealthStatus) Snapshot {
	snap := Snapshot{
		LoadStage:                st.loadStage,
		EngineRunning:            st.engine != nil,
		WalletLoading:            st.walletLoading,
		Deleting:                 st.deleting,
		NeedsPassword:            st.needsPassword,
		ExistingInstanceDetected: st.existingInstanceDetected,
		Price:                    st.price,
		Fiat:                     st.fiat,
		IsSyncing:                st.isSyncing,
		SyncHealth:               health,
		Entitled:                 IsEntitled(st.subscriptionExpiresAt, now),
		HasBackedUp:              st.hasBackedUp,
		BetaWarned:               st.betaWarned,
		PublicID:                 st.publicID,
		PreferredInvoiceDisplay:  st.preferredInvoice,
		SafeMode:                 st.safeMode,
	}
	if st.engine != nil {
		snap.Network = st.engine.Network()
	}
	if st.bootError != nil {
		snap.BootError = st.bootError.Info()
	}
	if st.balance != nil {
		b := *st.balance
		snap.Balance = &b
	}
	if !st.lastSyncAt.IsZero() {
		t := st.lastSyncAt
		snap.LastSyncAt = &t
	}
	if st.subscriptionExpiresAt != nil {
		t := *st.subscriptionExpiresAt
		snap.SubscriptionExpiresAt = &t
	}
	if st.settings != nil {
		s := *st.settings
		snap.Settings = &s
	}
	if st.scanResult != nil {
		p := *st.scanResult
		snap.ScanResult = &p
	}
	return snap
}
