package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletd/walletd/internal/compat"
	"github.com/walletd/walletd/internal/engine"
	"github.com/walletd/walletd/internal/payparse"
)

func TestLoadStageJSON(t *testing.T) {
	data, err := json.Marshal(StageCheckingDoubleInit)
	require.NoError(t, err)
	assert.JSONEq(t, `"checking_double_init"`, string(data))

	var s LoadStage
	require.NoError(t, json.Unmarshal([]byte(`"done"`), &s))
	assert.Equal(t, StageDone, s)
	assert.Equal(t, "unknown", LoadStage(42).String())
}

func TestParseInvoiceKind(t *testing.T) {
	k, err := ParseInvoiceKind("onchain")
	require.NoError(t, err)
	assert.Equal(t, InvoiceOnchain, k)

	_, err = ParseInvoiceKind("Onchain")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"boot error", &BootError{Kind: KindExistingInstance}, KindExistingInstance},
		{"already running", ErrEngineAlreadyRunning, KindEngineAlreadyRunning},
		{"compat", fmt.Errorf("prepare: %w", &compat.Error{Check: compat.CheckStorageWritable, Err: errors.New("ro")}), KindBrowserIncompatible},
		{"wrong credential", engine.Errorf(engine.KindWrongCredential, "open", "nope"), KindWrongCredential},
		{"network", engine.Errorf(engine.KindNetworkUnavailable, "prepare", "offline"), KindNetworkUnavailable},
		{"incompatible", engine.Errorf(engine.KindIncompatible, "prepare", "old"), KindBrowserIncompatible},
		{"engine other", engine.Errorf(engine.KindOther, "open", "corrupt"), KindUnclassified},
		{"deadline", fmt.Errorf("open: %w", context.DeadlineExceeded), KindNetworkUnavailable},
		{"plain", errors.New("boom"), KindUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRecoveryHints(t *testing.T) {
	assert.Equal(t, "reload", KindNetworkUnavailable.Recovery())
	assert.Equal(t, "compatibility", KindBrowserIncompatible.Recovery())
	assert.Equal(t, "close_other_instance", KindExistingInstance.Recovery())
	assert.Equal(t, "enter_password", KindWrongCredential.Recovery())
	assert.Equal(t, "export_and_wipe", KindUnclassified.Recovery())
}

func TestBootErrorInfo(t *testing.T) {
	be := &BootError{Kind: KindNetworkUnavailable, Err: errors.New("download failed")}
	assert.Equal(t, &ErrorInfo{Kind: "network_unavailable", Message: "download failed", Recovery: "reload"}, be.Info())
	assert.Equal(t, "existing_instance", (&BootError{Kind: KindExistingInstance}).Error())
}

func TestPrivacyFilter(t *testing.T) {
	amount := uint64(21)
	snap := Snapshot{
		PublicID:   "npub1alice",
		Balance:    &engine.Balance{Confirmed: 100},
		Price:      65000,
		ScanResult: &payparse.ParsedParams{Address: "tb1q", AmountSats: &amount},
	}

	var nilFilter *PrivacyFilter
	assert.True(t, nilFilter.IsNoop())
	assert.Equal(t, snap, nilFilter.Apply(snap))

	f := &PrivacyFilter{MaskPublicID: true, HideBalances: true}
	assert.False(t, f.IsNoop())
	got := f.Apply(snap)

	assert.NotEqual(t, "npub1alice", got.PublicID)
	assert.Len(t, got.PublicID, 12)
	assert.Equal(t, got.PublicID, f.Apply(snap).PublicID, "masking is stable")
	assert.Nil(t, got.Balance)
	assert.Zero(t, got.Price)
	require.NotNil(t, got.ScanResult)
	assert.Nil(t, got.ScanResult.AmountSats)
	assert.Equal(t, "tb1q", got.ScanResult.Address)

	assert.Equal(t, "npub1alice", snap.PublicID, "input untouched")
	assert.NotNil(t, snap.ScanResult.AmountSats)
}

func TestHealthStatusLevel(t *testing.T) {
	assert.Equal(t, 0, StatusHealthy.Level())
	assert.Equal(t, 1, StatusDegraded.Level())
	assert.Equal(t, 2, StatusFailed.Level())
}
