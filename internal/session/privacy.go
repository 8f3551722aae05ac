package session

import (
	"crypto/sha256"
	"fmt"
)

// PrivacyFilter masks sensitive snapshot fields before they leave the
// process. The zero value is a no-op filter.
type PrivacyFilter struct {
	MaskPublicID bool
	HideBalances bool
}

// Apply returns a copy of snap with sensitive fields masked according to the
// filter configuration. The original is never modified.
func (f *PrivacyFilter) Apply(snap Snapshot) Snapshot {
	if f == nil {
		return snap
	}
	if f.MaskPublicID && snap.PublicID != "" {
		snap.PublicID = shortHash(snap.PublicID)
	}
	if f.HideBalances {
		snap.Balance = nil
		snap.Price = 0
	}
	if f.HideBalances && snap.ScanResult != nil {
		p := *snap.ScanResult
		p.AmountSats = nil
		snap.ScanResult = &p
	}
	return snap
}

// IsNoop reports whether the filter does nothing.
func (f *PrivacyFilter) IsNoop() bool {
	return f == nil || (!f.MaskPublicID && !f.HideBalances)
}

// shortHash returns a truncated SHA-256 hex digest for an opaque identifier.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
