package engine

import (
	"errors"
	"fmt"
)

// Kind classifies failures crossing the engine boundary.
type Kind int

const (
	KindOther Kind = iota
	KindWrongCredential
	KindNetworkUnavailable
	KindIncompatible
	KindNotRunning
)

var kindNames = map[Kind]string{
	KindOther:              "other",
	KindWrongCredential:    "wrong_credential",
	KindNetworkUnavailable: "network_unavailable",
	KindIncompatible:       "incompatible",
	KindNotRunning:         "not_running",
}

var kindFromName = map[string]Kind{
	"other":               KindOther,
	"wrong_credential":    KindWrongCredential,
	"network_unavailable": KindNetworkUnavailable,
	"incompatible":        KindIncompatible,
	"not_running":         KindNotRunning,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind maps a wire name back to a Kind. Unknown names map to KindOther.
func ParseKind(name string) Kind {
	if k, ok := kindFromName[name]; ok {
		return k
	}
	return KindOther
}

// Error is the structured failure returned by Provider and Engine methods.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("engine %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, or KindOther when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// ErrNotRunning is returned by engines used after Stop.
var ErrNotRunning = &Error{Kind: KindNotRunning, Op: "call"}
