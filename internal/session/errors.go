package session

import (
	"context"
	"errors"

	"github.com/walletd/walletd/internal/compat"
	"github.com/walletd/walletd/internal/engine"
)

// ErrorKind classifies boot failures. Each kind has its own recovery path
// in the client.
type ErrorKind int

const (
	KindUnclassified ErrorKind = iota
	KindNetworkUnavailable
	KindBrowserIncompatible
	KindExistingInstance
	KindWrongCredential
	KindEngineAlreadyRunning
)

var errorKindNames = map[ErrorKind]string{
	KindUnclassified:         "unclassified",
	KindNetworkUnavailable:   "network_unavailable",
	KindBrowserIncompatible:  "browser_incompatible",
	KindExistingInstance:     "existing_instance",
	KindWrongCredential:      "wrong_credential",
	KindEngineAlreadyRunning: "engine_already_running",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Recovery names the client-side recovery path for k.
func (k ErrorKind) Recovery() string {
	switch k {
	case KindNetworkUnavailable, KindEngineAlreadyRunning:
		return "reload"
	case KindBrowserIncompatible:
		return "compatibility"
	case KindExistingInstance:
		return "close_other_instance"
	case KindWrongCredential:
		return "enter_password"
	}
	return "export_and_wipe"
}

// BootError is a classified boot failure.
type BootError struct {
	Kind ErrorKind
	Err  error
}

func (e *BootError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *BootError) Unwrap() error { return e.Err }

// Info converts e for clients.
func (e *BootError) Info() *ErrorInfo {
	return &ErrorInfo{Kind: e.Kind.String(), Message: e.Error(), Recovery: e.Kind.Recovery()}
}

var (
	// ErrEngineAlreadyRunning rejects a setup call while an engine runs or a
	// boot is in flight.
	ErrEngineAlreadyRunning = &BootError{
		Kind: KindEngineAlreadyRunning,
		Err:  errors.New("existing wallet engine already running, aborting setup"),
	}

	errExistingInstance = errors.New("existing instance detected, aborting setup")

	ErrNoEngine = errors.New("wallet engine not running")
	ErrDeleting = errors.New("wallet is being deleted")
	ErrClosed   = errors.New("session torn down")
)

// Classify maps a failure onto the boot taxonomy using the structured error
// kinds carried by the engine and environment checks.
func Classify(err error) ErrorKind {
	var be *BootError
	if errors.As(err, &be) {
		return be.Kind
	}
	if compat.IsIncompatible(err) {
		return KindBrowserIncompatible
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		switch ee.Kind {
		case engine.KindWrongCredential:
			return KindWrongCredential
		case engine.KindNetworkUnavailable:
			return KindNetworkUnavailable
		case engine.KindIncompatible:
			return KindBrowserIncompatible
		}
		return KindUnclassified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetworkUnavailable
	}
	return KindUnclassified
}
