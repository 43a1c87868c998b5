package exchange

import (
	"errors"
	"fmt"
)

// ErrNotInitialized reports Instance being called before Initialize. The
// failure is loud on purpose: a caller must never silently skip settlement.
var ErrNotInitialized = errors.New("exchange: client not initialized; call exchange.Initialize before settling")

// Kind classifies an exchange failure. Callers branch on kind, never on
// message text.
type Kind string

const (
	// KindSettlement is the generic failure for anything without a more
	// specific classification (404s, unexpected status codes).
	KindSettlement Kind = "settlement"
	// KindAuth covers a missing, invalid, or expired API key.
	KindAuth Kind = "auth"
	// KindEscrow covers escrow creation failures: insufficient balance,
	// invalid address, validation errors.
	KindEscrow Kind = "escrow"
	// KindRelease covers release and cancel failures.
	KindRelease Kind = "release"
	// KindRegistration covers agent registration failures.
	KindRegistration Kind = "registration"
	// KindNetwork covers transport failures and 5xx responses; the only
	// kind the client retries.
	KindNetwork Kind = "network"
)

// Error is the typed failure for every exchange operation. Op names the
// operation, Message carries the remote detail, and Err retains the
// underlying cause when one exists (always set on retry exhaustion).
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("exchange: [%s] %s error (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("exchange: [%s] %s error: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether the failure may clear on its own. Only network
// kinds qualify; everything else indicates a defective request.
func (e *Error) Retriable() bool { return e.Kind == KindNetwork }

// IsKind reports whether err is an exchange Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
