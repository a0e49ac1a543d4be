package account

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAdmission wraps every creation refusal.
	ErrAdmission        = errors.New("admission refused")
	ErrDuplicateAccount = fmt.Errorf("%w: account already exists", ErrAdmission)
	ErrCapacity         = fmt.Errorf("%w: account limit reached", ErrAdmission)

	ErrNotFound             = errors.New("account not found")
	ErrNotReady             = errors.New("account not ready")
	ErrAlreadyAuthenticated = errors.New("account already authenticated")
	ErrInvalidInput         = errors.New("invalid input")
	ErrClosed               = errors.New("manager shut down")
	ErrDisabled             = errors.New("account disabled")
)

// StrategyFailure is one cascade attempt that did not produce a code.
type StrategyFailure struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

// HandshakeError is returned once every strategy of the cascade failed.
type HandshakeError struct {
	AccountID string
	Attempts  []StrategyFailure
}

func (e *HandshakeError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Strategy + ": " + a.Reason
	}
	return fmt.Sprintf("handshake failed for %s after %d strategies (%s)", e.AccountID, len(e.Attempts), strings.Join(parts, "; "))
}

// Cause joins the per-strategy reasons. It never contains the account id.
func (e *HandshakeError) Cause() string {
	return strings.Join(e.Reasons(), "; ")
}

// Reasons lists the failure reason of each attempt in cascade order.
func (e *HandshakeError) Reasons() []string {
	out := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Reason
	}
	return out
}
