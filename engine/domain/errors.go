package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for scrape failures.
var (
	ErrNoContent     = errors.New("no listing content container found")
	ErrNoCandidates  = errors.New("no candidates extracted")
	ErrNavigation    = errors.New("navigation failed")
	ErrGroupFailed   = errors.New("group failed")
	ErrUnknownGroup  = errors.New("unknown technology group")
	ErrCircuitOpen   = errors.New("group circuit open")
	ErrInvalidDealer = errors.New("invalid dealer")
)

// DealerError wraps a dealer-scoped failure with its identity.
type DealerError struct {
	Dealer  string
	Group   TechGroup
	Wrapped error
}

func (e *DealerError) Error() string {
	return fmt.Sprintf("dealer %s (%s): %s", e.Dealer, e.Group, e.Wrapped)
}

func (e *DealerError) Unwrap() error { return e.Wrapped }

// NewDealerError creates a DealerError.
func NewDealerError(dealer string, group TechGroup, wrapped error) *DealerError {
	return &DealerError{Dealer: dealer, Group: group, Wrapped: wrapped}
}

// PanicError carries a recovered panic value.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
