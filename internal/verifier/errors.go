package verifier

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// Verification failure reasons. Every error returned by Verify wraps exactly
// one of them.
var (
	ErrBadSignature         = errors.New("bad signature")
	ErrAmountMismatch       = errors.New("amount mismatch")
	ErrDoubleSpend          = errors.New("double spend detected")
	ErrInvalidAncestry      = errors.New("invalid ancestry")
	ErrNotYetSpendable      = errors.New("not yet spendable")
	ErrSubstrateUnavailable = errors.New("substrate unavailable")
)

// Error is a verification failure located at one spend address.
type Error struct {
	Reason  error
	Address types.SpendAddress
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v at %s", e.Reason, e.Address.Short())
	}
	return fmt.Sprintf("%v at %s: %s", e.Reason, e.Address.Short(), e.Detail)
}

func (e *Error) Unwrap() error { return e.Reason }

func fail(reason error, addr types.SpendAddress, format string, args ...any) *Error {
	return &Error{Reason: reason, Address: addr, Detail: fmt.Sprintf(format, args...)}
}

// rank orders reasons when a walk found more than one failure. Lower wins.
func rank(reason error) int {
	switch reason {
	case ErrDoubleSpend:
		return 0
	case ErrBadSignature:
		return 1
	case ErrAmountMismatch:
		return 2
	case ErrInvalidAncestry:
		return 3
	case ErrSubstrateUnavailable:
		return 4
	case ErrNotYetSpendable:
		return 5
	default:
		return 6
	}
}

// terminal reports whether a reason is proof of invalidity rather than a
// missing or unreachable record.
func terminal(reason error) bool {
	return rank(reason) <= rank(ErrInvalidAncestry)
}

// IsRetryable reports whether err may clear up later: the spend has not
// propagated yet or the substrate could not be reached.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNotYetSpendable) || errors.Is(err, ErrSubstrateUnavailable)
}

// IsBurned reports whether err proves a double spend in the token's
// ancestry. Such a token can never become valid.
func IsBurned(err error) bool {
	return errors.Is(err, ErrDoubleSpend)
}
