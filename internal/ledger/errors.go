package ledger

import (
	"errors"

	"github.com/0gfoundation/0g-shadowbox/internal/voucher"
)

var (
	ErrContractPaused      = errors.New("contract paused")
	ErrVoucherExpired      = errors.New("voucher expired")
	ErrVoucherAlreadyUsed  = errors.New("voucher already used")
	ErrInvalidSignature    = errors.New("invalid voucher signature")
	ErrInsufficientRewards = errors.New("insufficient rewards")
	ErrUnauthorized        = errors.New("caller is not the owner")
	ErrInvalidAuthority    = errors.New("invalid signing authority")
	ErrValidation          = errors.New("invalid request")
	ErrTransport           = errors.New("ledger transport failure")
	ErrNotInitialized      = errors.New("ledger not initialized")
)

// Class groups errors by how a caller should react to them.
type Class int

const (
	ClassInternal Class = iota
	ClassValidation
	ClassAuthorization
	ClassTemporal
	ClassReplay
	ClassLiveness
	ClassTransport
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassAuthorization:
		return "authorization"
	case ClassTemporal:
		return "temporal"
	case ClassReplay:
		return "replay"
	case ClassLiveness:
		return "liveness"
	case ClassTransport:
		return "transport"
	default:
		return "internal"
	}
}

// Retryable reports whether the same request may succeed later unchanged.
func (c Class) Retryable() bool { return c == ClassTransport }

// Classify maps an error from this package (or one wrapping it) to its Class.
// A nil error classifies as internal; callers check err != nil first.
func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, voucher.ErrMalformedVoucher):
		return ClassValidation
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrInvalidAuthority):
		return ClassAuthorization
	case errors.Is(err, ErrVoucherExpired):
		return ClassTemporal
	case errors.Is(err, ErrVoucherAlreadyUsed):
		return ClassReplay
	case errors.Is(err, ErrContractPaused), errors.Is(err, ErrInsufficientRewards):
		return ClassLiveness
	case errors.Is(err, ErrTransport):
		return ClassTransport
	default:
		return ClassInternal
	}
}
