package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrIntegrity  = errors.New("integrity error")
	ErrTransport  = errors.New("transport error")
	ErrConflict   = errors.New("conflict")
	ErrTimeout    = errors.New("timeout")
	ErrClosed     = errors.New("closed")
)

var ErrOutOfStock = fmt.Errorf("%w: out of stock", ErrValidation)

// Error kinds carried on the broker wire so remote callers can recover the sentinel.
const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindIntegrity  = "integrity"
	KindTransport  = "transport"
	KindConflict   = "conflict"
	KindTimeout    = "timeout"
	KindInternal   = "internal"
)

func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	default:
		return KindInternal
	}
}

func SentinelForKind(kind string) error {
	switch kind {
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindIntegrity:
		return ErrIntegrity
	case KindTransport:
		return ErrTransport
	case KindConflict:
		return ErrConflict
	case KindTimeout:
		return ErrTimeout
	default:
		return nil
	}
}
