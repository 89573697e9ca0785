package model

import (
	"context"
	"errors"
)

// Error taxonomy shared by every layer. Callers wrap these with fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrMalformedCandle  = errors.New("malformed candle")
	ErrUpstreamFetch    = errors.New("upstream fetch failure")
	ErrUnknownField     = errors.New("unknown field")
	ErrTimeout          = errors.New("timeout")
)

// ErrorKind returns the stable machine-readable code for err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrUnknownField):
		return "unknown_field"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrMalformedCandle):
		return "malformed_candle"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrUpstreamFetch):
		return "upstream_fetch_failure"
	default:
		return "internal"
	}
}

// IsCallerError reports errors that must fail a whole request before any work starts.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrInvalidParameter) || errors.Is(err, ErrUnknownField)
}

// UnitError is the serializable form of a per-slot failure.
type UnitError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewUnitError converts err, or returns nil for a nil error.
func NewUnitError(err error) *UnitError {
	if err == nil {
		return nil
	}
	return &UnitError{Kind: ErrorKind(err), Message: err.Error()}
}
