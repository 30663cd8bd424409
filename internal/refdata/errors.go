package refdata

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Error taxonomy. Callers test with errors.Is after any amount of wrapping.
var (
	ErrDuplicateCanonicalValue = eris.New("duplicate canonical value")
	ErrDuplicateAlias          = eris.New("duplicate alias")
	ErrNotFound                = eris.New("not found")
	ErrInvalidState            = eris.New("invalid state")
	ErrUpstreamUnavailable     = eris.New("upstream unavailable")
	ErrValidation              = eris.New("validation error")
)

// Kind names the taxonomy entry of err, or "Internal" when none applies.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateCanonicalValue):
		return "DuplicateCanonicalValue"
	case errors.Is(err, ErrDuplicateAlias):
		return "DuplicateAlias"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "UpstreamUnavailable"
	default:
		return "Internal"
	}
}

// UpstreamError marks a failure of an external collaborator (index or
// suggestion provider) while keeping the underlying cause in the chain.
type UpstreamError struct {
	Service string
	Err     error
}

// Upstream wraps err as an UpstreamError for service.
func Upstream(service string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Service: service, Err: err}
}

func (e *UpstreamError) Error() string {
	return e.Service + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrUpstreamUnavailable) match.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}
