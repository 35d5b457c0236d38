package relay

import (
	"errors"
	"fmt"
)

// Error kinds. Handlers match them with errors.Is to pick the user-facing outcome.
var (
	ErrCacheAccess     = errors.New("cache access failed")
	ErrResolution      = errors.New("resolution failed")
	ErrUnsupportedLink = errors.New("unsupported link")
	ErrDelivery        = errors.New("delivery failed")
	ErrNotFound        = errors.New("not found")
	ErrEmptyMedia      = errors.New("empty media sequence")
)

// opError carries an error kind plus the underlying cause; both match errors.Is.
type opError struct {
	kind error
	op   string
	err  error
}

func (e *opError) Error() string {
	if e.err == nil {
		return e.op + ": " + e.kind.Error()
	}
	return fmt.Sprintf("%s: %v: %v", e.op, e.kind, e.err)
}

func (e *opError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

func wrap(kind error, op string, err error) error {
	return &opError{kind: kind, op: op, err: err}
}
