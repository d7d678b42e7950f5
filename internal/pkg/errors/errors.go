package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTransient marks infrastructure faults worth retrying.
	ErrTransient = errors.New("transient error")
	// ErrPermanent marks faults that must not be retried.
	ErrPermanent = errors.New("permanent error")
	// ErrIllegalTransition is returned when a report status change is not allowed.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrTenantIsolation signals that a query surfaced another owner's data.
	ErrTenantIsolation = errors.New("tenant isolation violated")
)

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: ErrTransient, err: err}
}

// Permanent wraps err so errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: ErrPermanent, err: err}
}

type classified struct {
	kind error
	err  error
}

func (c *classified) Error() string { return c.err.Error() }

func (c *classified) Unwrap() []error { return []error{c.kind, c.err} }
