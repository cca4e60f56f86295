// Package shared holds the error vocabulary of the reminder domain:
// a small set of kinds callers branch on, and typed errors that carry
// where a failure happened. No external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Kinds. Transport layers map these to status codes.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStateTransition    = errors.New("invalid state transition")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrPersistence        = errors.New("persistence failure")
)

// DomainError ties a kind to the place it surfaced ("reminder.Schedule").
// Two DomainErrors match under errors.Is when they name the same place,
// so a wrapped copy still matches the sentinel it was built from.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func newError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

func (e *DomainError) Error() string {
	where := e.Domain + "." + e.Op
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", where, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", where, e.Message, e.Err)
}

// Wrap returns a copy of e with cause attached.
func (e *DomainError) Wrap(cause error) *DomainError {
	c := *e
	c.Err = cause
	return &c
}

func (e *DomainError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) || other.Err != nil {
		return false
	}
	return e.Domain == other.Domain && e.Op == other.Op && e.Message == other.Message
}

// ─────────────────────────────────────────────────────────────────────────────
// power
// ─────────────────────────────────────────────────────────────────────────────

var (
	ErrPowerProbeUnavailable = newError("power", "Probe", ErrServiceUnavailable, "power state source is unavailable")
	ErrUnknownSignal         = newError("power", "ParseSignal", ErrInvalidInput, "unknown power signal")
)

// ─────────────────────────────────────────────────────────────────────────────
// reminder
// ─────────────────────────────────────────────────────────────────────────────

var (
	ErrObligationNotFound = newError("reminder", "Find", ErrNotFound, "obligation is not scheduled")
	ErrInvalidSchedule    = newError("reminder", "Schedule", ErrInvalidInput, "invalid reminder schedule")
	ErrInvalidRunState    = newError("reminder", "Transition", ErrStateTransition, "invalid obligation state transition")
)

// ─────────────────────────────────────────────────────────────────────────────
// delivery
// ─────────────────────────────────────────────────────────────────────────────

var (
	ErrLedgerWrite = newError("delivery", "Record", ErrPersistence, "failed to record delivery attempt")
	ErrLedgerRead  = newError("delivery", "ReadStats", ErrPersistence, "failed to read delivery stats")
)

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool { return errors.Is(err, ErrInvalidInput) }
