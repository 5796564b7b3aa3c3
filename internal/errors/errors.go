// Package errors re-exports github.com/cockroachdb/errors and defines the
// error kinds shared by the store, scheduler and request layer.
//
// Kinds are attached with Mark so that callers can classify an error with Is
// without losing the wrapped context:
//
//	if err != nil {
//	    return errors.Mark(errors.Wrap(err, "insert scheduled email"), errors.ErrPersistence)
//	}
//
//	if errors.Is(err, errors.ErrPersistence) {
//	    // respond 500
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New      = crdb.New
	Newf     = crdb.Newf
	Wrap     = crdb.Wrap
	Wrapf    = crdb.Wrapf
	WithHint = crdb.WithHint
	Mark     = crdb.Mark
)

var GetAllHints = crdb.GetAllHints

var (
	Is    = crdb.Is
	IsAny = crdb.IsAny
	As    = crdb.As
)

var (
	// ErrValidation marks missing or invalid request fields, including a
	// scheduled time that is not in the future.
	ErrValidation = New("validation error")

	// ErrPersistence marks a failure of the job store.
	ErrPersistence = New("persistence error")

	// ErrNotFound indicates the requested job does not exist.
	ErrNotFound = New("not found")

	// ErrDelivery marks a per-recipient mail API failure.
	ErrDelivery = New("delivery error")

	// ErrRecovery marks a store query failure while re-arming jobs at startup.
	ErrRecovery = New("recovery error")
)

// Persistence wraps err with msg and marks it as ErrPersistence. nil stays nil.
func Persistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrPersistence)
}

// Validation returns a new ErrValidation-marked error with the given message.
func Validation(msg string) error {
	return Mark(New(msg), ErrValidation)
}
