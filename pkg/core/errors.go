package core

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a transaction or lookup targets a document
	// id that does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAlreadyExists is returned when a create targets a live document id.
	ErrAlreadyExists = errors.New("object already exists")

	// ErrUnknownClass is returned when a classifier ref is not registered.
	ErrUnknownClass = errors.New("unknown class")

	// ErrCyclicHierarchy is returned when registering a classifier would
	// introduce an extends cycle.
	ErrCyclicHierarchy = errors.New("cyclic class hierarchy")

	// ErrUnhandledTx is returned by every dispatch over transaction variants
	// when it meets a variant it does not handle.
	ErrUnhandledTx = errors.New("unhandled transaction class")

	// ErrUnknownOperator is returned when decoding an update with an
	// operator outside the supported set.
	ErrUnknownOperator = errors.New("unknown update operator")

	// ErrInvalidUpdate is returned when an update operator does not fit the
	// declared attribute type or the current value.
	ErrInvalidUpdate = errors.New("invalid update")

	// ErrUnknownPredicate is returned for query operators outside the
	// supported set.
	ErrUnknownPredicate = errors.New("unknown predicate")

	// ErrInvalidQuery is returned for malformed predicate operands.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrSearchUnsupported is returned when a $search query reaches a store
	// without a full-text index.
	ErrSearchUnsupported = errors.New("full-text search not supported")

	// ErrAmbiguousCollection is returned by [TxOperations.Add] when the
	// parent does not have exactly one matching collection attribute.
	ErrAmbiguousCollection = errors.New("please use addCollection method, collection could not be detected")

	// ErrInvalidTx is returned for structurally malformed transactions.
	ErrInvalidTx = errors.New("invalid transaction")
)

// Error carries document context for failures at API boundaries.
//
// The underlying message appears first, followed by the context:
//
//	object not found (object_id=abc class=tracker:class:Issue)
//
// Use [errors.As] to extract the fields and [errors.Is] to match sentinels:
//
//	if errors.Is(err, core.ErrNotFound) { ... }
type Error struct {
	// ObjectID is the targeted document id, when known.
	ObjectID Ref

	// Class is the targeted class, when known.
	Class Ref

	// Err is the underlying cause.
	Err error
}

// Error formats as "<cause> (object_id=X class=Y)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var parts []string

	if e.ObjectID != "" {
		parts = append(parts, "object_id="+string(e.ObjectID))
	}

	if e.Class != "" {
		parts = append(parts, "class="+string(e.Class))
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	if len(parts) == 0 {
		return cause
	}

	suffix := "(" + strings.Join(parts, " ") + ")"
	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

// Unwrap returns the underlying error for use with [errors.Is] and [errors.As].
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// withContext attaches document context and returns *Error.
// If err already is an *Error, missing fields are filled in place.
func withContext(err error, id Ref, class Ref) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	if errors.As(err, &existing) {
		if existing.ObjectID == "" {
			existing.ObjectID = id
		}

		if existing.Class == "" {
			existing.Class = class
		}

		return existing
	}

	return &Error{ObjectID: id, Class: class, Err: err}
}
