// Package storage persists transactions and keeps the materialized document
// state they fold into.
//
// A [LogStore] pairs a [core.ModelDb] with an append-only [Log]. Every
// transaction is folded first and appended only when the fold succeeds; when
// the append fails the fold is reverted, so the in-memory state never runs
// ahead of the durable log. Opening a store replays the log from the start,
// and replaying the same log twice yields the same state.
//
// Log implementations live in sub-packages:
//   - filelog: a CRC framed append-only file guarded by flock
//   - sqlitelog: an append-only SQLite table
//   - badgerlog: sequence keyed BadgerDB entries with CBOR values
//
// [MemoryLog] keeps encoded records in memory and is used by tests and the
// "memory" storage mode.
package storage

import (
	"context"
	"errors"

	"github.com/calvinalkan/txcore/pkg/core"
)

var (
	// ErrClosed is returned by operations on a closed log or store.
	ErrClosed = errors.New("storage closed")

	// ErrCorrupt reports a log record that fails validation in the middle
	// of the log. A torn final record is repaired, not reported.
	ErrCorrupt = errors.New("log corrupt")
)

// Log is an append-only durable sequence of transactions.
//
// Implementations must be safe for concurrent use. Append returns only after
// the record is durable (or the implementation's configured durability level
// is reached).
type Log interface {
	// Append durably records tx after the last record.
	Append(ctx context.Context, tx core.Tx) error

	// Replay calls fn for every record in append order. Replay stops at the
	// first error returned by fn and returns it.
	Replay(ctx context.Context, fn func(core.Tx) error) error

	// Close releases the log. Further calls fail with [ErrClosed].
	Close() error
}

// Adapter is the primary document store used by the engine.
type Adapter interface {
	// Init loads the model transactions and then the persisted log.
	Init(ctx context.Context, model []core.Tx) error

	// FindAll queries the materialized state.
	FindAll(ctx context.Context, class core.Ref, query core.Query, opts *core.FindOptions) ([]*core.Doc, error)

	// Tx folds and persists a transaction atomically.
	Tx(ctx context.Context, tx core.Tx) (core.TxResult, error)

	// Model returns the materialized state.
	Model() *core.ModelDb

	// Close releases the underlying log.
	Close() error
}
