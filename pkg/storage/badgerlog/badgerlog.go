// Package badgerlog implements storage.Log on BadgerDB.
//
// Records are stored under "tx:<seq>" keys, seq zero padded to 16 digits so
// key order is append order. Values are the CBOR encoding of
// core.TxRecord.
package badgerlog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/storage"
)

const keyPrefix = "tx:"

var tracer = otel.Tracer("github.com/calvinalkan/txcore/pkg/storage/badgerlog")

// Config configures [Open].
type Config struct {
	// Path is the BadgerDB directory. Required unless InMemory is set.
	Path string

	// InMemory keeps the database in memory (tests).
	InMemory bool

	// NoSyncWrites disables synchronous writes.
	NoSyncWrites bool

	// Logger receives BadgerDB's own diagnostics. Nil silences them.
	Logger *zerolog.Logger
}

// Log is a BadgerDB backed transaction log.
type Log struct {
	db     *badger.DB
	enc    cbor.EncMode
	dec    cbor.DecMode
	seq    atomic.Uint64
	mu     sync.Mutex // serializes appends so keys are written in order
	closed atomic.Bool
}

// Open opens or creates the log.
func Open(cfg Config) (*Log, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("open badgerlog: path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	opts = opts.WithSyncWrites(!cfg.NoSyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: cfg.Logger.With().Str("component", "badger").Logger()})
	} else {
		opts = opts.WithLogger(nil)
	}

	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("open badgerlog: cbor enc mode: %w", err)
	}

	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("open badgerlog: cbor dec mode: %w", err)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badgerlog: %w", err)
	}

	l := &Log{db: db, enc: enc, dec: dec}

	last, err := l.lastSeq()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open badgerlog: %w", err), db.Close())
	}

	l.seq.Store(last)

	return l, nil
}

func key(seq uint64) []byte {
	return fmt.Appendf(nil, "%s%016d", keyPrefix, seq)
}

func parseKey(k []byte) (uint64, error) {
	seq, err := strconv.ParseUint(string(k[len(keyPrefix):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed key %q", storage.ErrCorrupt, k)
	}

	return seq, nil
}

// lastSeq finds the highest sequence number by seeking backwards.
func (l *Log) lastSeq() (uint64, error) {
	var last uint64

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append([]byte(keyPrefix), 0xff))

		if !it.ValidForPrefix([]byte(keyPrefix)) {
			return nil
		}

		seq, err := parseKey(it.Item().Key())
		if err != nil {
			return err
		}

		last = seq

		return nil
	})

	return last, err
}

// Append implements storage.Log.
func (l *Log) Append(ctx context.Context, tx core.Tx) error {
	if l.closed.Load() {
		return storage.ErrClosed
	}

	h := tx.Header()

	_, span := tracer.Start(ctx, "badgerlog.Append", trace.WithAttributes(
		attribute.String("tx.id", string(h.ID)),
		attribute.String("tx.class", string(h.Class)),
	))
	defer span.End()

	rec, err := core.ToRecord(tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")

		return fmt.Errorf("encode tx: %w", err)
	}

	data, err := l.enc.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")

		return fmt.Errorf("encode tx %s: %w", h.ID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.seq.Load() + 1

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(seq), data)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")

		return fmt.Errorf("append %s: %w", h.ID, err)
	}

	l.seq.Store(seq)

	span.SetAttributes(attribute.Int64("seq", int64(seq)), attribute.Int("bytes", len(data)))

	return nil
}

// Replay implements storage.Log. A gap in the sequence is reported as
// corruption.
func (l *Log) Replay(ctx context.Context, fn func(core.Tx) error) error {
	if l.closed.Load() {
		return storage.ErrClosed
	}

	ctx, span := tracer.Start(ctx, "badgerlog.Replay")
	defer span.End()

	var txes []core.Tx

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		var prev uint64

		for it.Rewind(); it.ValidForPrefix([]byte(keyPrefix)); it.Next() {
			err := ctx.Err()
			if err != nil {
				return err
			}

			item := it.Item()

			seq, err := parseKey(item.Key())
			if err != nil {
				return err
			}

			if seq != prev+1 {
				return fmt.Errorf("%w: sequence gap, expected %d got %d", storage.ErrCorrupt, prev+1, seq)
			}

			prev = seq

			err = item.Value(func(val []byte) error {
				var rec core.TxRecord

				err := l.dec.Unmarshal(val, &rec)
				if err != nil {
					return fmt.Errorf("%w: seq %d: %w", storage.ErrCorrupt, seq, err)
				}

				tx, err := rec.ToTx()
				if err != nil {
					return fmt.Errorf("seq %d: %w", seq, err)
				}

				txes = append(txes, tx)

				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "replay failed")

		return fmt.Errorf("replay: %w", err)
	}

	span.SetAttributes(attribute.Int("records", len(txes)))

	for _, tx := range txes {
		err := fn(tx)
		if err != nil {
			return err
		}
	}

	return nil
}

// Close implements storage.Log.
func (l *Log) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	err := l.db.Close()
	if err != nil {
		return fmt.Errorf("close badger: %w", err)
	}

	return nil
}

// badgerLogger routes BadgerDB diagnostics to zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error().Msgf(format, args...)
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn().Msgf(format, args...)
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.logger.Debug().Msgf(format, args...)
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.logger.Trace().Msgf(format, args...)
}

var _ storage.Log = (*Log)(nil)
