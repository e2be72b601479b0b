package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/calvinalkan/txcore/pkg/core"
)

// MemoryLog keeps JSON encoded records in memory. Records go through the
// same codec as the durable logs, so replay sees exactly what a file log
// would return.
type MemoryLog struct {
	mu      sync.Mutex
	records [][]byte
	closed  bool
}

// NewMemoryLog returns an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements [Log].
func (l *MemoryLog) Append(ctx context.Context, tx core.Tx) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	data, err := core.MarshalTx(tx)
	if err != nil {
		return fmt.Errorf("encode tx: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	l.records = append(l.records, data)

	return nil
}

// Replay implements [Log].
func (l *MemoryLog) Replay(ctx context.Context, fn func(core.Tx) error) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()

		return ErrClosed
	}

	records := append([][]byte(nil), l.records...)
	l.mu.Unlock()

	for i, data := range records {
		err := ctx.Err()
		if err != nil {
			return err
		}

		tx, err := core.UnmarshalTx(data)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}

		err = fn(tx)
		if err != nil {
			return err
		}
	}

	return nil
}

// Len returns the number of records.
func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.records)
}

// Reopen returns a new log sharing the records, as if the process restarted.
func (l *MemoryLog) Reopen() *MemoryLog {
	l.mu.Lock()
	defer l.mu.Unlock()

	return &MemoryLog{records: append([][]byte(nil), l.records...)}
}

// Close implements [Log].
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true

	return nil
}

var _ Log = (*MemoryLog)(nil)
