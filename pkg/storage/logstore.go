package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/txcore/pkg/core"
)

// LogStore is an [Adapter] folding transactions into a [core.ModelDb] and
// appending them to a [Log].
//
// Model transactions (classifier and attribute changes) are applied to the
// hierarchy before they are folded, both on live commits and on replay. A
// live commit whose fold or append fails restores the previous definitions.
type LogStore struct {
	model  *core.ModelDb
	log    Log
	logger zerolog.Logger
	closed atomic.Bool
}

// Option configures a [LogStore].
type Option func(*LogStore)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *LogStore) { s.logger = logger }
}

// NewLogStore returns a store folding into model and persisting to log.
func NewLogStore(model *core.ModelDb, log Log, opts ...Option) *LogStore {
	s := &LogStore{model: model, log: log, logger: zerolog.Nop()}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Init folds model (already reflected in the hierarchy) and then replays the
// log. Model transactions are not appended; they are supplied on every open.
func (s *LogStore) Init(ctx context.Context, model []core.Tx) error {
	if s.closed.Load() {
		return ErrClosed
	}

	err := s.model.Init(ctx, model)
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}

	var replayed int

	err = s.log.Replay(ctx, func(tx core.Tx) error {
		err := s.applyHierarchy(tx)
		if err != nil {
			return err
		}

		_, err = s.model.Tx(ctx, tx)
		if err != nil {
			return fmt.Errorf("replay tx %s: %w", tx.Header().ID, err)
		}

		replayed++

		return nil
	})
	if err != nil {
		return fmt.Errorf("replay log: %w", err)
	}

	s.logger.Debug().
		Int("model_txes", len(model)).
		Int("replayed", replayed).
		Int("docs", s.model.Len()).
		Msg("storage initialized")

	return nil
}

// FindAll implements [Adapter].
func (s *LogStore) FindAll(ctx context.Context, class core.Ref, query core.Query, opts *core.FindOptions) ([]*core.Doc, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	return s.model.FindAll(ctx, class, query, opts)
}

// Tx implements [Adapter]. The append runs while the fold is still
// uncommitted; an append failure reverts it.
func (s *LogStore) Tx(ctx context.Context, tx core.Tx) (core.TxResult, error) {
	if s.closed.Load() {
		return core.TxResult{}, ErrClosed
	}

	undo, err := s.stageHierarchy(tx)
	if err != nil {
		return core.TxResult{}, err
	}

	res, err := s.model.Apply(ctx, tx, func(ctx context.Context) error {
		return s.log.Append(ctx, tx)
	})
	if err != nil {
		undo()

		return core.TxResult{}, err
	}

	return res, nil
}

func (s *LogStore) stageHierarchy(tx core.Tx) (func(), error) {
	h := s.model.Hierarchy()
	if !h.IsModelTx(tx) {
		return func() {}, nil
	}

	undo, err := h.Stage(tx)
	if err != nil {
		return nil, fmt.Errorf("update hierarchy: %w", err)
	}

	return undo, nil
}

func (s *LogStore) applyHierarchy(tx core.Tx) error {
	h := s.model.Hierarchy()
	if !h.IsModelTx(tx) {
		return nil
	}

	err := h.Tx(tx)
	if err != nil {
		return fmt.Errorf("update hierarchy: %w", err)
	}

	return nil
}

// History calls fn for every persisted transaction in commit order. fn must
// not commit through the store.
func (s *LogStore) History(ctx context.Context, fn func(core.Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}

	return s.log.Replay(ctx, fn)
}

// Model implements [Adapter].
func (s *LogStore) Model() *core.ModelDb { return s.model }

// Close closes the log. It is safe to call more than once.
func (s *LogStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	err := s.log.Close()
	if err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("close log: %w", err)
	}

	return nil
}

var _ Adapter = (*LogStore)(nil)
