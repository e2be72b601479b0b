// Package pipeline commits transactions and runs their derived effects.
//
// [Engine] is the [core.Client] used by applications. A transaction is
// committed through the storage adapter; once committed it is handed to the
// full-text index and then to the registered triggers. Transactions produced
// by triggers are committed the same way and fed back through the index and
// triggers, breadth first, up to a maximum cascade depth.
//
// Derived effects are best effort. A failure while indexing, running a
// trigger or committing a derived transaction never rolls back the primary
// transaction; it is logged, counted and returned in
// [core.TxResult.DerivedErr].
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/fulltext"
	"github.com/calvinalkan/txcore/pkg/storage"
)

// DefaultMaxDepth is the default cascade depth limit.
const DefaultMaxDepth = 8

// ErrCascadeDepth is recorded when a trigger produces a transaction beyond
// the maximum cascade depth. The transaction is dropped.
var ErrCascadeDepth = errors.New("trigger cascade exceeds max depth")

var tracer = otel.Tracer("github.com/calvinalkan/txcore/pkg/pipeline")

// Engine serializes commits and drives derived processing.
type Engine struct {
	store    storage.Adapter
	index    *fulltext.Index
	triggers []Trigger
	maxDepth int
	factory  *core.TxFactory
	logger   zerolog.Logger
	reg      prometheus.Registerer
	metrics  *metrics

	// mu serializes Tx calls, cascade included.
	mu     sync.Mutex
	closed bool
}

// Option configures an [Engine].
type Option func(*Engine)

// WithIndex routes committed transactions and $search queries to index.
func WithIndex(index *fulltext.Index) Option {
	return func(e *Engine) { e.index = index }
}

// WithTriggers appends triggers. They run in registration order.
func WithTriggers(triggers ...Trigger) Option {
	return func(e *Engine) { e.triggers = append(e.triggers, triggers...) }
}

// WithMaxDepth sets the cascade depth limit. Values below 1 are ignored.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithRegisterer registers the engine's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.reg = reg }
}

// WithDerivedFactory sets the template for derived transaction factories.
// Each derived transaction is attributed to the author of the transaction
// that triggered it.
func WithDerivedFactory(f *core.TxFactory) Option {
	return func(e *Engine) { e.factory = f }
}

// New returns an engine over an initialized storage adapter.
func New(store storage.Adapter, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		maxDepth: DefaultMaxDepth,
		factory:  core.NewDerivedTxFactory(core.AccountSystem),
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.metrics = newMetrics(e.reg)

	return e
}

// item is a committed transaction awaiting derived processing.
type item struct {
	tx    core.Tx
	depth int
}

// Tx commits tx and runs derived processing. Only a failure to commit tx
// itself is returned as an error.
func (e *Engine) Tx(ctx context.Context, tx core.Tx) (core.TxResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return core.TxResult{}, storage.ErrClosed
	}

	h := tx.Header()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.Tx", trace.WithAttributes(
		attribute.String("tx.id", string(h.ID)),
		attribute.String("tx.class", string(h.Class)),
		attribute.String("tx.author", string(h.ModifiedBy)),
	))
	defer span.End()

	res, err := e.store.Tx(ctx, tx)
	if err != nil {
		e.metrics.txes.WithLabelValues("primary", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")

		return core.TxResult{}, err
	}

	e.metrics.txes.WithLabelValues("primary", "ok").Inc()

	depth, committed, derivedErr := e.cascade(ctx, tx)

	res.DerivedErr = derivedErr

	span.SetAttributes(attribute.Int("cascade.depth", depth), attribute.Int("cascade.txes", committed))

	if derivedErr != nil {
		span.RecordError(derivedErr)
	}

	e.metrics.cascadeDepth.Observe(float64(depth))
	e.metrics.commitSeconds.Observe(time.Since(start).Seconds())

	return res, nil
}

// cascade indexes tx and runs triggers breadth first. It returns the deepest
// level reached, the number of derived transactions committed and the
// joined derived errors.
func (e *Engine) cascade(ctx context.Context, tx core.Tx) (int, int, error) {
	var (
		errs      []error
		maxDepth  int
		committed int
	)

	queue := []item{{tx: tx}}

	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		maxDepth = max(maxDepth, it.depth)

		if e.index != nil {
			err := e.index.Tx(ctx, it.tx)
			if err != nil {
				errs = append(errs, e.derivedError("index", it.tx, err))
			}
		}

		for _, leaf := range leaves(it.tx) {
			for _, trig := range e.triggers {
				out, err := e.runTrigger(ctx, trig, leaf, it.depth)
				if err != nil {
					errs = append(errs, e.derivedError("trigger", leaf, fmt.Errorf("trigger %s: %w", trig.Name, err)))
				}

				for _, d := range out {
					if it.depth+1 > e.maxDepth {
						errs = append(errs, e.derivedError("depth", d,
							fmt.Errorf("%w: trigger %s at depth %d", ErrCascadeDepth, trig.Name, it.depth+1)))

						continue
					}

					_, err := e.store.Tx(ctx, d)
					if err != nil {
						e.metrics.txes.WithLabelValues("derived", "error").Inc()
						errs = append(errs, e.derivedError("commit", d, err))

						continue
					}

					e.metrics.txes.WithLabelValues("derived", "ok").Inc()

					committed++

					queue = append(queue, item{tx: d, depth: it.depth + 1})
				}
			}
		}
	}

	return maxDepth, committed, errors.Join(errs...)
}

func (e *Engine) runTrigger(ctx context.Context, trig Trigger, tx core.Tx, depth int) ([]core.Tx, error) {
	ctx, span := tracer.Start(ctx, "pipeline.trigger", trace.WithAttributes(
		attribute.String("trigger", trig.Name),
		attribute.Int("depth", depth),
	))
	defer span.End()

	ctl := &Control{
		Hierarchy: e.Hierarchy(),
		Factory:   e.factory.WithAccount(tx.Header().ModifiedBy),
		Logger:    e.logger.With().Str("trigger", trig.Name).Logger(),
		Depth:     depth,
		engine:    e,
	}

	out, err := trig.Fn(ctx, tx, ctl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "trigger failed")
	}

	if len(out) > 0 {
		e.metrics.triggerTxes.WithLabelValues(trig.Name).Add(float64(len(out)))
	}

	return out, err
}

func (e *Engine) derivedError(stage string, tx core.Tx, err error) error {
	e.metrics.derivedErrors.WithLabelValues(stage).Inc()

	h := tx.Header()

	e.logger.Error().
		Err(err).
		Str("stage", stage).
		Str("tx_id", string(h.ID)).
		Str("tx_class", string(h.Class)).
		Msg("derived processing failed")

	if cud := core.CUDOf(tx); cud != nil {
		return fmt.Errorf("%s %s: %w", stage, h.ID, &core.Error{ObjectID: cud.ObjectID, Class: cud.ObjectClass, Err: err})
	}

	return fmt.Errorf("%s %s: %w", stage, h.ID, err)
}

// leaves expands bulk writes into their transactions, recursively.
func leaves(tx core.Tx) []core.Tx {
	bulk, ok := tx.(*core.TxBulkWrite)
	if !ok {
		return []core.Tx{tx}
	}

	var out []core.Tx
	for _, inner := range bulk.Txes {
		out = append(out, leaves(inner)...)
	}

	return out
}

// FindAll implements [core.Client]. A $search query is answered by the
// full-text index.
func (e *Engine) FindAll(ctx context.Context, class core.Ref, query core.Query, opts *core.FindOptions) ([]*core.Doc, error) {
	if _, ok := query[core.SearchKey]; ok && e.index != nil {
		return e.index.FindAll(ctx, class, query, opts)
	}

	return e.store.FindAll(ctx, class, query, opts)
}

// FindOne implements [core.Client].
func (e *Engine) FindOne(ctx context.Context, class core.Ref, query core.Query) (*core.Doc, error) {
	docs, err := e.FindAll(ctx, class, query, &core.FindOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}

	return docs[0], nil
}

// Hierarchy implements [core.Client].
func (e *Engine) Hierarchy() *core.Hierarchy { return e.store.Model().Hierarchy() }

// Model implements [core.Client].
func (e *Engine) Model() *core.ModelDb { return e.store.Model() }

// Index returns the full-text index, or nil.
func (e *Engine) Index() *fulltext.Index { return e.index }

// Close closes the storage adapter and the index adapter.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	e.closed = true

	err := e.store.Close()

	if e.index != nil {
		err = errors.Join(err, e.index.Adapter().Close())
	}

	return err
}

var _ core.Client = (*Engine)(nil)
