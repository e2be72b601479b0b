package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/txcore/pkg/core"
)

// TriggerFunc reacts to one committed transaction and returns the
// transactions to commit in response. It must not commit anything itself.
//
// A trigger only sees leaf transactions: bulk writes are expanded before
// triggers run. Collection transactions are passed whole so triggers can
// see the parent they address.
type TriggerFunc func(ctx context.Context, tx core.Tx, ctl *Control) ([]core.Tx, error)

// Trigger is a named [TriggerFunc].
type Trigger struct {
	Name string
	Fn   TriggerFunc
}

// Control is what a trigger runs with: read access to committed state and a
// factory for derived transactions.
type Control struct {
	// Hierarchy is the engine's classifier graph.
	Hierarchy *core.Hierarchy

	// Factory builds derived transactions authored by the account that made
	// the triggering transaction.
	Factory *core.TxFactory

	// Logger is scoped to the trigger.
	Logger zerolog.Logger

	// Depth is the cascade level of the triggering transaction; zero for a
	// client transaction.
	Depth int

	engine *Engine
}

// FindAll queries committed state, including full-text search.
func (c *Control) FindAll(ctx context.Context, class core.Ref, query core.Query, opts *core.FindOptions) ([]*core.Doc, error) {
	return c.engine.FindAll(ctx, class, query, opts)
}

// FindOne returns the first match, or nil.
func (c *Control) FindOne(ctx context.Context, class core.Ref, query core.Query) (*core.Doc, error) {
	return c.engine.FindOne(ctx, class, query)
}
