package core

import (
	"context"
)

// Client is the read/write surface shared by the engine, the operations
// facade and triggers.
type Client interface {
	// FindAll returns documents of class matching query.
	FindAll(ctx context.Context, class Ref, query Query, opts *FindOptions) ([]*Doc, error)

	// FindOne returns the first match, or nil when nothing matches.
	FindOne(ctx context.Context, class Ref, query Query) (*Doc, error)

	// Tx commits a transaction.
	Tx(ctx context.Context, tx Tx) (TxResult, error)

	// Hierarchy returns the classifier graph.
	Hierarchy() *Hierarchy

	// Model returns the materialized document store.
	Model() *ModelDb

	// Close releases resources.
	Close() error
}

// LocalClient is a [Client] over a bare [ModelDb]: transactions are folded
// in memory without persistence, indexing or triggers.
type LocalClient struct {
	model *ModelDb
}

// NewLocalClient returns a client over model.
func NewLocalClient(model *ModelDb) *LocalClient {
	return &LocalClient{model: model}
}

// FindAll implements [Client].
func (c *LocalClient) FindAll(ctx context.Context, class Ref, query Query, opts *FindOptions) ([]*Doc, error) {
	return c.model.FindAll(ctx, class, query, opts)
}

// FindOne implements [Client].
func (c *LocalClient) FindOne(ctx context.Context, class Ref, query Query) (*Doc, error) {
	return c.model.FindOne(ctx, class, query)
}

// Tx implements [Client]. Model transactions update the hierarchy first.
func (c *LocalClient) Tx(ctx context.Context, tx Tx) (TxResult, error) {
	h := c.model.Hierarchy()

	if h.IsModelTx(tx) {
		err := h.Tx(tx)
		if err != nil {
			return TxResult{}, err
		}
	}

	return c.model.Tx(ctx, tx)
}

// Hierarchy implements [Client].
func (c *LocalClient) Hierarchy() *Hierarchy { return c.model.Hierarchy() }

// Model implements [Client].
func (c *LocalClient) Model() *ModelDb { return c.model }

// Close implements [Client].
func (c *LocalClient) Close() error { return nil }
