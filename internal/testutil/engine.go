package testutil

import (
	"testing"

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/fulltext"
	"github.com/calvinalkan/txcore/pkg/pipeline"
	"github.com/calvinalkan/txcore/pkg/storage"
)

// NewEngine returns an engine over an in-memory log and an in-memory
// full-text index, loaded with the model in b. Derived transactions get
// deterministic "dtx-" ids. opts are applied after the defaults.
func NewEngine(t *testing.T, b *core.Builder, opts ...pipeline.Option) *pipeline.Engine {
	t.Helper()

	h, err := b.Hierarchy()
	if err != nil {
		t.Fatalf("load hierarchy: %v", err)
	}

	model := core.NewModelDb(h)
	store := storage.NewLogStore(model, storage.NewMemoryLog())

	err = store.Init(t.Context(), b.Txes())
	if err != nil {
		t.Fatalf("init store: %v", err)
	}

	index := fulltext.New(h, fulltext.NewMemory(), store)

	defaults := []pipeline.Option{
		pipeline.WithIndex(index),
		pipeline.WithDerivedFactory(DerivedFactory(core.AccountSystem)),
	}

	e := pipeline.New(store, append(defaults, opts...)...)

	t.Cleanup(func() { _ = e.Close() })

	return e
}
