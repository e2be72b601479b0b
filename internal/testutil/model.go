// Package testutil holds the shared fixtures used by package tests: a small
// task tracker model, a deterministic transaction factory and a conformance
// suite for storage.Log implementations.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/calvinalkan/txcore/pkg/core"
)

const (
	ClassTask    core.Ref = "tracker:class:Task"
	ClassComment core.Ref = "tracker:class:Comment"
	ClassProject core.Ref = "tracker:class:Project"
	MixinLabels  core.Ref = "tracker:mixin:Labels"

	AccountAlice core.Ref = "tracker:account:alice"
	AccountBob   core.Ref = "tracker:account:bob"
	AccountCarol core.Ref = "tracker:account:carol"
)

// TaskModel declares the tracker model on top of [core.BaseModel]. Callers
// may extend the returned builder before loading it.
func TaskModel() *core.Builder {
	b := core.NewBuilder()
	core.BaseModel(b)

	b.Class(ClassProject, core.ClassDoc, core.Label("Project"))
	b.Attr(ClassProject, "name", core.Scalar(core.TypeString), core.FullText())
	b.Attr(ClassProject, "tasks", core.CollectionOf(ClassTask))

	b.Class(ClassTask, core.ClassAttachedDoc, core.Label("Task"))
	b.Attr(ClassTask, "title", core.Scalar(core.TypeString), core.FullText())
	b.Attr(ClassTask, "description", core.Scalar(core.TypeMarkup), core.FullText())
	b.Attr(ClassTask, "assignee", core.RefTo(core.ClassAccount))
	b.Attr(ClassTask, "estimate", core.Scalar(core.TypeNumber))
	b.Attr(ClassTask, "comments", core.CollectionOf(ClassComment))

	b.Class(ClassComment, core.ClassAttachedDoc, core.Label("Comment"))
	b.Attr(ClassComment, "message", core.Scalar(core.TypeMarkup), core.FullText())

	b.Mixin(MixinLabels, ClassTask)
	b.Attr(MixinLabels, "labels", core.ArrOf(core.Scalar(core.TypeString)))
	b.Attr(MixinLabels, "note", core.Scalar(core.TypeString), core.FullText())

	for _, acc := range []core.Ref{AccountAlice, AccountBob, AccountCarol} {
		name := strings.TrimPrefix(string(acc), "tracker:account:")

		b.Doc(core.ClassAccount, acc, map[string]any{
			"email": name + "@example.com",
			"name":  name,
		})
	}

	return b
}

// LoadModel builds the hierarchy and an initialized ModelDb from b.
func LoadModel(t testing.TB, b *core.Builder) *core.ModelDb {
	t.Helper()

	h, err := b.Hierarchy()
	if err != nil {
		t.Fatalf("load hierarchy: %v", err)
	}

	m := core.NewModelDb(h)

	err = m.Init(t.Context(), b.Txes())
	if err != nil {
		t.Fatalf("init model: %v", err)
	}

	return m
}

// Factory returns a tx factory with a deterministic clock and ids prefixed
// with "tx-". It is safe for concurrent use.
func Factory(account core.Ref) *core.TxFactory {
	c := NewClock("tx")

	return core.NewTxFactory(account).WithClock(c.Next).WithIDs(c.NextID)
}

// DerivedFactory is [Factory] stamping derived transactions with ids
// prefixed "dtx-", so they never collide with [Factory] ids.
func DerivedFactory(account core.Ref) *core.TxFactory {
	c := NewClock("dtx")

	return core.NewDerivedTxFactory(account).WithClock(c.Next).WithIDs(c.NextID)
}

// Clock provides deterministic, monotonically increasing timestamps and ids.
type Clock struct {
	mu     sync.Mutex
	prefix string
	now    int64
	seq    int
}

// NewClock returns a clock starting at 10_000 ms.
func NewClock(prefix string) *Clock {
	return &Clock{prefix: prefix, now: 10_000}
}

// Next advances the clock by one millisecond.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now++

	return c.now
}

// NextID returns the next sequential id.
func (c *Clock) NextID() core.Ref {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++

	return core.Ref(fmt.Sprintf("%s-%06d", c.prefix, c.seq))
}
