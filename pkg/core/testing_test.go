package core_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/calvinalkan/txcore/pkg/core"
)

const (
	classTask       core.Ref = "test:class:Task"
	classComment    core.Ref = "test:class:Comment"
	classAttachment core.Ref = "test:class:Attachment"
	classBoard      core.Ref = "test:class:Board"
	mixinTagged     core.Ref = "test:mixin:Tagged"
	mixinOwned      core.Ref = "test:mixin:Owned"

	accountAlice core.Ref = "test:account:alice"
	accountBob   core.Ref = "test:account:bob"
)

// testModel declares a small task tracker on top of the base model.
func testModel() *core.Builder {
	b := core.NewBuilder()
	core.BaseModel(b)

	b.Class(classTask, core.ClassDoc, core.Label("Task"))
	b.Attr(classTask, "title", core.Scalar(core.TypeString), core.FullText())
	b.Attr(classTask, "description", core.Scalar(core.TypeMarkup), core.FullText())
	b.Attr(classTask, "assignee", core.RefTo(core.ClassAccount))
	b.Attr(classTask, "watchers", core.ArrOf(core.RefTo(core.ClassAccount)))
	b.Attr(classTask, "estimate", core.Scalar(core.TypeNumber))
	b.Attr(classTask, "comments", core.CollectionOf(classComment))
	b.Attr(classTask, "attachments", core.CollectionOf(classAttachment))

	b.Class(classComment, core.ClassAttachedDoc, core.Label("Comment"))
	b.Attr(classComment, "message", core.Scalar(core.TypeMarkup), core.FullText())

	b.Class(classAttachment, core.ClassAttachedDoc, core.Label("Attachment"))
	b.Attr(classAttachment, "name", core.Scalar(core.TypeString))

	b.Class(classBoard, core.ClassDoc, core.Label("Board"))
	b.Attr(classBoard, "cards", core.CollectionOf(classComment))
	b.Attr(classBoard, "notes", core.CollectionOf(classComment))

	b.Mixin(mixinTagged, classTask)
	b.Attr(mixinTagged, "tags", core.ArrOf(core.Scalar(core.TypeString)))
	b.Attr(mixinTagged, "title", core.Scalar(core.TypeMarkup))

	b.Mixin(mixinOwned, classTask)
	b.Attr(mixinOwned, "owner", core.RefTo(core.ClassAccount))

	return b
}

func newTestHierarchy(t *testing.T) *core.Hierarchy {
	t.Helper()

	h, err := testModel().Hierarchy()
	if err != nil {
		t.Fatalf("load hierarchy: %v", err)
	}

	return h
}

func newTestModelDb(t *testing.T) *core.ModelDb {
	t.Helper()

	b := testModel()

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

// newTestFactory returns a factory with a deterministic clock and ids.
func newTestFactory(account core.Ref) *core.TxFactory {
	var (
		mu    sync.Mutex
		clock int64 = 1_000
		seq   int
	)

	return core.NewTxFactory(account).
		WithClock(func() int64 {
			mu.Lock()
			defer mu.Unlock()

			clock++

			return clock
		}).
		WithIDs(func() core.Ref {
			mu.Lock()
			defer mu.Unlock()

			seq++

			return core.Ref(fmt.Sprintf("test:tx:%04d", seq))
		})
}

func mustTx(t *testing.T, m *core.ModelDb, tx core.Tx) core.TxResult {
	t.Helper()

	res, err := m.Tx(t.Context(), tx)
	if err != nil {
		t.Fatalf("tx %T: %v", tx, err)
	}

	return res
}

func mustGet(t *testing.T, m *core.ModelDb, id core.Ref) *core.Doc {
	t.Helper()

	doc, ok := m.Get(id)
	if !ok {
		t.Fatalf("doc %s not found", id)
	}

	return doc
}

// recordingClient records every committed transaction.
type recordingClient struct {
	*core.LocalClient

	mu   sync.Mutex
	txes []core.Tx
}

func newRecordingClient(t *testing.T) *recordingClient {
	t.Helper()

	return &recordingClient{LocalClient: core.NewLocalClient(newTestModelDb(t))}
}

func (c *recordingClient) Tx(ctx context.Context, tx core.Tx) (core.TxResult, error) {
	res, err := c.LocalClient.Tx(ctx, tx)
	if err != nil {
		return res, err
	}

	c.mu.Lock()
	c.txes = append(c.txes, tx)
	c.mu.Unlock()

	return res, nil
}

func (c *recordingClient) committed() []core.Tx {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]core.Tx(nil), c.txes...)
}
