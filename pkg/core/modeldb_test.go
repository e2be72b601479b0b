package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/txcore/pkg/core"
)

func Test_ModelDb_Folds_Create_Update_Remove_When_Applied_In_Order(t *testing.T) {
	t.Parallel()

	m := newTestModelDb(t)
	f := newTestFactory(accountAlice)

	create := f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, map[string]any{
		"title":    "Write docs",
		"estimate": 2,
	}, "task-1")
	mustTx(t, m, create)

	update := f.CreateTxUpdateDoc(classTask, core.SpaceWorkspace, "task-1", core.Update{
		core.Set{Path: "title", Value: "Write better docs"},
		core.Inc{Path: "estimate", By: 3},
		core.Push{Path: "watchers", Values: []any{string(accountBob)}},
	}, false)
	mustTx(t, m, update)

	doc := mustGet(t, m, "task-1")

	want := map[string]any{
		"title":    "Write better docs",
		"estimate": 5.0,
		"watchers": []any{string(accountBob)},
	}

	if diff := cmp.Diff(want, doc.Attributes); diff != "" {
		t.Fatalf("attributes mismatch (-want +got):\n%s", diff)
	}

	if doc.CreatedOn != create.ModifiedOn || doc.ModifiedOn != update.ModifiedOn {
		t.Fatalf("timestamps created=%d modified=%d, want %d/%d", doc.CreatedOn, doc.ModifiedOn, create.ModifiedOn, update.ModifiedOn)
	}

	mustTx(t, m, f.CreateTxRemoveDoc(classTask, core.SpaceWorkspace, "task-1"))

	if _, ok := m.Get("task-1"); ok {
		t.Fatal("task should be gone after remove")
	}
}

func Test_ModelDb_Returns_ErrNotFound_When_Updating_Missing_Doc(t *testing.T) {
	t.Parallel()

	m := newTestModelDb(t)
	f := newTestFactory(accountAlice)

	_, err := m.Tx(t.Context(), f.CreateTxUpdateDoc(classTask, core.SpaceWorkspace, "missing", core.Update{
		core.Set{Path: "title", Value: "x"},
	}, false))
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	var cErr *core.Error
	if !errors.As(err, &cErr) || cErr.ObjectID != "missing" {
		t.Fatalf("err = %v, want *core.Error with object id", err)
	}

	_, err = m.Tx(t.Context(), f.CreateTxRemoveDoc(classTask, core.SpaceWorkspace, "missing"))
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("remove err = %v, want ErrNotFound", err)
	}
}

func Test_ModelDb_Returns_ErrAlreadyExists_When_Creating_Live_Id(t *testing.T) {
	t.Parallel()

	m := newTestModelDb(t)
	f := newTestFactory(accountAlice)

	mustTx(t, m, f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, map[string]any{"title": "a"}, "dup"))

	_, err := m.Tx(t.Context(), f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, map[string]any{"title": "b"}, "dup"))
	if !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}

	if got := mustGet(t, m, "dup").Attributes["title"]; got != "a" {
		t.Fatalf("title = %v, want original value", got)
	}
}

func Test_ModelDb_Mixin_Keeps_Class_And_Is_Queryable_By_Mixin(t *testing.T) {
	t.Parallel()

	m := newTestModelDb(t)
	f := newTestFactory(accountAlice)

	mustTx(t, m, f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, map[string]any{"title": "a"}, "t1"))
	mustTx(t, m, f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, map[string]any{"title": "b"}, "t2"))
	mustTx(t, m, f.CreateTxMixin("t1", classTask, core.SpaceWorkspace, mixinTagged, core.Update{
		core.Set{Path: "tags", Value: []any{"urgent"}},
	}))

	doc := mustGet(t, m, "t1")
	if doc.Class != classTask {
		t.Fatalf("class = %s, mixin must not change it", doc.Class)
	}

	tagged, err := m.FindAll(t.Context(), mixinTagged, nil, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	if len(tagged) != 1 || tagged[0].ID != "t1" {
		t.Fatalf("tagged = %v, want only t1", ids(tagged))
	}

	byTag, err := m.FindAll(t.Context(), classTask, core.Query{string(mixinTagged) + ".tags": "urgent"}, nil)
	if err != nil {
		t.Fatalf("find by mixin path: %v", err)
	}

	if len(byTag) != 1 {
		t.Fatalf("find by dotted mixin path returned %v", ids(byTag))
	}
}

func Test_ModelDb_BulkWrite_Leaves_State_Unchanged_When_Any_Tx_Fails(t *testing.T) {
	t.Parallel()

	m := newTestModelDb(t)
	f := newTestFactory(accountAlice)

	mustTx(t, m, f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, map[string]any{"title": "keep"}, "t1"))

	before := m.Snapshot()

	bulk := f.CreateTxBulkWrite(
		f.CreateTxUpdateDoc(classTask, core.SpaceWorkspace, "t1", core.Update{core.Set{Path: "title", Value: "changed"}}, false),
		f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, map[string]any{"title": "new"}, "t2"),
		f.CreateTxRemoveDoc(classTask, core.SpaceWorkspace, "missing"),
	)

	_, err := m.Tx(t.Context(), bulk)
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if diff := cmp.Diff(before, m.Snapshot()); diff != "" {
		t.Fatalf("state changed after failed bulk (-before +after):\n%s", diff)
	}
}

func Test_ModelDb_Apply_Reverts_Fold_When_Persist_Fails(t *testing.T) {
	t.Parallel()

	m := newTestModelDb(t)
	f := newTestFactory(accountAlice)

	errDisk := errors.New("disk full")

	_, err := m.Apply(t.Context(), f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, nil, "t1"), func(context.Context) error {
		return errDisk
	})
	if !errors.Is(err, errDisk) {
		t.Fatalf("err = %v, want persist error", err)
	}

	if _, ok := m.Get("t1"); ok {
		t.Fatal("document must not exist after failed persist")
	}
}

func Test_ModelDb_CollectionCUD_Attaches_Child_To_Parent(t *testing.T) {
	t.Parallel()

	m := newTestModelDb(t)
	f := newTestFactory(accountAlice)

	mustTx(t, m, f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, map[string]any{"title": "parent"}, "t1"))
	mustTx(t, m, f.CreateTxCollectionCUD(classTask, "t1", core.SpaceWorkspace, "comments",
		f.CreateTxCreateDoc(classComment, core.SpaceWorkspace, map[string]any{"message": "hi"}, "c1")))

	c := mustGet(t, m, "c1")
	if c.AttachedTo != "t1" || c.AttachedToClass != classTask || c.Collection != "comments" {
		t.Fatalf("attached fields = %s/%s/%s", c.AttachedTo, c.AttachedToClass, c.Collection)
	}

	children, err := m.FindAll(t.Context(), classComment, core.Query{core.FieldAttachedTo: "t1"}, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	if len(children) != 1 {
		t.Fatalf("children = %v, want [c1]", ids(children))
	}

	mustTx(t, m, f.CreateTxCollectionCUD(classTask, "t1", core.SpaceWorkspace, "comments",
		f.CreateTxRemoveDoc(classComment, core.SpaceWorkspace, "c1")))

	if _, ok := m.Get("c1"); ok {
		t.Fatal("comment should be removed through the collection tx")
	}
}

func Test_ModelDb_Push_Honors_Position_And_Pull_Removes_All_Matches(t *testing.T) {
	t.Parallel()

	m := newTestModelDb(t)
	f := newTestFactory(accountAlice)

	mustTx(t, m, f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, map[string]any{
		"watchers": []core.Ref{"a", "b", "a"},
	}, "t1"))

	mustTx(t, m, f.CreateTxUpdateDoc(classTask, core.SpaceWorkspace, "t1", core.Update{
		core.PushAt("watchers", 0, "z", "y"),
	}, false))

	if diff := cmp.Diff([]any{"z", "y", "a", "b", "a"}, mustGet(t, m, "t1").Attributes["watchers"]); diff != "" {
		t.Fatalf("after push (-want +got):\n%s", diff)
	}

	mustTx(t, m, f.CreateTxUpdateDoc(classTask, core.SpaceWorkspace, "t1", core.Update{
		core.Pull{Path: "watchers", Values: []any{"a"}},
	}, false))

	if diff := cmp.Diff([]any{"z", "y", "b"}, mustGet(t, m, "t1").Attributes["watchers"]); diff != "" {
		t.Fatalf("after pull (-want +got):\n%s", diff)
	}
}

func Test_ModelDb_PutBag_Sets_Key_Inside_Bag(t *testing.T) {
	t.Parallel()

	m := newTestModelDb(t)
	f := newTestFactory(accountAlice)

	mustTx(t, m, f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, nil, "t1"))
	mustTx(t, m, f.CreateTxPutBag(classTask, core.SpaceWorkspace, "t1", "extra", "color", "red"))
	mustTx(t, m, f.CreateTxPutBag(classTask, core.SpaceWorkspace, "t1", "extra", "size", 3))

	got := mustGet(t, m, "t1").Attributes["extra"]
	if diff := cmp.Diff(map[string]any{"color": "red", "size": 3.0}, got); diff != "" {
		t.Fatalf("bag mismatch (-want +got):\n%s", diff)
	}
}

func Test_ModelDb_Update_Retrieve_Returns_Updated_Doc(t *testing.T) {
	t.Parallel()

	m := newTestModelDb(t)
	f := newTestFactory(accountAlice)

	mustTx(t, m, f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, map[string]any{"title": "a"}, "t1"))

	res := mustTx(t, m, f.CreateTxUpdateDoc(classTask, core.SpaceWorkspace, "t1", core.Update{
		core.Set{Path: "title", Value: "b"},
	}, true))

	if res.Object == nil || res.Object.Attributes["title"] != "b" {
		t.Fatalf("retrieved = %+v, want updated doc", res.Object)
	}
}

func Test_ModelDb_Replay_Produces_Identical_State_When_Log_Is_Reencoded(t *testing.T) {
	t.Parallel()

	f := newTestFactory(accountAlice)

	log := []core.Tx{
		f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, map[string]any{"title": "a", "watchers": []core.Ref{accountBob}}, "t1"),
		f.CreateTxMixin("t1", classTask, core.SpaceWorkspace, mixinOwned, core.Update{core.Set{Path: "owner", Value: accountAlice}}),
		f.CreateTxCollectionCUD(classTask, "t1", core.SpaceWorkspace, "comments",
			f.CreateTxCreateDoc(classComment, core.SpaceWorkspace, map[string]any{"message": "m"}, "c1")),
		f.CreateTxUpdateDoc(classTask, core.SpaceWorkspace, "t1", core.Update{
			core.Inc{Path: "estimate", By: 2},
			core.PushAt("watchers", 0, string(accountAlice)),
		}, false),
		f.CreateTxBulkWrite(
			f.CreateTxPutBag(classTask, core.SpaceWorkspace, "t1", "extra", "k", "v"),
			f.CreateTxUpdateDoc(classTask, core.SpaceWorkspace, "t1", core.Update{core.Unset{Path: "title"}}, false),
		),
	}

	live := newTestModelDb(t)
	for _, tx := range log {
		mustTx(t, live, tx)
	}

	replayed := newTestModelDb(t)

	for _, tx := range log {
		data, err := core.MarshalTx(tx)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		decoded, err := core.UnmarshalTx(data)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}

		mustTx(t, replayed, decoded)
	}

	if diff := cmp.Diff(live.Snapshot(), replayed.Snapshot()); diff != "" {
		t.Fatalf("replayed state differs (-live +replayed):\n%s", diff)
	}
}

func Test_TxRecord_ToTx_Restores_Nested_Collection_Tx(t *testing.T) {
	t.Parallel()

	f := newTestFactory(accountAlice)
	tx := f.CreateTxCollectionCUD(classTask, "t1", core.SpaceWorkspace, "comments",
		f.CreateTxCreateDoc(classComment, core.SpaceWorkspace, map[string]any{"message": "m"}, "c1"))

	rec, err := core.ToRecord(tx)
	if err != nil {
		t.Fatalf("to record: %v", err)
	}

	if rec.Tx == nil || rec.Tx.ObjectID != "c1" {
		t.Fatalf("inner record = %+v, want object c1", rec.Tx)
	}

	got, err := rec.ToTx()
	if err != nil {
		t.Fatalf("to tx: %v", err)
	}

	if diff := cmp.Diff(core.Tx(tx), got); diff != "" {
		t.Fatalf("decoded tx differs (-want +got):\n%s", diff)
	}
}

func ids(docs []*core.Doc) []core.Ref {
	out := make([]core.Ref, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}

	return out
}
