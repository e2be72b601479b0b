package fulltext_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/calvinalkan/txcore/internal/testutil"
	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/fulltext"
)

// indexingClient commits to the model and then feeds the index, the way the
// engine does.
type indexingClient struct {
	*core.LocalClient

	t  *testing.T
	ix *fulltext.Index
}

func (c *indexingClient) Tx(ctx context.Context, tx core.Tx) (core.TxResult, error) {
	res, err := c.LocalClient.Tx(ctx, tx)
	if err != nil {
		return res, err
	}

	err = c.ix.Tx(ctx, tx)
	if err != nil {
		c.t.Fatalf("index %s: %v", tx.Header().ID, err)
	}

	return res, nil
}

type harness struct {
	model   *core.ModelDb
	adapter fulltext.Adapter
	mem     *fulltext.Memory
	ix      *fulltext.Index
	ops     *core.TxOperations
	logs    *bytes.Buffer
}

func newHarness(t *testing.T, wrap func(fulltext.Adapter) fulltext.Adapter) *harness {
	t.Helper()

	model := testutil.LoadModel(t, testutil.TaskModel())
	mem := fulltext.NewMemory()

	var adapter fulltext.Adapter = mem
	if wrap != nil {
		adapter = wrap(mem)
	}

	logs := &bytes.Buffer{}
	ix := fulltext.New(model.Hierarchy(), adapter, model, fulltext.WithLogger(zerolog.New(logs)))

	client := &indexingClient{LocalClient: core.NewLocalClient(model), t: t, ix: ix}

	return &harness{
		model:   model,
		adapter: adapter,
		mem:     mem,
		ix:      ix,
		ops:     core.NewTxOperationsWithFactory(client, testutil.Factory(testutil.AccountAlice)),
		logs:    logs,
	}
}

// seed creates project p1 with task t1 and comment c1 on t1.
func (h *harness) seed(t *testing.T) {
	t.Helper()

	ctx := t.Context()

	_, err := h.ops.CreateDoc(ctx, testutil.ClassProject, core.SpaceWorkspace, map[string]any{"name": "Apollo"}, "p1")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	_, err = h.ops.AddCollection(ctx, testutil.ClassTask, core.SpaceWorkspace, "p1", testutil.ClassProject, "tasks",
		map[string]any{"title": "Launch rocket", "estimate": 3}, "t1")
	if err != nil {
		t.Fatalf("add task: %v", err)
	}

	_, err = h.ops.AddCollection(ctx, testutil.ClassComment, core.SpaceWorkspace, "t1", testutil.ClassTask, "comments",
		map[string]any{"message": "Countdown started"}, "c1")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
}

func (h *harness) entry(t *testing.T, id core.Ref) fulltext.Document {
	t.Helper()

	d, ok := h.mem.Get(id)
	if !ok {
		t.Fatalf("%s not indexed", id)
	}

	return d
}

func Test_Index_Create_Merges_Parent_Content_When_Doc_Is_Attached(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t)

	got := h.entry(t, "t1")

	want := fulltext.Document{
		ID:         "t1",
		Class:      testutil.ClassTask,
		Space:      core.SpaceWorkspace,
		ModifiedBy: testutil.AccountAlice,
		ModifiedOn: got.ModifiedOn,
		AttachedTo: "p1",
		Content:    map[string]string{"name": "Apollo", "title": "Launch rocket", "description": ""},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("indexed task (-want +got):\n%s", diff)
	}

	comment := h.entry(t, "c1")
	if comment.Content["title"] != "Launch rocket" || comment.Content["message"] != "Countdown started" {
		t.Fatalf("comment content=%v", comment.Content)
	}
}

func Test_Index_Update_Propagates_Changed_Fields_To_Attached_Docs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t)

	_, err := h.ops.UpdateCollection(t.Context(), testutil.ClassTask, core.SpaceWorkspace, "t1", "p1", testutil.ClassProject, "tasks",
		core.Set{Path: "title", Value: "Scrub launch"},
		core.Inc{Path: "estimate", By: 1},
	)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if got := h.entry(t, "t1").Content["title"]; got != "Scrub launch" {
		t.Fatalf("task title=%q", got)
	}

	if got := h.entry(t, "c1").Content["title"]; got != "Scrub launch" {
		t.Fatalf("comment sees parent title %q, want propagated value", got)
	}

	if got := h.entry(t, "c1").Content["message"]; got != "Countdown started" {
		t.Fatalf("comment message=%q, want untouched", got)
	}
}

func Test_Index_Skips_Attached_Doc_When_It_Is_Missing_From_Index(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t)

	err := h.mem.Remove(t.Context(), "t1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}

	_, err = h.ops.UpdateDoc(t.Context(), testutil.ClassProject, core.SpaceWorkspace, "p1", core.Set{Path: "name", Value: "Gemini"})
	if err != nil {
		t.Fatalf("update project: %v", err)
	}

	if got := h.entry(t, "p1").Content["name"]; got != "Gemini" {
		t.Fatalf("project name=%q", got)
	}

	if !strings.Contains(h.logs.String(), "attached document missing from index") {
		t.Fatalf("expected a warning, logs:\n%s", h.logs.String())
	}
}

// failingUpdates fails every Update with err.
type failingUpdates struct {
	fulltext.Adapter

	err error
}

func (f failingUpdates) Update(context.Context, core.Ref, fulltext.Patch) error { return f.err }

func Test_Index_Returns_Adapter_Error_When_Update_Fails_For_Other_Reasons(t *testing.T) {
	t.Parallel()

	boom := errors.New("index offline")
	h := newHarness(t, func(a fulltext.Adapter) fulltext.Adapter { return failingUpdates{Adapter: a, err: boom} })

	_, err := h.ops.CreateDoc(t.Context(), testutil.ClassProject, core.SpaceWorkspace, map[string]any{"name": "Apollo"}, "p1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f := testutil.Factory(testutil.AccountAlice)
	tx := f.CreateTxUpdateDoc(testutil.ClassProject, core.SpaceWorkspace, "p1", core.Update{core.Set{Path: "name", Value: "x"}}, false)

	err = h.ix.Tx(t.Context(), tx)
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want adapter error", err)
	}
}

func Test_Index_Mixin_Indexes_Fields_Under_Mixin_Key(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t)

	_, err := h.ops.CreateMixin(t.Context(), "t1", testutil.ClassTask, core.SpaceWorkspace, testutil.MixinLabels,
		map[string]any{"note": "blocked on weather", "labels": []any{"ops"}})
	if err != nil {
		t.Fatalf("mixin: %v", err)
	}

	got := h.entry(t, "t1").Content
	if got[string(testutil.MixinLabels)+".note"] != "blocked on weather" {
		t.Fatalf("content=%v", got)
	}

	if _, ok := got[string(testutil.MixinLabels)+".labels"]; ok {
		t.Fatalf("non full-text mixin field indexed: %v", got)
	}
}

func Test_Index_Remove_Drops_Entry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t)

	_, err := h.ops.RemoveCollection(t.Context(), testutil.ClassComment, core.SpaceWorkspace, "c1", "t1", testutil.ClassTask, "comments")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, ok := h.mem.Get("c1"); ok {
		t.Fatal("c1 still indexed")
	}
}

func Test_Index_FindAll_Filters_Search_Hits_With_Remaining_Query(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t)

	_, err := h.ops.AddCollection(t.Context(), testutil.ClassTask, core.SpaceWorkspace, "p1", testutil.ClassProject, "tasks",
		map[string]any{"title": "Recover rocket", "estimate": 8}, "t2")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	docs, err := h.ix.FindAll(t.Context(), testutil.ClassTask, core.Query{core.SearchKey: "rocket"}, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if diff := cmp.Diff([]core.Ref{"t1", "t2"}, docIDs(docs)); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}

	docs, err = h.ix.FindAll(t.Context(), testutil.ClassTask, core.Query{
		core.SearchKey: "rocket",
		"estimate":     map[string]any{"$gt": 5},
	}, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if diff := cmp.Diff([]core.Ref{"t2"}, docIDs(docs)); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}
}

func Test_Index_FindAll_Applies_Limit_After_Filtering_Search_Hits(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t)

	_, err := h.ops.AddCollection(t.Context(), testutil.ClassTask, core.SpaceWorkspace, "p1", testutil.ClassProject, "tasks",
		map[string]any{"title": "Recover rocket", "estimate": 8}, "t2")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// t1 is the first hit but fails the estimate filter.
	docs, err := h.ix.FindAll(t.Context(), testutil.ClassTask, core.Query{
		core.SearchKey: "rocket",
		"estimate":     map[string]any{"$gt": 5},
	}, &core.FindOptions{Limit: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if diff := cmp.Diff([]core.Ref{"t2"}, docIDs(docs)); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}

	docs, err = h.ix.FindAll(t.Context(), testutil.ClassTask, core.Query{core.SearchKey: "rocket"}, &core.FindOptions{Limit: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}
}

func Test_Index_FindAll_Includes_Parent_Of_Attached_Hit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t)

	docs, err := h.ix.FindAll(t.Context(), core.ClassDoc, core.Query{core.SearchKey: "countdown"}, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if diff := cmp.Diff([]core.Ref{"c1", "t1"}, docIDs(docs)); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}
}

func Test_Index_FindAll_Rejects_Non_String_Search(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	_, err := h.ix.FindAll(t.Context(), testutil.ClassTask, core.Query{core.SearchKey: 42}, nil)
	if !errors.Is(err, core.ErrInvalidQuery) {
		t.Fatalf("err=%v, want ErrInvalidQuery", err)
	}
}

func Test_Index_Rebuild_Indexes_Existing_Docs_Once(t *testing.T) {
	t.Parallel()

	model := testutil.LoadModel(t, testutil.TaskModel())
	ops := core.NewTxOperationsWithFactory(core.NewLocalClient(model), testutil.Factory(testutil.AccountAlice))
	ctx := t.Context()

	_, err := ops.CreateDoc(ctx, testutil.ClassProject, core.SpaceWorkspace, map[string]any{"name": "Apollo"}, "p1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = ops.AddCollection(ctx, testutil.ClassTask, core.SpaceWorkspace, "p1", testutil.ClassProject, "tasks",
		map[string]any{"title": "Launch"}, "t1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	mem := fulltext.NewMemory()
	ix := fulltext.New(model.Hierarchy(), mem, model)

	n, err := ix.Rebuild(ctx, testutil.ClassProject, testutil.ClassTask, core.ClassDoc)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if n != mem.Len() {
		t.Fatalf("rebuild reported %d, adapter holds %d", n, mem.Len())
	}

	task, ok := mem.Get("t1")
	if !ok || task.Content["name"] != "Apollo" || task.Content["title"] != "Launch" {
		t.Fatalf("task entry=%+v ok=%v", task, ok)
	}

	if _, ok := mem.Get("p1"); !ok {
		t.Fatal("project not indexed")
	}
}

func docIDs(docs []*core.Doc) []core.Ref {
	out := make([]core.Ref, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}

	return out
}
