package core_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/txcore/pkg/core"
)

func Test_Hierarchy_IsDerived_Follows_Extends_Chain(t *testing.T) {
	t.Parallel()

	h := newTestHierarchy(t)

	if !h.IsDerived(classComment, core.ClassDoc) {
		t.Fatal("comment should derive from Doc through AttachedDoc")
	}

	if !h.IsDerived(classTask, classTask) {
		t.Fatal("a class derives from itself")
	}

	if h.IsDerived(classTask, core.ClassAttachedDoc) {
		t.Fatal("task must not derive from AttachedDoc")
	}

	if h.IsDerived("test:class:Missing", core.ClassDoc) {
		t.Fatal("unknown class must not derive from anything")
	}
}

func Test_Hierarchy_GetAllAttributes_Prefers_Mixin_Declaration_When_Ancestor_Declares_Same_Name(t *testing.T) {
	t.Parallel()

	b := core.NewBuilder()
	b.Class("x:class:C", "")
	b.Attr("x:class:C", "x", core.Scalar(core.TypeNumber))
	b.Class("x:class:B", "x:class:C")
	b.Class("x:class:A", "x:class:B")
	b.Mixin("x:mixin:M", "x:class:A")
	b.Attr("x:mixin:M", "x", core.Scalar(core.TypeString))

	h, err := b.Hierarchy()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	attrs, err := h.GetAllAttributes("x:mixin:M", "")
	if err != nil {
		t.Fatalf("get attributes: %v", err)
	}

	if got := attrs["x"].AttributeOf; got != "x:mixin:M" {
		t.Fatalf("x declared on %s, want x:mixin:M", got)
	}

	doc := &core.Doc{ID: "d1", Class: "x:class:A", Mixins: map[core.Ref]map[string]any{"x:mixin:M": {}}}

	docAttrs, err := h.DocAttributes(doc)
	if err != nil {
		t.Fatalf("doc attributes: %v", err)
	}

	if got := docAttrs["x"].Type.Kind; got != core.TypeString {
		t.Fatalf("doc attribute x kind = %s, want string", got)
	}

	plain, err := h.GetAllAttributes("x:class:A", "")
	if err != nil {
		t.Fatalf("get attributes: %v", err)
	}

	if got := plain["x"].AttributeOf; got != "x:class:C" {
		t.Fatalf("without mixin x declared on %s, want x:class:C", got)
	}
}

func Test_Hierarchy_GetAllAttributes_Excludes_StopAt_And_Its_Ancestors(t *testing.T) {
	t.Parallel()

	h := newTestHierarchy(t)

	attrs, err := h.GetAllAttributes(mixinTagged, classTask)
	if err != nil {
		t.Fatalf("get attributes: %v", err)
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}

	slices.Sort(names)

	if diff := cmp.Diff([]string{"tags", "title"}, names); diff != "" {
		t.Fatalf("attributes mismatch (-want +got):\n%s", diff)
	}
}

func Test_LoadHierarchy_Returns_ErrUnknownClass_When_Extends_Is_Not_Registered(t *testing.T) {
	t.Parallel()

	b := core.NewBuilder()
	core.BaseModel(b)
	b.Class("x:class:Orphan", "x:class:Nowhere")

	_, err := b.Hierarchy()
	if !errors.Is(err, core.ErrUnknownClass) {
		t.Fatalf("err = %v, want ErrUnknownClass", err)
	}
}

func Test_LoadHierarchy_Returns_ErrUnknownClass_When_Attribute_Targets_Unknown_Class(t *testing.T) {
	t.Parallel()

	b := core.NewBuilder()
	core.BaseModel(b)
	b.Attr("x:class:Nowhere", "title", core.Scalar(core.TypeString))

	_, err := b.Hierarchy()
	if !errors.Is(err, core.ErrUnknownClass) {
		t.Fatalf("err = %v, want ErrUnknownClass", err)
	}
}

func Test_LoadHierarchy_Returns_ErrCyclicHierarchy_When_Extends_Loops(t *testing.T) {
	t.Parallel()

	b := core.NewBuilder()
	b.Class("x:class:A", "x:class:B")
	b.Class("x:class:B", "x:class:A")

	_, err := b.Hierarchy()
	if !errors.Is(err, core.ErrCyclicHierarchy) {
		t.Fatalf("err = %v, want ErrCyclicHierarchy", err)
	}
}

func Test_Hierarchy_Tx_Rejects_Unknown_Extends_And_Keeps_Previous_State(t *testing.T) {
	t.Parallel()

	h := newTestHierarchy(t)
	f := newTestFactory(core.AccountSystem)

	tx := f.CreateTxCreateDoc(core.ClassClass, core.SpaceModel, map[string]any{
		"kind":    "class",
		"extends": "x:class:Nowhere",
	}, "x:class:Broken")

	err := h.Tx(tx)
	if !errors.Is(err, core.ErrUnknownClass) {
		t.Fatalf("err = %v, want ErrUnknownClass", err)
	}

	if h.HasClass("x:class:Broken") {
		t.Fatal("rejected class must not be registered")
	}

	ok := f.CreateTxCreateDoc(core.ClassClass, core.SpaceModel, map[string]any{
		"kind":    "class",
		"extends": string(classTask),
	}, "x:class:Epic")

	err = h.Tx(ok)
	if err != nil {
		t.Fatalf("register epic: %v", err)
	}

	if !h.IsDerived("x:class:Epic", core.ClassDoc) {
		t.Fatal("epic should derive from Doc after registration")
	}
}

func Test_Hierarchy_ClassHierarchyMixin_Returns_Nearest_Ancestor_Data(t *testing.T) {
	t.Parallel()

	b := testModel()
	b.Class("x:class:Epic", classTask)
	b.ClassMixin(core.ClassDoc, "x:mixin:Presenter", map[string]any{"presenter": "doc"})
	b.ClassMixin(classTask, "x:mixin:Presenter", map[string]any{"presenter": "task"})

	h, err := b.Hierarchy()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	data, ok := h.ClassHierarchyMixin("x:class:Epic", "x:mixin:Presenter")
	if !ok {
		t.Fatal("expected mixin data on an ancestor")
	}

	if data["presenter"] != "task" {
		t.Fatalf("presenter = %v, want task", data["presenter"])
	}

	data, ok = h.ClassHierarchyMixin(classComment, "x:mixin:Presenter")
	if !ok || data["presenter"] != "doc" {
		t.Fatalf("comment presenter = %v (ok=%v), want doc", data["presenter"], ok)
	}

	if _, ok := h.ClassHierarchyMixin(classComment, "x:mixin:Other"); ok {
		t.Fatal("unexpected data for undeclared mixin")
	}
}

func Test_Hierarchy_GetBaseClass_Walks_Past_Mixins(t *testing.T) {
	t.Parallel()

	h := newTestHierarchy(t)

	base, err := h.GetBaseClass(mixinTagged)
	if err != nil {
		t.Fatalf("base class: %v", err)
	}

	if base != classTask {
		t.Fatalf("base = %s, want %s", base, classTask)
	}

	_, err = h.GetBaseClass("x:class:Nowhere")
	if !errors.Is(err, core.ErrUnknownClass) {
		t.Fatalf("err = %v, want ErrUnknownClass", err)
	}
}

func Test_Hierarchy_GetDescendants_Includes_Class_And_Mixins(t *testing.T) {
	t.Parallel()

	h := newTestHierarchy(t)

	got := h.GetDescendants(classTask)
	want := []core.Ref{mixinOwned, mixinTagged, classTask}

	slices.Sort(want)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("descendants mismatch (-want +got):\n%s", diff)
	}
}

func Test_Hierarchy_As_Reads_Mixin_Data_Then_Document(t *testing.T) {
	t.Parallel()

	h := newTestHierarchy(t)

	doc := &core.Doc{
		ID:         "t1",
		Class:      classTask,
		Attributes: map[string]any{"title": "base title", "estimate": 3.0},
		Mixins:     map[core.Ref]map[string]any{mixinTagged: {"title": "tagged title"}},
	}

	view := h.As(doc, mixinTagged)

	if v, _ := view.Get("title"); v != "tagged title" {
		t.Fatalf("title = %v, want mixin value", v)
	}

	if v, _ := view.Get("estimate"); v != 3.0 {
		t.Fatalf("estimate = %v, want document value", v)
	}

	doc.Mixins[mixinTagged]["title"] = "changed"

	if v, _ := view.Get("title"); v != "changed" {
		t.Fatalf("view is not live: title = %v", v)
	}

	if !h.HasMixin(doc, mixinTagged) || h.HasMixin(doc, mixinOwned) {
		t.Fatal("HasMixin mismatch")
	}
}

func Test_ParseType_Inverts_String(t *testing.T) {
	t.Parallel()

	types := []core.Type{
		core.Scalar(core.TypeString),
		core.Scalar(core.TypeBag),
		core.RefTo(core.ClassAccount),
		core.CollectionOf(classComment),
		core.ArrOf(core.RefTo(core.ClassAccount)),
		core.ArrOf(core.Scalar(core.TypeNumber)),
	}

	for _, want := range types {
		got, err := core.ParseType(want.String())
		if err != nil {
			t.Fatalf("ParseType(%q): %v", want.String(), err)
		}

		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("ParseType(%q) mismatch (-want +got):\n%s", want.String(), diff)
		}
	}
}

func Test_ParseType_Returns_Error_When_Input_Is_Malformed(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "strin", "ref", "ref()", "ref(core:class:Account", "string(x)", "arrOf(nope)"} {
		if _, err := core.ParseType(s); err == nil {
			t.Fatalf("ParseType(%q) succeeded", s)
		}
	}
}

func Test_Hierarchy_Stage_Undo_Restores_Previous_Definitions(t *testing.T) {
	t.Parallel()

	h := newTestHierarchy(t)
	f := newTestFactory(core.AccountSystem)

	tx := f.CreateTxCreateDoc(core.ClassClass, core.SpaceModel, map[string]any{
		"kind":    "class",
		"extends": string(classTask),
	}, "x:class:Epic")

	undo, err := h.Stage(tx)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}

	if !h.HasClass("x:class:Epic") {
		t.Fatal("staged class should be visible before undo")
	}

	undo()

	if h.HasClass("x:class:Epic") {
		t.Fatal("class must be gone after undo")
	}

	if !h.HasClass(classTask) {
		t.Fatal("undo must not touch unrelated classes")
	}
}

func Test_Hierarchy_Tx_Rejects_Bulk_As_A_Whole_When_One_Class_Is_Invalid(t *testing.T) {
	t.Parallel()

	h := newTestHierarchy(t)
	f := newTestFactory(core.AccountSystem)

	bulk := f.CreateTxBulkWrite(
		f.CreateTxCreateDoc(core.ClassClass, core.SpaceModel, map[string]any{
			"kind":    "class",
			"extends": string(classTask),
		}, "x:class:Epic"),
		f.CreateTxCreateDoc(core.ClassClass, core.SpaceModel, map[string]any{
			"kind":    "class",
			"extends": "x:class:Nowhere",
		}, "x:class:Broken"),
	)

	err := h.Tx(bulk)
	if !errors.Is(err, core.ErrUnknownClass) {
		t.Fatalf("err = %v, want ErrUnknownClass", err)
	}

	if h.HasClass("x:class:Epic") || h.HasClass("x:class:Broken") {
		t.Fatal("no class of a rejected bulk write may stay registered")
	}
}
