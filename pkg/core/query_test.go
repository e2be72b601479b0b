package core_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/txcore/pkg/core"
)

func seedTasks(t *testing.T) *core.ModelDb {
	t.Helper()

	m := newTestModelDb(t)
	f := newTestFactory(accountAlice)

	tasks := []struct {
		id       core.Ref
		title    string
		estimate int
		watchers []core.Ref
	}{
		{"t1", "Fix login.page", 3, []core.Ref{accountAlice}},
		{"t2", "fix LOGINXpage", 1, []core.Ref{accountBob}},
		{"t3", "Write release notes", 5, []core.Ref{accountAlice, accountBob}},
		{"t4", "100% coverage", 8, nil},
	}

	for _, task := range tasks {
		mustTx(t, m, f.CreateTxCreateDoc(classTask, core.SpaceWorkspace, map[string]any{
			"title":    task.title,
			"estimate": task.estimate,
			"watchers": task.watchers,
			"meta":     map[string]any{"priority": task.estimate % 2},
		}, task.id))
	}

	return m
}

func findIDs(t *testing.T, m *core.ModelDb, q core.Query, opts *core.FindOptions) []core.Ref {
	t.Helper()

	docs, err := m.FindAll(t.Context(), classTask, q, opts)
	if err != nil {
		t.Fatalf("find %v: %v", q, err)
	}

	return ids(docs)
}

func Test_Query_Matches_Predicates_When_Combined(t *testing.T) {
	t.Parallel()

	m := seedTasks(t)

	cases := []struct {
		name  string
		query core.Query
		want  []core.Ref
	}{
		{"equality", core.Query{"title": "Write release notes"}, []core.Ref{"t3"}},
		{"array contains", core.Query{"watchers": string(accountBob)}, []core.Ref{"t2", "t3"}},
		{"in", core.Query{core.FieldID: core.In[core.Ref]("t1", "t4", "nope")}, []core.Ref{"t1", "t4"}},
		{"nin", core.Query{core.FieldID: core.Nin[core.Ref]("t1", "t2")}, []core.Ref{"t3", "t4"}},
		{"dotted path", core.Query{"meta.priority": 1}, []core.Ref{"t1", "t2", "t3"}},
		{"gte", core.Query{"estimate": map[string]any{"$gte": 5}}, []core.Ref{"t3", "t4"}},
		{"exists", core.Query{"watchers": map[string]any{"$exists": true}, "estimate": map[string]any{"$lt": 2}}, []core.Ref{"t2"}},
		{"regex with options", core.Query{"title": core.Regex("^fix", "i")}, []core.Ref{"t1", "t2"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if diff := cmp.Diff(tc.want, findIDs(t, m, tc.query, nil)); diff != "" {
				t.Fatalf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func Test_Query_Like_Escapes_Metacharacters_And_Ignores_Case(t *testing.T) {
	t.Parallel()

	m := seedTasks(t)

	got := findIDs(t, m, core.Query{"title": core.Like("%LOGIN.page")}, nil)

	// '.' is literal, so "LOGINXpage" must not match.
	if diff := cmp.Diff([]core.Ref{"t1"}, got); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}

	got = findIDs(t, m, core.Query{"title": core.Like("100%")}, nil)
	if diff := cmp.Diff([]core.Ref{"t4"}, got); diff != "" {
		t.Fatalf("prefix like mismatch (-want +got):\n%s", diff)
	}

	if got := core.LikeToRegexp("a%b"); got != "(?is)^a.*b$" {
		t.Fatalf("regexp = %q", got)
	}
}

func Test_Query_Returns_ErrUnknownPredicate_When_Operator_Is_Unsupported(t *testing.T) {
	t.Parallel()

	m := seedTasks(t)

	_, err := m.FindAll(t.Context(), classTask, core.Query{"title": map[string]any{"$near": "x"}}, nil)
	if !errors.Is(err, core.ErrUnknownPredicate) {
		t.Fatalf("err = %v, want ErrUnknownPredicate", err)
	}
}

func Test_Query_Returns_ErrSearchUnsupported_When_Store_Has_No_Index(t *testing.T) {
	t.Parallel()

	m := seedTasks(t)

	_, err := m.FindAll(t.Context(), classTask, core.Query{core.SearchKey: "login"}, nil)
	if !errors.Is(err, core.ErrSearchUnsupported) {
		t.Fatalf("err = %v, want ErrSearchUnsupported", err)
	}
}

func Test_FindOptions_Sort_And_Limit_Results(t *testing.T) {
	t.Parallel()

	m := seedTasks(t)

	got := findIDs(t, m, nil, &core.FindOptions{
		Sort:  []core.SortKey{{Field: "estimate", Desc: true}},
		Limit: 2,
	})

	if diff := cmp.Diff([]core.Ref{"t4", "t3"}, got); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}

func Test_FindAll_Returns_Copies_When_Caller_Mutates_Result(t *testing.T) {
	t.Parallel()

	m := seedTasks(t)

	docs, err := m.FindAll(t.Context(), classTask, core.Query{core.FieldID: "t1"}, nil)
	if err != nil || len(docs) != 1 {
		t.Fatalf("find: %v (%d docs)", err, len(docs))
	}

	docs[0].Attributes["title"] = "mutated"

	if got := mustGet(t, m, "t1").Attributes["title"]; got != "Fix login.page" {
		t.Fatalf("stored title = %v, caller mutation leaked", got)
	}
}
