package testutil

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/fulltext"
)

// OpenAdapter returns an empty full-text adapter.
type OpenAdapter func(t *testing.T) fulltext.Adapter

// RunAdapterSuite checks the behavior every fulltext.Adapter shares.
func RunAdapterSuite(t *testing.T, open OpenAdapter) {
	t.Helper()

	seed := func(t *testing.T) fulltext.Adapter {
		t.Helper()

		a := open(t)
		t.Cleanup(func() { _ = a.Close() })

		docs := []fulltext.Document{
			{ID: "t1", Class: ClassTask, Space: core.SpaceWorkspace, Content: map[string]string{"title": "Launch rocket", "name": "Apollo"}},
			{ID: "t2", Class: ClassTask, Space: core.SpaceWorkspace, Content: map[string]string{"title": "Land rocket"}},
			{ID: "c1", Class: ClassComment, Space: core.SpaceWorkspace, AttachedTo: "t1", Content: map[string]string{"message": "Countdown started"}},
		}

		for _, d := range docs {
			err := a.Index(t.Context(), d)
			if err != nil {
				t.Fatalf("index %s: %v", d.ID, err)
			}
		}

		return a
	}

	search := func(t *testing.T, a fulltext.Adapter, classes []core.Ref, q string, limit int) []fulltext.Hit {
		t.Helper()

		hits, err := a.Search(t.Context(), classes, q, limit)
		if err != nil {
			t.Fatalf("search %q: %v", q, err)
		}

		return hits
	}

	t.Run("Search_Matches_Every_Term_As_Word_Prefix", func(t *testing.T) {
		t.Parallel()

		a := seed(t)

		got := search(t, a, nil, "ROCK", 0)
		want := []fulltext.Hit{{ID: "t1", Class: ClassTask}, {ID: "t2", Class: ClassTask}}

		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("hits (-want +got):\n%s", diff)
		}

		got = search(t, a, nil, "rocket apollo", 0)
		if diff := cmp.Diff([]fulltext.Hit{{ID: "t1", Class: ClassTask}}, got); diff != "" {
			t.Fatalf("hits (-want +got):\n%s", diff)
		}

		if got := search(t, a, nil, "   ", 0); len(got) != 0 {
			t.Fatalf("blank query returned %v", got)
		}
	})

	t.Run("Search_Filters_By_Class_And_Honors_Limit", func(t *testing.T) {
		t.Parallel()

		a := seed(t)

		got := search(t, a, []core.Ref{ClassComment}, "countdown", 0)
		want := []fulltext.Hit{{ID: "c1", Class: ClassComment, AttachedTo: "t1"}}

		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("hits (-want +got):\n%s", diff)
		}

		if got := search(t, a, []core.Ref{ClassProject}, "rocket", 0); len(got) != 0 {
			t.Fatalf("class filter ignored: %v", got)
		}

		if got := search(t, a, nil, "rocket", 1); len(got) != 1 || got[0].ID != "t1" {
			t.Fatalf("limit: got %v", got)
		}
	})

	t.Run("Update_Merges_Content_And_Replaces_Changed_Fields", func(t *testing.T) {
		t.Parallel()

		a := seed(t)

		err := a.Update(t.Context(), "t1", fulltext.Patch{Content: map[string]string{"title": "Abort mission"}})
		if err != nil {
			t.Fatalf("update: %v", err)
		}

		if got := search(t, a, nil, "launch", 0); len(got) != 0 {
			t.Fatalf("old title still matches: %v", got)
		}

		if got := search(t, a, nil, "abort apollo", 0); len(got) != 1 || got[0].ID != "t1" {
			t.Fatalf("merged content: got %v", got)
		}
	})

	t.Run("Update_Returns_ErrDocumentMissing_When_Entry_Is_Absent", func(t *testing.T) {
		t.Parallel()

		a := seed(t)

		err := a.Update(t.Context(), "nope", fulltext.Patch{Content: map[string]string{"title": "x"}})
		if !errors.Is(err, fulltext.ErrDocumentMissing) {
			t.Fatalf("err=%v, want ErrDocumentMissing", err)
		}
	})

	t.Run("Remove_Drops_Entry_And_Ignores_Missing", func(t *testing.T) {
		t.Parallel()

		a := seed(t)

		err := a.Remove(t.Context(), "t2")
		if err != nil {
			t.Fatalf("remove: %v", err)
		}

		err = a.Remove(t.Context(), "t2")
		if err != nil {
			t.Fatalf("remove missing: %v", err)
		}

		if got := search(t, a, nil, "land", 0); len(got) != 0 {
			t.Fatalf("removed entry still matches: %v", got)
		}
	})

	t.Run("Index_Replaces_Existing_Entry", func(t *testing.T) {
		t.Parallel()

		a := seed(t)

		err := a.Index(t.Context(), fulltext.Document{ID: "t2", Class: ClassTask, Content: map[string]string{"title": "Refuel"}})
		if err != nil {
			t.Fatalf("reindex: %v", err)
		}

		if got := search(t, a, nil, "land", 0); len(got) != 0 {
			t.Fatalf("old content still matches: %v", got)
		}

		if got := search(t, a, nil, "refuel", 0); len(got) != 1 {
			t.Fatalf("new content: got %v", got)
		}
	})
}
