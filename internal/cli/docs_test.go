package cli_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/txcore/internal/cli"
	"github.com/calvinalkan/txcore/pkg/notify"
)

const issue = "tracker:class:Issue"

// findDocs runs find and decodes one document per output line.
func findDocs(t *testing.T, c *cli.CLI, args ...string) []map[string]any {
	t.Helper()

	out := c.MustRun(append([]string{"find"}, args...)...)
	if out == "" {
		return nil
	}

	var docs []map[string]any

	for line := range strings.SplitSeq(out, "\n") {
		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &doc), line)

		docs = append(docs, doc)
	}

	return docs
}

func findByID(t *testing.T, c *cli.CLI, class, id string) map[string]any {
	t.Helper()

	docs := findDocs(t, c, class, "-w", "_id="+id)
	require.Len(t, docs, 1)

	return docs[0]
}

func Test_Create_Persists_Doc_When_Run_Across_Invocations(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	id := c.MustRun("create", issue, "-s", "title=Launch", "-s", "estimate=3", "-s", `labels=["ui"]`)
	require.NotEmpty(t, id)

	doc := findByID(t, c, issue, id)
	require.Equal(t, "Launch", doc["title"])
	require.InDelta(t, 3.0, doc["estimate"], 0)
	require.Equal(t, []any{"ui"}, doc["labels"])
	require.Equal(t, "tracker:account:alice", doc["modifiedBy"])
}

func Test_Create_Uses_Given_ID_When_Id_Flag_Set(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	require.Equal(t, "issue-1", c.MustRun("create", issue, "--id", "issue-1", "-s", "title=One"))
	require.Equal(t, "One", findByID(t, c, issue, "issue-1")["title"])
}

func Test_Create_Fails_When_Assignment_Has_No_Key(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stderr := c.MustFail("create", issue, "-s", "=oops")
	require.Contains(t, stderr, "expected key=value")
}

func Test_Update_Applies_Operators_When_Flags_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	id := c.MustRun("create", issue, "-s", "title=Launch", "-s", "estimate=3", "-s", `labels=["ui","old"]`)

	c.MustRun("update", issue, id,
		"-s", "title=Relaunch",
		"--inc", "estimate=2",
		"--push", "labels=bug",
		"--pull", "labels=old",
	)

	doc := findByID(t, c, issue, id)
	require.Equal(t, "Relaunch", doc["title"])
	require.InDelta(t, 5.0, doc["estimate"], 0)
	require.Equal(t, []any{"ui", "bug"}, doc["labels"])

	c.MustRun("update", issue, id, "--unset", "estimate")

	_, ok := findByID(t, c, issue, id)["estimate"]
	require.False(t, ok)
}

func Test_Update_Fails_When_No_Operators_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	id := c.MustRun("create", issue, "-s", "title=Launch")

	stderr := c.MustFail("update", issue, id)
	require.Contains(t, stderr, "no operations given")
}

func Test_Update_Fails_When_Doc_Does_Not_Exist(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stderr := c.MustFail("update", issue, "missing", "-s", "title=x")
	require.Contains(t, stderr, "document not found")
}

func Test_Rm_Removes_Doc_When_It_Exists(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	id := c.MustRun("create", issue, "-s", "title=Launch")
	require.Contains(t, c.MustRun("rm", issue, id), id)

	require.Empty(t, findDocs(t, c, issue, "-w", "_id="+id))
}

func Test_Mixin_Stores_Data_Under_Mixin_Key(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	id := c.MustRun("create", issue, "-s", "title=Launch")
	c.MustRun("mixin", issue, id, "tracker:mixin:Flags", "-s", "urgent=true")

	doc := findByID(t, c, issue, id)
	require.Equal(t, map[string]any{"urgent": true}, doc["tracker:mixin:Flags"])
}

func Test_Add_Attaches_Doc_To_Parent_Collection(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	parent := c.MustRun("create", issue, "-s", "title=Launch")
	child := c.MustRun("add", parent, "tracker:class:Comment", "-s", "text=looks good")

	comment := findByID(t, c, "tracker:class:Comment", child)
	require.Equal(t, parent, comment["attachedTo"])
	require.Equal(t, issue, comment["attachedToClass"])
	require.Equal(t, "comments", comment["collection"])

	require.Len(t, findDocs(t, c, "tracker:class:Comment", "-w", "attachedTo="+parent), 1)
	require.Contains(t, c.MustRun("search", "tracker:class:Comment", "looks"), child)
}

func Test_Find_Sorts_And_Limits_When_Flags_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	for _, est := range []string{"2", "5", "1", "4"} {
		c.MustRun("create", issue, "-s", "title=t"+est, "-s", "estimate="+est)
	}

	docs := findDocs(t, c, issue, "--sort", "-estimate", "--limit", "2")
	require.Len(t, docs, 2)
	require.Equal(t, "t5", docs[0]["title"])
	require.Equal(t, "t4", docs[1]["title"])

	docs = findDocs(t, c, issue, "-w", `estimate={"$lt":3}`, "--sort", "estimate")
	require.Len(t, docs, 2)
	require.Equal(t, "t1", docs[0]["title"])
	require.Equal(t, "t2", docs[1]["title"])
}

func Test_Search_Finds_Docs_By_FullText_When_Reopened(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	id := c.MustRun("create", issue, "-s", "title=Launch the rocket")
	c.MustRun("create", issue, "-s", "title=Water the plants")

	out := c.MustRun("search", issue, "rocket")
	require.Equal(t, 1, strings.Count(out, "\n")+1)
	require.Contains(t, out, id)

	require.Empty(t, c.MustRun("search", issue, "submarine"))
}

func Test_Reindex_Reports_Indexed_Documents(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	c.MustRun("create", issue, "-s", "title=Launch")
	c.MustRun("create", issue, "-s", "title=Land")

	require.Equal(t, "Indexed 2 documents", c.MustRun("reindex", issue))
	require.Contains(t, c.MustRun("search", issue, "land"), "Land")
}

func Test_Create_Notifies_Collaborator_When_Assignee_Set(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	id := c.MustRun("create", issue, "-s", "title=Launch", "-s", "assignee=tracker:account:bob")

	updates := findDocs(t, c, string(notify.ClassDocUpdates), "-w", "attachedTo="+id)
	require.Len(t, updates, 1)
	require.Equal(t, "tracker:account:bob", updates[0]["user"])
}

func Test_Log_Prints_Committed_Txes_When_Filtered_By_Class(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	id := c.MustRun("create", issue, "-s", "title=Launch")

	out := c.MustRun("log", "--class", issue, "--limit", "1")
	require.NotContains(t, out, "\n")

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	require.Equal(t, "core:class:TxCreateDoc", rec["_class"])
	require.Equal(t, id, rec["objectId"])
}

func Test_Export_Writes_Snapshot_When_Path_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	id := c.MustRun("create", issue, "-s", "title=Launch")

	out := c.MustRun("export", "--class", issue, c.Dir+"/snapshot.json")
	require.Contains(t, out, "Exported 1 documents")

	var snap struct {
		Account string           `json:"account"`
		Docs    []map[string]any `json:"docs"`
	}

	require.NoError(t, json.Unmarshal([]byte(c.ReadFile("snapshot.json")), &snap))
	require.Equal(t, "tracker:account:alice", snap.Account)
	require.Len(t, snap.Docs, 1)
	require.Equal(t, id, snap.Docs[0]["_id"])
}
