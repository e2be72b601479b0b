package core_test

import (
	"errors"
	"testing"

	"github.com/calvinalkan/txcore/pkg/core"
)

func Test_TxOperations_Add_Uses_Single_Matching_Collection(t *testing.T) {
	t.Parallel()

	client := newRecordingClient(t)
	ops := core.NewTxOperationsWithFactory(client, newTestFactory(accountAlice))

	taskID, err := ops.CreateDoc(t.Context(), classTask, core.SpaceWorkspace, map[string]any{"title": "parent"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	parent := mustGet(t, client.Model(), taskID)

	childID, err := ops.Add(t.Context(), parent, classAttachment, map[string]any{"name": "a.txt"}, "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	child := mustGet(t, client.Model(), childID)
	if child.Collection != "attachments" || child.AttachedTo != taskID {
		t.Fatalf("child attached to %s/%s, want %s/attachments", child.AttachedTo, child.Collection, taskID)
	}
}

func Test_TxOperations_Add_Fails_Without_Commit_When_Collection_Is_Ambiguous(t *testing.T) {
	t.Parallel()

	client := newRecordingClient(t)
	ops := core.NewTxOperationsWithFactory(client, newTestFactory(accountAlice))

	boardID, err := ops.CreateDoc(t.Context(), classBoard, core.SpaceWorkspace, nil, "")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}

	board := mustGet(t, client.Model(), boardID)
	before := len(client.committed())
	docsBefore := client.Model().Len()

	_, err = ops.Add(t.Context(), board, classComment, map[string]any{"message": "hi"}, "")
	if !errors.Is(err, core.ErrAmbiguousCollection) {
		t.Fatalf("err = %v, want ErrAmbiguousCollection", err)
	}

	if got := len(client.committed()); got != before {
		t.Fatalf("committed %d txes after failed add, want %d", got, before)
	}

	if client.Model().Len() != docsBefore {
		t.Fatal("failed add changed the store")
	}

	_, err = ops.AddCollection(t.Context(), classComment, core.SpaceWorkspace, boardID, classBoard, "notes", map[string]any{"message": "hi"}, "")
	if err != nil {
		t.Fatalf("explicit addCollection: %v", err)
	}
}

func Test_TxOperations_Update_Routes_Attached_Docs_Through_Collection(t *testing.T) {
	t.Parallel()

	client := newRecordingClient(t)
	ops := core.NewTxOperationsWithFactory(client, newTestFactory(accountAlice))

	taskID, err := ops.CreateDoc(t.Context(), classTask, core.SpaceWorkspace, map[string]any{"title": "parent"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	commentID, err := ops.AddCollection(t.Context(), classComment, core.SpaceWorkspace, taskID, classTask, "comments", map[string]any{"message": "v1"}, "")
	if err != nil {
		t.Fatalf("add collection: %v", err)
	}

	comment := mustGet(t, client.Model(), commentID)

	_, err = ops.Update(t.Context(), comment, core.Set{Path: "message", Value: "v2"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	txes := client.committed()

	coll, ok := txes[len(txes)-1].(*core.TxCollectionCUD)
	if !ok {
		t.Fatalf("last tx = %T, want *TxCollectionCUD", txes[len(txes)-1])
	}

	if coll.ObjectID != taskID || coll.Collection != "comments" {
		t.Fatalf("collection tx targets %s/%s", coll.ObjectID, coll.Collection)
	}

	if _, ok := coll.Tx.(*core.TxUpdateDoc); !ok {
		t.Fatalf("inner tx = %T, want *TxUpdateDoc", coll.Tx)
	}

	if got := mustGet(t, client.Model(), commentID).Attributes["message"]; got != "v2" {
		t.Fatalf("message = %v, want v2", got)
	}

	task := mustGet(t, client.Model(), taskID)

	_, err = ops.Update(t.Context(), task, core.Set{Path: "title", Value: "renamed"})
	if err != nil {
		t.Fatalf("update task: %v", err)
	}

	txes = client.committed()
	if _, ok := txes[len(txes)-1].(*core.TxUpdateDoc); !ok {
		t.Fatalf("plain doc update produced %T", txes[len(txes)-1])
	}

	_, err = ops.Remove(t.Context(), mustGet(t, client.Model(), commentID))
	if err != nil {
		t.Fatalf("remove: %v", err)
	}

	txes = client.committed()
	if _, ok := txes[len(txes)-1].(*core.TxCollectionCUD); !ok {
		t.Fatalf("attached remove produced %T", txes[len(txes)-1])
	}
}

func Test_TxOperations_UpdateDoc_Rejects_Ill_Typed_Operator_Before_Commit(t *testing.T) {
	t.Parallel()

	client := newRecordingClient(t)
	ops := core.NewTxOperationsWithFactory(client, newTestFactory(accountAlice))

	id, err := ops.CreateDoc(t.Context(), classTask, core.SpaceWorkspace, map[string]any{"title": "x"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	before := len(client.committed())

	_, err = ops.UpdateDoc(t.Context(), classTask, core.SpaceWorkspace, id, core.Inc{Path: "title", By: 1})
	if !errors.Is(err, core.ErrInvalidUpdate) {
		t.Fatalf("err = %v, want ErrInvalidUpdate", err)
	}

	if len(client.committed()) != before {
		t.Fatal("rejected update was committed")
	}
}

func Test_TxOperations_Mixins_Merge_Under_Mixin_Namespace(t *testing.T) {
	t.Parallel()

	client := newRecordingClient(t)
	ops := core.NewTxOperationsWithFactory(client, newTestFactory(accountAlice))

	id, err := ops.CreateDoc(t.Context(), classTask, core.SpaceWorkspace, map[string]any{"title": "x"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = ops.CreateMixin(t.Context(), id, classTask, core.SpaceWorkspace, mixinTagged, map[string]any{"tags": []any{"a"}})
	if err != nil {
		t.Fatalf("create mixin: %v", err)
	}

	_, err = ops.UpdateMixin(t.Context(), id, classTask, core.SpaceWorkspace, mixinTagged, core.Push{Path: "tags", Values: []any{"b"}})
	if err != nil {
		t.Fatalf("update mixin: %v", err)
	}

	doc := mustGet(t, client.Model(), id)

	tags := client.Hierarchy().As(doc, mixinTagged).Refs("tags")
	if len(tags) != 2 || tags[0] != "a" || tags[1] != "b" {
		t.Fatalf("tags = %v, want [a b]", tags)
	}

	if doc.Attributes["title"] != "x" {
		t.Fatal("mixin must not touch base attributes")
	}
}
