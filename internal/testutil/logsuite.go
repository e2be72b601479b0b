package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/storage"
)

// OpenLog opens (or reopens) a log stored under dir.
type OpenLog func(t *testing.T, dir string) storage.Log

// SampleTxes returns a transaction sequence touching every tx variant.
func SampleTxes() []core.Tx {
	f := Factory(AccountAlice)
	pos := 0

	project := f.CreateTxCreateDoc(ClassProject, core.SpaceWorkspace, map[string]any{"name": "Apollo"}, "p1")
	task := f.CreateTxCollectionCUD(ClassProject, "p1", core.SpaceWorkspace, "tasks",
		f.CreateTxCreateDoc(ClassTask, core.SpaceWorkspace, map[string]any{
			"title":    "Launch",
			"estimate": 3,
			"assignee": string(AccountBob),
		}, "t1"))

	return []core.Tx{
		project,
		task,
		f.CreateTxUpdateDoc(ClassTask, core.SpaceWorkspace, "t1", core.Update{
			core.Set{Path: "title", Value: "Launch v2"},
			core.Inc{Path: "estimate", By: 2},
		}, false),
		f.CreateTxMixin("t1", ClassTask, core.SpaceWorkspace, MixinLabels, core.Update{
			core.Set{Path: "note", Value: "blocked on QA"},
			core.Push{Path: "labels", Values: []any{"release", "urgent"}, Position: &pos},
		}),
		f.CreateTxPutBag(ClassProject, core.SpaceWorkspace, "p1", "settings", "color", "blue"),
		f.CreateTxBulkWrite(
			f.CreateTxCreateDoc(ClassProject, core.SpaceWorkspace, map[string]any{"name": "Gemini"}, "p2"),
			f.CreateTxUpdateDoc(ClassProject, core.SpaceWorkspace, "p2", core.Update{core.Unset{Path: "name"}}, false),
		),
		f.CreateTxRemoveDoc(ClassProject, core.SpaceWorkspace, "p2"),
	}
}

// RunLogSuite checks the behavior every storage.Log implementation shares.
func RunLogSuite(t *testing.T, open OpenLog) {
	t.Helper()

	t.Run("Replay_Returns_Records_In_Append_Order_After_Reopen", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		want := SampleTxes()

		log := open(t, dir)
		for _, tx := range want {
			err := log.Append(t.Context(), tx)
			if err != nil {
				t.Fatalf("append %s: %v", tx.Header().ID, err)
			}
		}

		assertReplay(t, log, want)

		err := log.Close()
		if err != nil {
			t.Fatalf("close: %v", err)
		}

		reopened := open(t, dir)
		defer reopened.Close()

		assertReplay(t, reopened, want)
	})

	t.Run("Closed_Log_Returns_ErrClosed", func(t *testing.T) {
		t.Parallel()

		log := open(t, t.TempDir())

		err := log.Close()
		if err != nil {
			t.Fatalf("close: %v", err)
		}

		err = log.Append(t.Context(), SampleTxes()[0])
		if !errors.Is(err, storage.ErrClosed) {
			t.Fatalf("append after close: err=%v, want ErrClosed", err)
		}

		err = log.Replay(t.Context(), func(core.Tx) error { return nil })
		if !errors.Is(err, storage.ErrClosed) {
			t.Fatalf("replay after close: err=%v, want ErrClosed", err)
		}
	})

	t.Run("Replay_Stops_At_Callback_Error", func(t *testing.T) {
		t.Parallel()

		log := open(t, t.TempDir())
		defer log.Close()

		for _, tx := range SampleTxes()[:3] {
			err := log.Append(t.Context(), tx)
			if err != nil {
				t.Fatalf("append: %v", err)
			}
		}

		stop := errors.New("stop")
		calls := 0

		err := log.Replay(t.Context(), func(core.Tx) error {
			calls++
			if calls == 2 {
				return stop
			}

			return nil
		})
		if !errors.Is(err, stop) {
			t.Fatalf("err=%v, want callback error", err)
		}

		if calls != 2 {
			t.Fatalf("calls=%d, want 2", calls)
		}
	})

	t.Run("LogStore_Reopen_Yields_Identical_State", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()

		first := openStore(t, open(t, dir))
		for _, tx := range SampleTxes() {
			_, err := first.Tx(t.Context(), tx)
			if err != nil {
				t.Fatalf("tx %s: %v", tx.Header().ID, err)
			}
		}

		want := first.Model().Snapshot()

		err := first.Close()
		if err != nil {
			t.Fatalf("close: %v", err)
		}

		second := openStore(t, open(t, dir))
		defer second.Close()

		if diff := cmp.Diff(want, second.Model().Snapshot()); diff != "" {
			t.Fatalf("state after replay differs (-live +replayed):\n%s", diff)
		}
	})
}

func openStore(t *testing.T, log storage.Log) *storage.LogStore {
	t.Helper()

	b := TaskModel()

	h, err := b.Hierarchy()
	if err != nil {
		t.Fatalf("hierarchy: %v", err)
	}

	s := storage.NewLogStore(core.NewModelDb(h), log)

	err = s.Init(t.Context(), b.Txes())
	if err != nil {
		t.Fatalf("init store: %v", err)
	}

	return s
}

func assertReplay(t *testing.T, log storage.Log, want []core.Tx) {
	t.Helper()

	var got []core.TxRecord

	err := log.Replay(context.WithoutCancel(t.Context()), func(tx core.Tx) error {
		r, err := core.ToRecord(tx)
		if err != nil {
			return err
		}

		got = append(got, r)

		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	wantRecords := make([]core.TxRecord, 0, len(want))

	for _, tx := range want {
		r, err := core.ToRecord(tx)
		if err != nil {
			t.Fatalf("record: %v", err)
		}

		wantRecords = append(wantRecords, normalizeRecord(t, r))
	}

	for i := range got {
		got[i] = normalizeRecord(t, got[i])
	}

	if diff := cmp.Diff(wantRecords, got); diff != "" {
		t.Fatalf("replayed records differ (-want +got):\n%s", diff)
	}
}

// normalizeRecord passes r through the JSON codec so numeric and slice
// types compare equal regardless of which codec produced them.
func normalizeRecord(t *testing.T, r core.TxRecord) core.TxRecord {
	t.Helper()

	tx, err := r.ToTx()
	if err != nil {
		t.Fatalf("decode record: %v", err)
	}

	data, err := core.MarshalTx(tx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	back, err := core.UnmarshalTx(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	out, err := core.ToRecord(back)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	return out
}
