package notify

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/pipeline"
)

// notViewed marks a document a collaborator has never opened.
const notViewed int64 = -1

// OnAddCollaborator gives every account added to a Collaborators mixin a
// LastView entry for the document.
func OnAddCollaborator(ctx context.Context, tx core.Tx, ctl *pipeline.Control) ([]core.Tx, error) {
	mixin, ok := core.ExtractTx(tx).(*core.TxMixin)
	if !ok || mixin.Mixin != MixinCollaborators {
		return nil, nil
	}

	var added []core.Ref

	for _, op := range mixin.Attributes {
		if op.Field() != "collaborators" {
			continue
		}

		switch o := op.(type) {
		case core.Set:
			added = appendUnique(added, refsOf(o.Value)...)
		case core.Push:
			added = appendUnique(added, refsOf(o.Values)...)
		}
	}

	var out []core.Tx

	for _, user := range added {
		lv, err := lastViewTx(ctx, ctl, mixin.ObjectID, user)
		if err != nil {
			return nil, err
		}

		if lv != nil {
			out = append(out, lv)
		}
	}

	return out, nil
}

// lastViewTx creates the LastView of user or adds doc to it. It returns nil
// when doc is already tracked.
func lastViewTx(ctx context.Context, ctl *pipeline.Control, doc core.Ref, user core.Ref) (core.Tx, error) {
	lv, err := ctl.FindOne(ctx, ClassLastView, core.Query{"user": string(user)})
	if err != nil {
		return nil, fmt.Errorf("find last view of %s: %w", user, err)
	}

	if lv == nil {
		return ctl.Factory.CreateTxCreateDoc(ClassLastView, SpaceNotifications, map[string]any{
			"user":      string(user),
			string(doc): notViewed,
		}, ""), nil
	}

	if _, ok := lv.Attributes[string(doc)]; ok {
		return nil, nil
	}

	return ctl.Factory.CreateTxUpdateDoc(lv.Class, lv.Space, lv.ID,
		core.Update{core.Set{Path: string(doc), Value: notViewed}}, false), nil
}

// UpdateLastView drops a removed document from every LastView.
func UpdateLastView(ctx context.Context, tx core.Tx, ctl *pipeline.Control) ([]core.Tx, error) {
	remove, ok := core.ExtractTx(tx).(*core.TxRemoveDoc)
	if !ok || remove.ObjectClass == ClassLastView {
		return nil, nil
	}

	views, err := ctl.FindAll(ctx, ClassLastView, core.Query{string(remove.ObjectID): map[string]any{"$exists": true}}, nil)
	if err != nil {
		return nil, fmt.Errorf("find last views of %s: %w", remove.ObjectID, err)
	}

	out := make([]core.Tx, 0, len(views))
	for _, lv := range views {
		out = append(out, ctl.Factory.CreateTxUpdateDoc(lv.Class, lv.Space, lv.ID,
			core.Update{core.Unset{Path: string(remove.ObjectID)}}, false))
	}

	return out, nil
}

// OnUpdateLastView prunes DocUpdates history the user has now seen: for
// every document whose view time is set, entries at or before that time are
// dropped.
func OnUpdateLastView(ctx context.Context, tx core.Tx, ctl *pipeline.Control) ([]core.Tx, error) {
	update, ok := core.ExtractTx(tx).(*core.TxUpdateDoc)
	if !ok || update.ObjectClass != ClassLastView {
		return nil, nil
	}

	lv, err := ctl.FindOne(ctx, ClassLastView, core.Query{core.FieldID: string(update.ObjectID)})
	if err != nil || lv == nil {
		return nil, err
	}

	user := lv.String("user")

	var out []core.Tx

	for field, value := range update.Operations.Sets() {
		if field == "user" {
			continue
		}

		seen, ok := toMillis(value)
		if !ok {
			continue
		}

		updates, err := ctl.FindAll(ctx, ClassDocUpdates, core.Query{
			core.FieldAttachedTo: field,
			"user":               user,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("find doc updates of %s: %w", field, err)
		}

		for _, u := range updates {
			entries, _ := attr(u, "txes").([]any)

			kept := slices.DeleteFunc(slices.Clone(entries), func(e any) bool {
				pair, isPair := e.([]any)
				if !isPair || len(pair) != 2 {
					return false
				}

				at, isTime := toMillis(pair[1])

				return isTime && at <= seen
			})

			if len(kept) == len(entries) {
				continue
			}

			out = append(out, ctl.Factory.CreateTxUpdateDoc(u.Class, u.Space, u.ID,
				core.Update{core.Set{Path: "txes", Value: kept}}, false))
		}
	}

	slices.SortFunc(out, func(a, b core.Tx) int {
		return strings.Compare(string(core.CUDOf(a).ObjectID), string(core.CUDOf(b).ObjectID))
	})

	return out, nil
}

func toMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case uint64:
		return int64(t), true
	case float64:
		return int64(t), true
	}

	return 0, false
}
