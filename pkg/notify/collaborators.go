package notify

import (
	"context"
	"fmt"
	"slices"

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/pipeline"
)

// CollaboratorDocHandler maintains collaborator sets and fans out
// notifications.
//
//   - create: the initial set is computed from the class's collaborator
//     fields and written as a Collaborators mixin; every collaborator except
//     the author is notified.
//   - update, mixin: accounts newly referenced by set or pushed values are
//     added to the set; old and new collaborators are notified.
//   - remove: every DocUpdates record of the document is removed.
//   - collection create or remove: additionally notifies the parent's
//     collaborators.
//
// Derived creates, updates and mixins are ignored.
func (n *Notifier) CollaboratorDocHandler(ctx context.Context, tx core.Tx, ctl *pipeline.Control) ([]core.Tx, error) {
	origin := core.CUDOf(tx)
	if origin == nil {
		return nil, nil
	}

	if coll, ok := tx.(*core.TxCollectionCUD); ok {
		return n.collection(ctx, coll, ctl)
	}

	return n.handle(ctx, tx, tx, ctl)
}

// handle dispatches actual, the unwrapped transaction. origin is the
// transaction as committed, used as the notification source.
func (n *Notifier) handle(ctx context.Context, actual core.Tx, origin core.Tx, ctl *pipeline.Control) ([]core.Tx, error) {
	switch t := actual.(type) {
	case *core.TxCreateDoc:
		if core.IsDerivedTx(t) {
			return nil, nil
		}

		return n.createCollaborators(ctx, t, origin, ctl)
	case *core.TxUpdateDoc:
		if core.IsDerivedTx(t) {
			return nil, nil
		}

		return n.updateCollaborators(ctx, &t.TxCUD, "", t.Operations, origin, ctl)
	case *core.TxMixin:
		if core.IsDerivedTx(t) {
			return nil, nil
		}

		return n.updateCollaborators(ctx, &t.TxCUD, t.Mixin, t.Attributes, origin, ctl)
	case *core.TxRemoveDoc:
		return removeCollaborators(ctx, t, ctl)
	case *core.TxPutBag:
		return nil, nil
	}

	return nil, fmt.Errorf("%w: %T", core.ErrUnhandledTx, actual)
}

func (n *Notifier) collection(ctx context.Context, tx *core.TxCollectionCUD, ctl *pipeline.Control) ([]core.Tx, error) {
	out, err := n.handle(ctx, tx.Tx, tx, ctl)
	if err != nil {
		return nil, err
	}

	switch tx.Tx.(type) {
	case *core.TxCreateDoc, *core.TxRemoveDoc:
	default:
		return out, nil
	}

	parent, err := ctl.FindOne(ctx, tx.ObjectClass, core.Query{core.FieldID: string(tx.ObjectID)})
	if err != nil {
		return nil, fmt.Errorf("find parent %s: %w", tx.ObjectID, err)
	}

	if parent == nil || !ctl.Hierarchy.HasMixin(parent, MixinCollaborators) {
		return out, nil
	}

	collaborators := ctl.Hierarchy.As(parent, MixinCollaborators).Refs("collaborators")

	more, err := n.fanOut(ctx, collaborators, tx, parent, ctl)
	if err != nil {
		return nil, err
	}

	return append(out, more...), nil
}

// collaboratorFields returns the declared collaborator fields of class, or
// false when the class does not take collaborators.
func collaboratorFields(h *core.Hierarchy, class core.Ref) ([]string, bool) {
	data, ok := h.ClassHierarchyMixin(class, MixinClassCollaborators)
	if !ok {
		return nil, false
	}

	var fields []string

	if items, isSlice := data["fields"].([]any); isSlice {
		for _, item := range items {
			if s, isString := item.(string); isString {
				fields = append(fields, s)
			}
		}
	}

	return fields, true
}

func (n *Notifier) createCollaborators(ctx context.Context, tx *core.TxCreateDoc, origin core.Tx, ctl *pipeline.Control) ([]core.Tx, error) {
	fields, ok := collaboratorFields(ctl.Hierarchy, tx.ObjectClass)
	if !ok {
		return nil, nil
	}

	doc := core.CreateDocToDoc(tx)

	collaborators, err := docCollaborators(ctx, doc, fields, ctl)
	if err != nil {
		return nil, err
	}

	out := []core.Tx{
		ctl.Factory.CreateTxMixin(tx.ObjectID, tx.ObjectClass, tx.ObjectSpace, MixinCollaborators,
			core.Update{core.Set{Path: "collaborators", Value: refsToAny(collaborators)}}),
	}

	more, err := n.fanOut(ctx, collaborators, origin, doc, ctl)
	if err != nil {
		return nil, err
	}

	return append(out, more...), nil
}

// updateCollaborators handles an update (mixin empty) or a mixin
// application on the document addressed by target.
func (n *Notifier) updateCollaborators(ctx context.Context, target *core.TxCUD, mixin core.Ref, ops core.Update, origin core.Tx, ctl *pipeline.Control) ([]core.Tx, error) {
	if mixin == MixinCollaborators {
		return nil, nil
	}

	fields, ok := collaboratorFields(ctl.Hierarchy, target.ObjectClass)
	if !ok {
		return nil, nil
	}

	doc, err := ctl.FindOne(ctx, target.ObjectClass, core.Query{core.FieldID: string(target.ObjectID)})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", target.ObjectID, err)
	}

	if doc == nil {
		return nil, nil
	}

	if !ctl.Hierarchy.HasMixin(doc, MixinCollaborators) {
		collaborators, err := docCollaborators(ctx, doc, fields, ctl)
		if err != nil {
			return nil, err
		}

		out := []core.Tx{
			ctl.Factory.CreateTxMixin(doc.ID, doc.Class, doc.Space, MixinCollaborators,
				core.Update{core.Set{Path: "collaborators", Value: refsToAny(collaborators)}}),
		}

		more, err := n.fanOut(ctx, collaborators, origin, doc, ctl)
		if err != nil {
			return nil, err
		}

		return append(out, more...), nil
	}

	current := ctl.Hierarchy.As(doc, MixinCollaborators).Refs("collaborators")

	added, err := newCollaborators(ctx, doc, mixin, ops, fields, ctl)
	if err != nil {
		return nil, err
	}

	added = slices.DeleteFunc(added, func(r core.Ref) bool { return slices.Contains(current, r) })

	var out []core.Tx

	if len(added) > 0 {
		out = append(out, ctl.Factory.CreateTxMixin(doc.ID, doc.Class, doc.Space, MixinCollaborators,
			core.Update{core.PushAt("collaborators", 0, refsToAny(added)...)}))
	}

	more, err := n.fanOut(ctx, append(slices.Clone(current), added...), origin, doc, ctl)
	if err != nil {
		return nil, err
	}

	return append(out, more...), nil
}

func removeCollaborators(ctx context.Context, tx *core.TxRemoveDoc, ctl *pipeline.Control) ([]core.Tx, error) {
	if _, ok := collaboratorFields(ctl.Hierarchy, tx.ObjectClass); !ok {
		return nil, nil
	}

	updates, err := ctl.FindAll(ctx, ClassDocUpdates, core.Query{core.FieldAttachedTo: string(tx.ObjectID)}, nil)
	if err != nil {
		return nil, fmt.Errorf("find doc updates of %s: %w", tx.ObjectID, err)
	}

	out := make([]core.Tx, 0, len(updates))
	for _, u := range updates {
		out = append(out, ctl.Factory.CreateTxRemoveDoc(u.Class, u.Space, u.ID))
	}

	return out, nil
}

// docCollaborators collects the accounts referenced by fields of doc, in
// field order, without duplicates.
func docCollaborators(ctx context.Context, doc *core.Doc, fields []string, ctl *pipeline.Control) ([]core.Ref, error) {
	var out []core.Ref

	for _, field := range fields {
		value, ok := doc.Get(field)
		if !ok {
			continue
		}

		accounts, err := valueCollaborators(ctx, doc.Class, field, value, ctl)
		if err != nil {
			return nil, err
		}

		out = appendUnique(out, accounts...)
	}

	return out, nil
}

// newCollaborators collects the accounts that ops set or push into
// collaborator fields. mixin is the mixin the operations apply to, if any.
func newCollaborators(ctx context.Context, doc *core.Doc, mixin core.Ref, ops core.Update, fields []string, ctl *pipeline.Control) ([]core.Ref, error) {
	class := doc.Class
	if mixin != "" {
		class = mixin
	}

	var out []core.Ref

	for _, op := range ops {
		if !slices.Contains(fields, op.Field()) {
			continue
		}

		var value any

		switch o := op.(type) {
		case core.Set:
			value = o.Value
		case core.Push:
			value = o.Values
		default:
			continue
		}

		accounts, err := valueCollaborators(ctx, class, op.Field(), value, ctl)
		if err != nil {
			return nil, err
		}

		out = appendUnique(out, accounts...)
	}

	return out, nil
}

// valueCollaborators resolves value to existing accounts when field on
// class is declared as an account ref or an array of account refs.
func valueCollaborators(ctx context.Context, class core.Ref, field string, value any, ctl *pipeline.Control) ([]core.Ref, error) {
	if value == nil {
		return nil, nil
	}

	a, ok := ctl.Hierarchy.FindAttribute(class, field)
	if !ok {
		return nil, nil
	}

	to, ok := a.Type.RefTarget()
	if !ok || !ctl.Hierarchy.IsDerived(to, core.ClassAccount) {
		return nil, nil
	}

	ids := refsOf(value)
	if len(ids) == 0 {
		return nil, nil
	}

	accounts, err := ctl.FindAll(ctx, core.ClassAccount, core.Query{core.FieldID: core.In(refsToAny(ids)...)}, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve accounts of %s: %w", field, err)
	}

	found := make(map[core.Ref]bool, len(accounts))
	for _, acc := range accounts {
		found[acc.ID] = true
	}

	var out []core.Ref

	for _, id := range ids {
		if found[id] {
			out = appendUnique(out, id)
		}
	}

	return out, nil
}

func appendUnique(dst []core.Ref, refs ...core.Ref) []core.Ref {
	for _, r := range refs {
		if !slices.Contains(dst, r) {
			dst = append(dst, r)
		}
	}

	return dst
}
