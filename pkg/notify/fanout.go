package notify

import (
	"context"
	"fmt"
	"slices"

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/pipeline"
)

// fanOut produces the notification transactions for every collaborator of
// doc caused by origin.
func (n *Notifier) fanOut(ctx context.Context, collaborators []core.Ref, origin core.Tx, doc *core.Doc, ctl *pipeline.Control) ([]core.Tx, error) {
	if len(collaborators) == 0 {
		return nil, nil
	}

	types, err := matchedTypes(ctx, origin, ctl)
	if err != nil {
		return nil, err
	}

	if len(types) == 0 {
		return nil, nil
	}

	updates, err := ctl.FindAll(ctx, ClassDocUpdates, core.Query{core.FieldAttachedTo: string(doc.ID)}, nil)
	if err != nil {
		return nil, fmt.Errorf("find doc updates of %s: %w", doc.ID, err)
	}

	var out []core.Tx

	seen := make(map[core.Ref]bool, len(collaborators))

	for _, target := range collaborators {
		if seen[target] {
			continue
		}

		seen[target] = true

		txes, err := n.notifyTarget(ctx, types, origin, doc, target, updates, ctl)
		if err != nil {
			return nil, err
		}

		out = append(out, txes...)
	}

	return out, nil
}

// notifyTarget returns the DocUpdates and email transactions for one
// target. The author of origin is never notified.
func (n *Notifier) notifyTarget(ctx context.Context, types []*Type, origin core.Tx, doc *core.Doc, target core.Ref, updates []*core.Doc, ctl *pipeline.Control) ([]core.Tx, error) {
	h := origin.Header()
	if h.ModifiedBy == target {
		return nil, nil
	}

	inbox := false

	var emails []*Type

	for _, t := range types {
		if t.Match != "" {
			match, ok := n.matchers[t.Match]
			if !ok {
				ctl.Logger.Warn().Str("type", string(t.ID)).Str("match", t.Match).Msg("unknown type match, type skipped")

				continue
			}

			accepted, err := match(ctx, origin, doc, target, t, ctl)
			if err != nil {
				return nil, fmt.Errorf("type match %s: %w", t.Match, err)
			}

			if !accepted {
				continue
			}
		}

		allowed, err := isAllowed(ctx, ctl, target, t, ProviderPlatform)
		if err != nil {
			return nil, err
		}

		inbox = inbox || allowed

		allowed, err = isAllowed(ctx, ctl, target, t, ProviderEmail)
		if err != nil {
			return nil, err
		}

		if allowed {
			emails = append(emails, t)
		}
	}

	var out []core.Tx

	if inbox {
		out = append(out, docUpdatesTx(ctl, origin, doc, target, updates))
	}

	for _, t := range emails {
		tx, err := n.emailTx(ctx, ctl, origin, t, doc, h.ModifiedBy, target)
		if err != nil {
			return nil, err
		}

		if tx != nil {
			out = append(out, tx)
		}
	}

	return out, nil
}

// docUpdatesTx creates the (doc, target) DocUpdates record or appends
// origin to the existing one.
func docUpdatesTx(ctl *pipeline.Control, origin core.Tx, doc *core.Doc, target core.Ref, updates []*core.Doc) core.Tx {
	h := origin.Header()
	entry := []any{string(h.ID), h.ModifiedOn}

	i := slices.IndexFunc(updates, func(u *core.Doc) bool { return u.String("user") == string(target) })
	if i < 0 {
		return ctl.Factory.CreateTxCreateDoc(ClassDocUpdates, SpaceNotifications, map[string]any{
			"user":                    string(target),
			core.FieldAttachedTo:      string(doc.ID),
			core.FieldAttachedToClass: string(doc.Class),
			"hidden":                  false,
			"lastTx":                  string(h.ID),
			"lastTxTime":              h.ModifiedOn,
			"txes":                    []any{entry},
		}, "")
	}

	current := updates[i]

	return ctl.Factory.CreateTxUpdateDoc(current.Class, current.Space, current.ID, core.Update{
		core.Push{Path: "txes", Values: []any{entry}},
		core.Set{Path: "lastTx", Value: string(h.ID)},
		core.Set{Path: "lastTxTime", Value: h.ModifiedOn},
		core.Set{Path: "hidden", Value: false},
	}, false)
}

// isAllowed reports whether target receives notifications of type t through
// provider. A NotificationSetting authored by target wins over the type's
// default.
func isAllowed(ctx context.Context, ctl *pipeline.Control, target core.Ref, t *Type, provider core.Ref) (bool, error) {
	setting, err := ctl.FindOne(ctx, ClassNotificationSetting, core.Query{
		core.FieldAttachedTo: string(provider),
		"type":               string(t.ID),
		core.FieldModifiedBy: string(target),
	})
	if err != nil {
		return false, fmt.Errorf("find notification setting: %w", err)
	}

	if setting != nil {
		enabled, _ := attr(setting, "enabled").(bool)

		return enabled, nil
	}

	return t.Providers[provider], nil
}

// matchedTypes returns the notification types whose class, operation kind
// and field conditions all hold for tx.
func matchedTypes(ctx context.Context, tx core.Tx, ctl *pipeline.Control) ([]*Type, error) {
	docs, err := ctl.FindAll(ctx, ClassNotificationType, core.Query{}, nil)
	if err != nil {
		return nil, fmt.Errorf("find notification types: %w", err)
	}

	var out []*Type

	for _, d := range docs {
		t := typeFromDoc(d)
		if typeMatches(ctl.Hierarchy, t, tx) {
			out = append(out, t)
		}
	}

	return out, nil
}

func typeMatches(h *core.Hierarchy, t *Type, tx core.Tx) bool {
	actual := core.ExtractTx(tx)

	cud := core.CUDOf(actual)
	if cud == nil || !slices.Contains(t.TxClasses, actual.Header().Class) {
		return false
	}

	if !derivesFromBase(h, cud.ObjectClass, t.ObjectClass) {
		return false
	}

	if coll, ok := tx.(*core.TxCollectionCUD); ok && t.AttachedToClass != "" {
		if !derivesFromBase(h, coll.ObjectClass, t.AttachedToClass) {
			return false
		}
	}

	if t.Field == "" {
		return true
	}

	switch a := actual.(type) {
	case *core.TxUpdateDoc:
		return a.Operations.Touches(t.Field)
	case *core.TxMixin:
		return a.Attributes.Touches(t.Field)
	}

	return true
}

// derivesFromBase compares the non-mixin base classes of class and target.
func derivesFromBase(h *core.Hierarchy, class, target core.Ref) bool {
	base, err := h.GetBaseClass(class)
	if err != nil {
		return false
	}

	targetBase, err := h.GetBaseClass(target)
	if err != nil {
		return false
	}

	return h.IsDerived(base, targetBase)
}
