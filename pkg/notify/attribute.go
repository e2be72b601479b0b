package notify

import (
	"context"
	"fmt"

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/pipeline"
)

// OnAttributeCreate generates a notification type for an attribute added to
// a class that has a notification group. Collection attributes notify on
// creates and removes in the collection; other attributes on updates (or
// mixin applications, for mixin attributes) of the field.
//
// Generated types are off by default for every provider.
func OnAttributeCreate(ctx context.Context, tx core.Tx, ctl *pipeline.Control) ([]core.Tx, error) {
	create, ok := tx.(*core.TxCreateDoc)
	if !ok || create.ObjectClass != core.ClassAttribute {
		return nil, nil
	}

	a, ok := ctl.Hierarchy.Attribute(create.ObjectID)
	if !ok {
		return nil, nil
	}

	group, err := ctl.FindOne(ctx, ClassNotificationGroup, core.Query{"objectClass": string(a.AttributeOf)})
	if err != nil {
		return nil, fmt.Errorf("find notification group of %s: %w", a.AttributeOf, err)
	}

	if group == nil {
		return nil, nil
	}

	t := Type{
		ID:          core.Ref(fmt.Sprintf("%s_%s_%s", ClassNotificationType, a.AttributeOf, a.Name)),
		Label:       a.Label,
		Group:       group.ID,
		ObjectClass: a.AttributeOf,
		Field:       a.Name,
		Attribute:   a.ID,
		Generated:   true,
		Hidden:      a.Hidden,
		Providers:   map[core.Ref]bool{ProviderPlatform: false},
	}

	switch {
	case a.Type.Kind == core.TypeCollection:
		t.ObjectClass = a.Type.To
		t.AttachedToClass = a.AttributeOf
		t.TxClasses = []core.Ref{core.ClassTxCreateDoc, core.ClassTxRemoveDoc}
	case ctl.Hierarchy.IsMixin(a.AttributeOf):
		t.TxClasses = []core.Ref{core.ClassTxMixin}
	default:
		t.TxClasses = []core.Ref{core.ClassTxUpdateDoc}
	}

	return []core.Tx{ctl.Factory.CreateTxCreateDoc(ClassNotificationType, core.SpaceModel, t.attributes(), t.ID)}, nil
}

// OnAttributeUpdate mirrors an attribute's hidden flag onto its generated
// notification type.
func OnAttributeUpdate(ctx context.Context, tx core.Tx, ctl *pipeline.Control) ([]core.Tx, error) {
	update, ok := tx.(*core.TxUpdateDoc)
	if !ok || update.ObjectClass != core.ClassAttribute {
		return nil, nil
	}

	hidden, ok := update.Operations.Value("hidden")
	if !ok {
		return nil, nil
	}

	t, err := ctl.FindOne(ctx, ClassNotificationType, core.Query{"attribute": string(update.ObjectID)})
	if err != nil || t == nil {
		return nil, err
	}

	return []core.Tx{ctl.Factory.CreateTxUpdateDoc(t.Class, t.Space, t.ID,
		core.Update{core.Set{Path: "hidden", Value: hidden}}, false)}, nil
}
