package notify

import (
	"github.com/calvinalkan/txcore/pkg/core"
)

// Notification classifiers, providers and spaces.
const (
	// MixinClassCollaborators is class-level data: "fields" lists the
	// attributes whose account refs subscribe accounts to a document.
	MixinClassCollaborators core.Ref = "notification:mixin:ClassCollaborators"

	// MixinCollaborators is document-level data: "collaborators" is the
	// subscribed account set.
	MixinCollaborators core.Ref = "notification:mixin:Collaborators"

	// MixinTextPresenter and MixinHTMLPresenter are class-level data naming
	// a registered [Presenter] in "presenter".
	MixinTextPresenter core.Ref = "notification:mixin:TextPresenter"
	MixinHTMLPresenter core.Ref = "notification:mixin:HTMLPresenter"

	ClassDocUpdates           core.Ref = "notification:class:DocUpdates"
	ClassNotificationType     core.Ref = "notification:class:NotificationType"
	ClassNotificationProvider core.Ref = "notification:class:NotificationProvider"
	ClassNotificationSetting  core.Ref = "notification:class:NotificationSetting"
	ClassNotificationGroup    core.Ref = "notification:class:NotificationGroup"
	ClassEmailNotification    core.Ref = "notification:class:EmailNotification"
	ClassLastView             core.Ref = "notification:class:LastView"

	ProviderPlatform core.Ref = "notification:providers:PlatformNotification"
	ProviderEmail    core.Ref = "notification:providers:EmailNotification"

	// SpaceNotifications holds DocUpdates, LastView and EmailNotification
	// documents.
	SpaceNotifications core.Ref = "notification:space:Notifications"
)

// Email delivery states.
const (
	EmailNew   = "new"
	EmailSent  = "sent"
	EmailError = "error"
)

// Model declares the notification classes on b. b must already carry
// [core.BaseModel].
func Model(b *core.Builder) {
	b.Mixin(MixinClassCollaborators, core.ClassClass, core.Label("Class collaborators"))
	b.Attr(MixinClassCollaborators, "fields", core.ArrOf(core.Scalar(core.TypeString)))

	b.Mixin(MixinCollaborators, core.ClassDoc, core.Label("Collaborators"))
	b.Attr(MixinCollaborators, "collaborators", core.ArrOf(core.RefTo(core.ClassAccount)))

	b.Mixin(MixinTextPresenter, core.ClassClass)
	b.Attr(MixinTextPresenter, "presenter", core.Scalar(core.TypeString))

	b.Mixin(MixinHTMLPresenter, core.ClassClass)
	b.Attr(MixinHTMLPresenter, "presenter", core.Scalar(core.TypeString))

	b.Class(ClassDocUpdates, core.ClassDoc, core.Label("Document updates"), core.Domain("notification"))
	b.Attr(ClassDocUpdates, "user", core.RefTo(core.ClassAccount), core.Indexed())
	b.Attr(ClassDocUpdates, "hidden", core.Scalar(core.TypeBoolean))
	b.Attr(ClassDocUpdates, "lastTx", core.RefTo(core.ClassTx))
	b.Attr(ClassDocUpdates, "lastTxTime", core.Scalar(core.TypeDate))
	b.Attr(ClassDocUpdates, "txes", core.ArrOf(core.Scalar(core.TypeAny)))

	b.Class(ClassNotificationGroup, core.ClassDoc, core.Label("Notification group"), core.Domain("model"))
	b.Attr(ClassNotificationGroup, "objectClass", core.RefTo(core.ClassClass))

	b.Class(ClassNotificationType, core.ClassDoc, core.Label("Notification type"), core.Domain("model"))
	b.Attr(ClassNotificationType, "txClasses", core.ArrOf(core.RefTo(core.ClassClass)))
	b.Attr(ClassNotificationType, "objectClass", core.RefTo(core.ClassClass))
	b.Attr(ClassNotificationType, "attachedToClass", core.RefTo(core.ClassClass))
	b.Attr(ClassNotificationType, "field", core.Scalar(core.TypeString))
	b.Attr(ClassNotificationType, "group", core.RefTo(ClassNotificationGroup))
	b.Attr(ClassNotificationType, "attribute", core.RefTo(core.ClassAttribute))
	b.Attr(ClassNotificationType, "providers", core.Scalar(core.TypeAny))
	b.Attr(ClassNotificationType, "templates", core.Scalar(core.TypeAny))
	b.Attr(ClassNotificationType, "match", core.Scalar(core.TypeString))
	b.Attr(ClassNotificationType, "generated", core.Scalar(core.TypeBoolean))
	b.Attr(ClassNotificationType, "hidden", core.Scalar(core.TypeBoolean))

	b.Class(ClassNotificationProvider, core.ClassDoc, core.Label("Notification provider"), core.Domain("model"))

	b.Class(ClassNotificationSetting, core.ClassDoc, core.Label("Notification setting"), core.Domain("preference"))
	b.Attr(ClassNotificationSetting, "type", core.RefTo(ClassNotificationType))
	b.Attr(ClassNotificationSetting, "enabled", core.Scalar(core.TypeBoolean))

	b.Class(ClassEmailNotification, core.ClassDoc, core.Label("Email notification"), core.Domain("notification"))
	b.Attr(ClassEmailNotification, "status", core.Scalar(core.TypeString), core.Indexed())
	b.Attr(ClassEmailNotification, "sender", core.Scalar(core.TypeString))
	b.Attr(ClassEmailNotification, "receivers", core.ArrOf(core.Scalar(core.TypeString)))
	b.Attr(ClassEmailNotification, "subject", core.Scalar(core.TypeString))
	b.Attr(ClassEmailNotification, "text", core.Scalar(core.TypeString))
	b.Attr(ClassEmailNotification, "html", core.Scalar(core.TypeString))
	b.Attr(ClassEmailNotification, "error", core.Scalar(core.TypeString))

	b.Class(ClassLastView, core.ClassDoc, core.Label("Last view"), core.Domain("notification"))
	b.Attr(ClassLastView, "user", core.RefTo(core.ClassAccount), core.Indexed())

	b.Doc(ClassNotificationProvider, ProviderPlatform, map[string]any{"label": "Inbox"})
	b.Doc(ClassNotificationProvider, ProviderEmail, map[string]any{"label": "Email"})
	b.Doc(core.ClassSpace, SpaceNotifications, map[string]any{"name": "Notifications", "private": true})
}

// Collaborate declares which attributes of class hold collaborator accounts.
func Collaborate(b *core.Builder, class core.Ref, fields ...string) {
	b.ClassMixin(class, MixinClassCollaborators, map[string]any{"fields": stringsToAny(fields)})
}

// Present names the text and, optionally, HTML presenters used to render
// documents of class in emails. An empty html keeps the text presenter.
func Present(b *core.Builder, class core.Ref, text string, html string) {
	b.ClassMixin(class, MixinTextPresenter, map[string]any{"presenter": text})

	if html != "" {
		b.ClassMixin(class, MixinHTMLPresenter, map[string]any{"presenter": html})
	}
}

// Templates are the email templates of a notification type. {sender},
// {doc} and {data} are substituted when rendering.
type Templates struct {
	Text    string
	HTML    string
	Subject string
}

// Type is a notification type: which transactions notify, and through
// which providers by default.
type Type struct {
	ID          core.Ref
	Label       string
	Group       core.Ref
	ObjectClass core.Ref

	// TxClasses lists the transaction classes (after unwrapping collection
	// transactions) the type reacts to.
	TxClasses []core.Ref

	// AttachedToClass restricts collection transactions to parents of
	// this class.
	AttachedToClass core.Ref

	// Field restricts updates and mixins to those that set, push or pull it.
	Field string

	// Providers holds the default per-provider switches.
	Providers map[core.Ref]bool

	Templates *Templates

	// Match names a registered [TypeMatch] that must also accept the
	// transaction.
	Match string

	Attribute core.Ref
	Generated bool
	Hidden    bool
}

// DeclareType registers t as a model document.
func DeclareType(b *core.Builder, t Type) {
	b.Doc(ClassNotificationType, t.ID, t.attributes())
}

// DeclareGroup registers a notification group for objectClass. Attributes
// created later on objectClass get generated notification types.
func DeclareGroup(b *core.Builder, id core.Ref, objectClass core.Ref, label string) {
	b.Doc(ClassNotificationGroup, id, map[string]any{"objectClass": string(objectClass), "label": label})
}

func (t Type) attributes() map[string]any {
	providers := make(map[string]any, len(t.Providers))
	for k, v := range t.Providers {
		providers[string(k)] = v
	}

	txClasses := make([]any, len(t.TxClasses))
	for i, c := range t.TxClasses {
		txClasses[i] = string(c)
	}

	out := map[string]any{
		"label":       t.Label,
		"objectClass": string(t.ObjectClass),
		"txClasses":   txClasses,
		"providers":   providers,
		"generated":   t.Generated,
		"hidden":      t.Hidden,
	}

	setNonEmpty(out, "group", string(t.Group))
	setNonEmpty(out, "attachedToClass", string(t.AttachedToClass))
	setNonEmpty(out, "field", t.Field)
	setNonEmpty(out, "match", t.Match)
	setNonEmpty(out, "attribute", string(t.Attribute))

	if t.Templates != nil {
		out["templates"] = map[string]any{
			"textTemplate":    t.Templates.Text,
			"htmlTemplate":    t.Templates.HTML,
			"subjectTemplate": t.Templates.Subject,
		}
	}

	return out
}

// typeFromDoc reads a notification type document.
func typeFromDoc(doc *core.Doc) *Type {
	t := &Type{
		ID:              doc.ID,
		Label:           doc.String("label"),
		Group:           core.Ref(doc.String("group")),
		ObjectClass:     core.Ref(doc.String("objectClass")),
		TxClasses:       doc.Refs("txClasses"),
		AttachedToClass: core.Ref(doc.String("attachedToClass")),
		Field:           doc.String("field"),
		Match:           doc.String("match"),
		Attribute:       core.Ref(doc.String("attribute")),
		Providers:       make(map[core.Ref]bool),
	}

	t.Generated, _ = attr(doc, "generated").(bool)
	t.Hidden, _ = attr(doc, "hidden").(bool)

	if providers, ok := attr(doc, "providers").(map[string]any); ok {
		for k, v := range providers {
			enabled, _ := v.(bool)
			t.Providers[core.Ref(k)] = enabled
		}
	}

	if _, ok := attr(doc, "templates").(map[string]any); ok {
		t.Templates = &Templates{
			Text:    doc.String("templates.textTemplate"),
			HTML:    doc.String("templates.htmlTemplate"),
			Subject: doc.String("templates.subjectTemplate"),
		}
	}

	return t
}

func attr(doc *core.Doc, field string) any {
	v, _ := doc.Get(field)

	return v
}

func setNonEmpty(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}

	return out
}

func refsToAny(refs []core.Ref) []any {
	out := make([]any, len(refs))
	for i, r := range refs {
		out[i] = string(r)
	}

	return out
}

// refsOf reads a ref or an array of refs.
func refsOf(v any) []core.Ref {
	return (&core.Doc{Attributes: map[string]any{"v": v}}).Refs("v")
}
