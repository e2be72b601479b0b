// Package modelfile declares workspace models in YAML.
//
// A model file lists classes with their attributes, class-level mixin data,
// model documents (accounts, spaces) and notification groups and types:
//
//	classes:
//	  - id: tracker:class:Issue
//	    extends: core:class:AttachedDoc
//	    label: Issue
//	    collaborators: [assignee]
//	    presenter: {text: title}
//	    attributes:
//	      - {name: title, type: string, index: fulltext}
//	      - {name: assignee, type: "ref(core:class:Account)"}
//	notificationTypes:
//	  - id: tracker:notification:IssueChanged
//	    objectClass: tracker:class:Issue
//	    txClasses: [core:class:TxCreateDoc, core:class:TxUpdateDoc]
//	    providers: {platform: true, email: false}
//
// [Parse] checks the file with struct tags; [File.Apply] replays it onto a
// [core.Builder]. Cross references (extends, attribute targets) are checked
// when the builder's hierarchy loads.
package modelfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/fs"
	"github.com/calvinalkan/txcore/pkg/notify"
)

// ErrInvalid is returned for model files that do not parse or validate.
var ErrInvalid = errors.New("invalid model file")

// File is one parsed model file.
type File struct {
	Classes []Class             `yaml:"classes" validate:"dive"`
	Docs    []Doc               `yaml:"docs" validate:"dive"`
	Groups  []NotificationGroup `yaml:"notificationGroups" validate:"dive"`
	Types   []NotificationType  `yaml:"notificationTypes" validate:"dive"`
}

// Class declares a classifier. Kind defaults to class, Extends to
// core:class:Doc for classes.
type Class struct {
	ID         string      `yaml:"id" validate:"required,ref"`
	Kind       string      `yaml:"kind" validate:"omitempty,oneof=class mixin interface"`
	Extends    string      `yaml:"extends" validate:"required_if=Kind mixin,omitempty,ref"`
	Label      string      `yaml:"label"`
	Domain     string      `yaml:"domain"`
	Implements []string    `yaml:"implements" validate:"dive,ref"`
	Attributes []Attribute `yaml:"attributes" validate:"dive"`

	// Collaborators lists the account-ref attributes whose values subscribe
	// accounts to documents of the class.
	Collaborators []string `yaml:"collaborators" validate:"dive,required"`

	Presenter *Presenter   `yaml:"presenter"`
	Mixins    []ClassMixin `yaml:"mixins" validate:"dive"`
}

// Attribute declares one attribute. Type uses the [core.Type] string form.
type Attribute struct {
	Name   string `yaml:"name" validate:"required,excludesall=."`
	Type   string `yaml:"type" validate:"required,attrtype"`
	Index  string `yaml:"index" validate:"omitempty,oneof=none fulltext indexed indexed-dsc"`
	Label  string `yaml:"label"`
	Hidden bool   `yaml:"hidden"`
}

// Presenter names the registered presenters rendering the class in emails.
type Presenter struct {
	Text string `yaml:"text" validate:"required"`
	HTML string `yaml:"html"`
}

// ClassMixin attaches free-form class-level mixin data.
type ClassMixin struct {
	Mixin string         `yaml:"mixin" validate:"required,ref"`
	Data  map[string]any `yaml:"data"`
}

// Doc declares a model document.
type Doc struct {
	Class      string         `yaml:"class" validate:"required,ref"`
	ID         string         `yaml:"id" validate:"required,ref"`
	Attributes map[string]any `yaml:"attributes"`
}

// NotificationGroup declares a group; attributes created later on
// ObjectClass get generated notification types.
type NotificationGroup struct {
	ID          string `yaml:"id" validate:"required,ref"`
	ObjectClass string `yaml:"objectClass" validate:"required,ref"`
	Label       string `yaml:"label"`
}

// NotificationType declares a notification type. Provider keys are refs or
// the short names platform and email.
type NotificationType struct {
	ID              string          `yaml:"id" validate:"required,ref"`
	Label           string          `yaml:"label"`
	Group           string          `yaml:"group" validate:"omitempty,ref"`
	ObjectClass     string          `yaml:"objectClass" validate:"required,ref"`
	TxClasses       []string        `yaml:"txClasses" validate:"required,min=1,dive,ref"`
	AttachedToClass string          `yaml:"attachedToClass" validate:"omitempty,ref"`
	Field           string          `yaml:"field"`
	Providers       map[string]bool `yaml:"providers" validate:"dive,keys,required,endkeys"`
	Templates       *Templates      `yaml:"templates"`
	Match           string          `yaml:"match"`
	Hidden          bool            `yaml:"hidden"`
}

// Templates are email templates; see [notify.Templates].
type Templates struct {
	Text    string `yaml:"text"`
	HTML    string `yaml:"html"`
	Subject string `yaml:"subject" validate:"required"`
}

var providerAliases = map[string]core.Ref{
	"platform": notify.ProviderPlatform,
	"email":    notify.ProviderEmail,
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	_ = validate.RegisterValidation("ref", validateRef)
	_ = validate.RegisterValidation("attrtype", validateAttrType)
}

// validateRef accepts non-empty refs without whitespace.
func validateRef(fl validator.FieldLevel) bool {
	s := fl.Field().String()

	return s != "" && !strings.ContainsFunc(s, unicode.IsSpace)
}

func validateAttrType(fl validator.FieldLevel) bool {
	_, err := core.ParseType(fl.Field().String())

	return err == nil
}

// Parse decodes and validates a model file. Unknown keys are rejected and
// an empty file is an empty model.
func Parse(data []byte) (*File, error) {
	var f File

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	err := dec.Decode(&f)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	err = validate.Struct(&f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, describe(err))
	}

	return &f, nil
}

// describe flattens validator errors into one line per field.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := strings.TrimPrefix(fe.Namespace(), "File.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", ns, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", ns, fe.Tag()))
		}
	}

	return errors.New(strings.Join(msgs, "; "))
}

// Load reads and parses the model file at path.
func Load(fsys fs.FS, path string) (*File, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return f, nil
}

// LoadInto loads every file at paths and applies it to b in order.
func LoadInto(b *core.Builder, fsys fs.FS, paths ...string) error {
	for _, path := range paths {
		f, err := Load(fsys, path)
		if err != nil {
			return err
		}

		err = f.Apply(b)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	return nil
}

// Apply declares the file's contents on b: classifiers, attributes,
// class-level data, documents, then notification groups and types.
func (f *File) Apply(b *core.Builder) error {
	for _, c := range f.Classes {
		kind, err := core.ParseClassifierKind(c.Kind)
		if err != nil {
			return fmt.Errorf("%w: class %s: %w", ErrInvalid, c.ID, err)
		}

		opts := classOptions(c)

		switch kind {
		case core.KindMixin:
			b.Mixin(core.Ref(c.ID), core.Ref(c.Extends), opts...)
		case core.KindInterface:
			b.Interface(core.Ref(c.ID), core.Ref(c.Extends), opts...)
		default:
			extends := core.Ref(c.Extends)
			if extends == "" {
				extends = core.ClassDoc
			}

			b.Class(core.Ref(c.ID), extends, opts...)
		}
	}

	for _, c := range f.Classes {
		for _, a := range c.Attributes {
			err := applyAttribute(b, core.Ref(c.ID), a)
			if err != nil {
				return err
			}
		}
	}

	for _, c := range f.Classes {
		class := core.Ref(c.ID)

		if len(c.Collaborators) > 0 {
			notify.Collaborate(b, class, c.Collaborators...)
		}

		if c.Presenter != nil {
			notify.Present(b, class, c.Presenter.Text, c.Presenter.HTML)
		}

		for _, m := range c.Mixins {
			b.ClassMixin(class, core.Ref(m.Mixin), m.Data)
		}
	}

	for _, d := range f.Docs {
		b.Doc(core.Ref(d.Class), core.Ref(d.ID), d.Attributes)
	}

	for _, g := range f.Groups {
		notify.DeclareGroup(b, core.Ref(g.ID), core.Ref(g.ObjectClass), g.Label)
	}

	for _, t := range f.Types {
		nt, err := t.toType()
		if err != nil {
			return err
		}

		notify.DeclareType(b, nt)
	}

	return nil
}

func classOptions(c Class) []core.ClassOption {
	var opts []core.ClassOption

	if c.Label != "" {
		opts = append(opts, core.Label(c.Label))
	}

	if c.Domain != "" {
		opts = append(opts, core.Domain(c.Domain))
	}

	if len(c.Implements) > 0 {
		opts = append(opts, core.Implements(toRefs(c.Implements)...))
	}

	return opts
}

func applyAttribute(b *core.Builder, class core.Ref, a Attribute) error {
	t, err := core.ParseType(a.Type)
	if err != nil {
		return fmt.Errorf("%w: attribute %s.%s: %w", ErrInvalid, class, a.Name, err)
	}

	index, err := core.ParseIndexKind(a.Index)
	if err != nil {
		return fmt.Errorf("%w: attribute %s.%s: %w", ErrInvalid, class, a.Name, err)
	}

	var opts []core.AttrOption

	switch index {
	case core.IndexFullText:
		opts = append(opts, core.FullText())
	case core.IndexIndexed, core.IndexIndexedDsc:
		opts = append(opts, core.Indexed())
	case core.IndexNone:
	}

	if a.Label != "" {
		opts = append(opts, core.AttrLabel(a.Label))
	}

	if a.Hidden {
		opts = append(opts, core.Hidden())
	}

	b.Attr(class, a.Name, t, opts...)

	return nil
}

func (t NotificationType) toType() (notify.Type, error) {
	out := notify.Type{
		ID:              core.Ref(t.ID),
		Label:           t.Label,
		Group:           core.Ref(t.Group),
		ObjectClass:     core.Ref(t.ObjectClass),
		TxClasses:       toRefs(t.TxClasses),
		AttachedToClass: core.Ref(t.AttachedToClass),
		Field:           t.Field,
		Match:           t.Match,
		Hidden:          t.Hidden,
		Providers:       make(map[core.Ref]bool, len(t.Providers)),
	}

	for name, enabled := range t.Providers {
		provider, ok := providerAliases[name]
		if !ok {
			if !strings.Contains(name, ":") {
				return notify.Type{}, fmt.Errorf("%w: type %s: unknown provider %q", ErrInvalid, t.ID, name)
			}

			provider = core.Ref(name)
		}

		out.Providers[provider] = enabled
	}

	if t.Templates != nil {
		out.Templates = &notify.Templates{
			Text:    t.Templates.Text,
			HTML:    t.Templates.HTML,
			Subject: t.Templates.Subject,
		}
	}

	return out, nil
}

func toRefs(values []string) []core.Ref {
	out := make([]core.Ref, len(values))
	for i, v := range values {
		out[i] = core.Ref(v)
	}

	return out
}
