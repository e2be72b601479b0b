package modelfile_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/txcore/internal/testutil"
	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/fs"
	"github.com/calvinalkan/txcore/pkg/modelfile"
	"github.com/calvinalkan/txcore/pkg/notify"
)

const trackerYAML = `
classes:
  - id: tracker:class:Issue
    extends: core:class:AttachedDoc
    label: Issue
    collaborators: [assignee, watchers]
    presenter: {text: title}
    attributes:
      - {name: title, type: string, index: fulltext}
      - {name: assignee, type: "ref(core:class:Account)"}
      - {name: watchers, type: "arrOf(ref(core:class:Account))"}
      - {name: comments, type: "collection(tracker:class:Note)"}
  - id: tracker:class:Note
    extends: core:class:AttachedDoc
    attributes:
      - {name: body, type: markup, index: fulltext, label: Body}
  - id: tracker:mixin:Estimated
    kind: mixin
    extends: tracker:class:Issue
    attributes:
      - {name: points, type: number, hidden: true}
    mixins:
      - mixin: tracker:mixin:Flags
        data: {color: red}
  - id: tracker:mixin:Flags
    kind: mixin
    extends: core:class:Class
    attributes:
      - {name: color, type: string}
docs:
  - class: core:class:Account
    id: tracker:account:dana
    attributes: {name: dana, email: dana@example.com}
notificationGroups:
  - {id: tracker:group:Issue, objectClass: tracker:class:Issue, label: Issues}
notificationTypes:
  - id: tracker:notification:IssueChanged
    label: Issue changed
    group: tracker:group:Issue
    objectClass: tracker:class:Issue
    txClasses: [core:class:TxCreateDoc, core:class:TxUpdateDoc]
    providers: {platform: true, email: false}
    templates:
      text: "{sender} changed {doc}"
      subject: "Changed: {doc}"
`

func loadTracker(t *testing.T) *core.ModelDb {
	t.Helper()

	f, err := modelfile.Parse([]byte(trackerYAML))
	require.NoError(t, err)

	b := core.NewBuilder()
	core.BaseModel(b)
	notify.Model(b)

	require.NoError(t, f.Apply(b))

	return testutil.LoadModel(t, b)
}

func Test_Apply_Declares_Classes_And_Attributes_When_File_Is_Valid(t *testing.T) {
	t.Parallel()

	m := loadTracker(t)
	h := m.Hierarchy()

	require.True(t, h.IsDerived("tracker:class:Issue", core.ClassAttachedDoc))
	require.True(t, h.IsMixin("tracker:mixin:Estimated"))

	title, ok := h.FindAttribute("tracker:class:Issue", "title")
	require.True(t, ok)
	require.Equal(t, core.IndexFullText, title.Index)

	watchers, ok := h.FindAttribute("tracker:class:Issue", "watchers")
	require.True(t, ok)

	if diff := cmp.Diff(core.ArrOf(core.RefTo(core.ClassAccount)), watchers.Type); diff != "" {
		t.Fatalf("watchers type mismatch (-want +got):\n%s", diff)
	}

	body, ok := h.FindAttribute("tracker:class:Note", "body")
	require.True(t, ok)
	require.Equal(t, "Body", body.Label)

	points, ok := h.FindAttribute("tracker:mixin:Estimated", "points")
	require.True(t, ok)
	require.True(t, points.Hidden)
}

func Test_Apply_Attaches_Collaborators_Presenter_And_Class_Mixins(t *testing.T) {
	t.Parallel()

	h := loadTracker(t).Hierarchy()

	collab, ok := h.ClassHierarchyMixin("tracker:class:Issue", notify.MixinClassCollaborators)
	require.True(t, ok)
	require.Equal(t, []any{"assignee", "watchers"}, collab["fields"])

	presenter, ok := h.ClassHierarchyMixin("tracker:class:Issue", notify.MixinTextPresenter)
	require.True(t, ok)
	require.Equal(t, "title", presenter["presenter"])

	_, ok = h.ClassHierarchyMixin("tracker:class:Issue", notify.MixinHTMLPresenter)
	require.False(t, ok, "html presenter must not be declared when empty")

	flags, ok := h.ClassHierarchyMixin("tracker:mixin:Estimated", "tracker:mixin:Flags")
	require.True(t, ok)
	require.Equal(t, "red", flags["color"])
}

func Test_Apply_Declares_Docs_And_Notification_Types(t *testing.T) {
	t.Parallel()

	m := loadTracker(t)

	dana, ok := m.Get("tracker:account:dana")
	require.True(t, ok)
	require.Equal(t, "dana@example.com", dana.String("email"))

	group, err := m.FindOne(t.Context(), notify.ClassNotificationGroup, core.Query{"objectClass": "tracker:class:Issue"})
	require.NoError(t, err)
	require.NotNil(t, group)
	require.Equal(t, core.Ref("tracker:group:Issue"), group.ID)

	typ, ok := m.Get("tracker:notification:IssueChanged")
	require.True(t, ok)
	require.Equal(t, notify.ClassNotificationType, typ.Class)
	require.Equal(t, []core.Ref{core.ClassTxCreateDoc, core.ClassTxUpdateDoc}, typ.Refs("txClasses"))
	require.Equal(t, "Changed: {doc}", typ.String("templates.subjectTemplate"))

	providers, _ := typ.Get("providers")
	require.Equal(t, map[string]any{
		string(notify.ProviderPlatform): true,
		string(notify.ProviderEmail):    false,
	}, providers)
}

func Test_Parse_Returns_ErrInvalid_When_File_Is_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown key",
			yaml: "classes:\n  - id: a:class:X\n    colour: red\n",
			want: "colour",
		},
		{
			name: "bad attribute type",
			yaml: "classes:\n  - id: a:class:X\n    attributes:\n      - {name: n, type: \"ref()\"}\n",
			want: "Type: failed attrtype",
		},
		{
			name: "mixin without extends",
			yaml: "classes:\n  - id: a:mixin:M\n    kind: mixin\n",
			want: "Extends: failed required_if",
		},
		{
			name: "ref with whitespace",
			yaml: "docs:\n  - {class: core:class:Account, id: \"a b\"}\n",
			want: "ID: failed ref",
		},
		{
			name: "type without tx classes",
			yaml: "notificationTypes:\n  - {id: a:n:T, objectClass: a:class:X}\n",
			want: "TxClasses: failed required",
		},
		{
			name: "unknown kind",
			yaml: "classes:\n  - {id: a:class:X, kind: enum}\n",
			want: "Kind: failed oneof",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := modelfile.Parse([]byte(tt.yaml))
			require.Error(t, err)
			require.True(t, errors.Is(err, modelfile.ErrInvalid), "err = %v", err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func Test_Parse_Returns_Empty_File_When_Input_Is_Empty(t *testing.T) {
	t.Parallel()

	f, err := modelfile.Parse(nil)
	require.NoError(t, err)
	require.Empty(t, f.Classes)
	require.Empty(t, f.Types)
}

func Test_Apply_Returns_ErrInvalid_When_Provider_Is_Unknown(t *testing.T) {
	t.Parallel()

	f, err := modelfile.Parse([]byte(`
notificationTypes:
  - id: a:n:T
    objectClass: core:class:Doc
    txClasses: [core:class:TxCreateDoc]
    providers: {pager: true}
`))
	require.NoError(t, err)

	b := core.NewBuilder()
	core.BaseModel(b)

	err = f.Apply(b)
	require.ErrorIs(t, err, modelfile.ErrInvalid)
	require.Contains(t, err.Error(), "pager")
}

func Test_LoadInto_Applies_Files_In_Order_When_Later_File_Extends_Earlier(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := filepath.Join(dir, "base.yaml")
	second := filepath.Join(dir, "ext.yaml")

	require.NoError(t, os.WriteFile(first, []byte("classes:\n  - {id: a:class:Base, label: Base}\n"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("classes:\n  - {id: a:class:Child, extends: a:class:Base}\n"), 0o600))

	b := core.NewBuilder()
	core.BaseModel(b)

	require.NoError(t, modelfile.LoadInto(b, fs.NewReal(), first, second))

	h, err := b.Hierarchy()
	require.NoError(t, err)
	require.True(t, h.IsDerived("a:class:Child", "a:class:Base"))
	require.True(t, h.IsDerived("a:class:Base", core.ClassDoc))
}

func Test_LoadInto_Names_The_File_When_It_Fails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")

	require.NoError(t, os.WriteFile(bad, []byte("classes: [{id: \"\"}]\n"), 0o600))

	err := modelfile.LoadInto(core.NewBuilder(), fs.NewReal(), bad)
	require.ErrorIs(t, err, modelfile.ErrInvalid)
	require.True(t, strings.HasPrefix(err.Error(), bad), "err = %v", err)
}
