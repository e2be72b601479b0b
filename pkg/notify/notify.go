// Package notify keeps collaborator sets and notification records in step
// with document changes.
//
// Everything here runs as [pipeline.Trigger]s: pure functions from a
// committed transaction to the derived transactions that follow from it.
//
//   - The collaborator handler maintains the [MixinCollaborators] set of
//     documents whose class declares [MixinClassCollaborators], and fans out
//     DocUpdates records and email notifications to collaborators.
//   - The last-view handlers track what each account has seen.
//   - The attribute handler generates notification types for new attributes
//     of classes that carry a notification group.
//   - The email handler only wakes [Notifier.Run], which delivers queued
//     EmailNotification documents through a [Sender] outside the commit and
//     records the outcome.
//
// The collaborator handler ignores derived creates, updates and mixins, so
// its own output never feeds back into it.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/pipeline"
)

// Presenter renders a document as a short string for email content.
type Presenter func(ctx context.Context, doc *core.Doc, ctl *pipeline.Control) (string, error)

// TypeMatch is an extra condition on a notification type, evaluated per
// target account after the structural match.
type TypeMatch func(ctx context.Context, tx core.Tx, doc *core.Doc, user core.Ref, t *Type, ctl *pipeline.Control) (bool, error)

// Defaults for email delivery retries.
const (
	DefaultSendAttempts = 3
	DefaultSendInterval = 200 * time.Millisecond
)

// Notifier holds the registries and delivery settings shared by the
// notification triggers.
type Notifier struct {
	presenters map[string]Presenter
	matchers   map[string]TypeMatch

	sender       Sender
	sendAttempts int
	sendInterval time.Duration

	// wake signals Run that an email was queued.
	wake      chan struct{}
	deliverMu sync.Mutex
	factory   *core.TxFactory
	logger    zerolog.Logger

	emails *prometheus.CounterVec
}

// Option configures a [Notifier].
type Option func(*notifierConfig)

type notifierConfig struct {
	n   *Notifier
	reg prometheus.Registerer
}

// WithPresenter registers p under name. Class-level presenter mixins refer
// to presenters by name.
func WithPresenter(name string, p Presenter) Option {
	return func(c *notifierConfig) { c.n.presenters[name] = p }
}

// WithTypeMatch registers m under name.
func WithTypeMatch(name string, m TypeMatch) Option {
	return func(c *notifierConfig) { c.n.matchers[name] = m }
}

// WithSender enables email delivery through s.
func WithSender(s Sender) Option {
	return func(c *notifierConfig) { c.n.sender = s }
}

// WithSendRetry sets the number of delivery attempts and the minimum
// interval between them. Non-positive values keep the defaults.
func WithSendRetry(attempts int, interval time.Duration) Option {
	return func(c *notifierConfig) {
		if attempts > 0 {
			c.n.sendAttempts = attempts
		}

		if interval > 0 {
			c.n.sendInterval = interval
		}
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *notifierConfig) { c.n.logger = logger }
}

// WithRegisterer registers delivery metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *notifierConfig) { c.reg = reg }
}

// New returns a notifier with the built-in presenters and type matches:
// presenter "title" and "name", and type match "IsUserInFieldValue".
func New(opts ...Option) *Notifier {
	n := &Notifier{
		presenters: map[string]Presenter{
			"title": FieldPresenter("title"),
			"name":  FieldPresenter("name"),
		},
		matchers: map[string]TypeMatch{
			"IsUserInFieldValue": IsUserInFieldValue,
		},
		sendAttempts: DefaultSendAttempts,
		sendInterval: DefaultSendInterval,
		wake:         make(chan struct{}, 1),
		factory:      core.NewDerivedTxFactory(core.AccountSystem),
		logger:       zerolog.Nop(),
	}

	cfg := &notifierConfig{n: n}
	for _, opt := range opts {
		opt(cfg)
	}

	n.emails = promauto.With(cfg.reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: "txcore",
		Subsystem: "notify",
		Name:      "emails_total",
		Help:      "Email notifications by delivery result",
	}, []string{"result"})

	return n
}

// Triggers returns the notification triggers in the order they must run.
// The email trigger is included only when a [Sender] is configured.
func (n *Notifier) Triggers() []pipeline.Trigger {
	out := []pipeline.Trigger{
		{Name: "notify.collaborators", Fn: n.CollaboratorDocHandler},
		{Name: "notify.add-collaborator", Fn: OnAddCollaborator},
		{Name: "notify.remove-last-view", Fn: UpdateLastView},
		{Name: "notify.update-last-view", Fn: OnUpdateLastView},
		{Name: "notify.attribute-create", Fn: OnAttributeCreate},
		{Name: "notify.attribute-update", Fn: OnAttributeUpdate},
	}

	if n.sender != nil {
		out = append(out, pipeline.Trigger{Name: "notify.email", Fn: n.OnEmailNotificationCreate})
	}

	return out
}

// FieldPresenter presents a document by the string value of field, falling
// back to its id.
func FieldPresenter(field string) Presenter {
	return func(_ context.Context, doc *core.Doc, _ *pipeline.Control) (string, error) {
		if s := doc.String(field); s != "" {
			return s, nil
		}

		return string(doc.ID), nil
	}
}

// IsUserInFieldValue accepts when the type's field on doc holds user, either
// as the value itself or as an array element.
func IsUserInFieldValue(_ context.Context, _ core.Tx, doc *core.Doc, user core.Ref, t *Type, _ *pipeline.Control) (bool, error) {
	if t.Field == "" || doc == nil {
		return false, nil
	}

	for _, r := range doc.Refs(t.Field) {
		if r == user {
			return true, nil
		}
	}

	return false, nil
}
