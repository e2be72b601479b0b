package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/pipeline"
)

// Message is a rendered email.
type Message struct {
	Sender     string
	Recipients []string
	Subject    string
	Text       string
	HTML       string
}

// Sender delivers rendered emails. Transport is up to the implementation.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to [Sender].
type SenderFunc func(ctx context.Context, msg Message) error

// Send implements [Sender].
func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogSender writes every message to a logger instead of delivering it.
type LogSender struct {
	Logger zerolog.Logger
}

// Send implements [Sender].
func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Logger.Info().
		Str("sender", msg.Sender).
		Strs("recipients", msg.Recipients).
		Str("subject", msg.Subject).
		Msg(msg.Text)

	return nil
}

// Outbox collects messages in memory.
type Outbox struct {
	mu   sync.Mutex
	msgs []Message
}

// Send implements [Sender].
func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.msgs = append(o.msgs, msg)

	return nil
}

// Messages returns a copy of the collected messages.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]Message(nil), o.msgs...)
}

// emailTx renders t for doc and returns the create of a queued
// EmailNotification, or nil when the sender or receiver account is
// unknown or the document has nothing to render.
func (n *Notifier) emailTx(ctx context.Context, ctl *pipeline.Control, origin core.Tx, t *Type, doc *core.Doc, senderID, receiverID core.Ref) (core.Tx, error) {
	sender, err := ctl.FindOne(ctx, core.ClassAccount, core.Query{core.FieldID: string(senderID)})
	if err != nil {
		return nil, fmt.Errorf("find sender %s: %w", senderID, err)
	}

	receiver, err := ctl.FindOne(ctx, core.ClassAccount, core.Query{core.FieldID: string(receiverID)})
	if err != nil {
		return nil, fmt.Errorf("find receiver %s: %w", receiverID, err)
	}

	if sender == nil || receiver == nil || receiver.String("email") == "" {
		return nil, nil
	}

	senderName := sender.String("name")

	msg, ok, err := n.content(ctx, ctl, t, doc, senderName, "")
	if err != nil || !ok {
		return nil, err
	}

	return ctl.Factory.CreateTxCreateDoc(ClassEmailNotification, SpaceNotifications, map[string]any{
		"status":    EmailNew,
		"sender":    senderName,
		"receivers": []any{receiver.String("email")},
		"subject":   msg.Subject,
		"text":      msg.Text,
		"html":      msg.HTML,
		"type":      string(t.ID),
		"tx":        string(origin.Header().ID),
	}, ""), nil
}

// content fills the templates of t. It reports false when t has no
// templates or doc's class has no text presenter.
func (n *Notifier) content(ctx context.Context, ctl *pipeline.Control, t *Type, doc *core.Doc, sender, data string) (Message, bool, error) {
	if t.Templates == nil {
		return Message{}, false, nil
	}

	text, ok, err := n.present(ctx, ctl, doc, MixinTextPresenter)
	if err != nil || !ok {
		return Message{}, false, err
	}

	html, ok, err := n.present(ctx, ctl, doc, MixinHTMLPresenter)
	if err != nil {
		return Message{}, false, err
	}

	if !ok {
		html = text
	}

	return Message{
		Sender:  sender,
		Subject: fillTemplate(t.Templates.Subject, sender, text, data),
		Text:    fillTemplate(t.Templates.Text, sender, text, data),
		HTML:    fillTemplate(t.Templates.HTML, sender, html, data),
	}, true, nil
}

// present runs the presenter that the class-level mixin of doc's class
// names. An unregistered name is an error.
func (n *Notifier) present(ctx context.Context, ctl *pipeline.Control, doc *core.Doc, mixin core.Ref) (string, bool, error) {
	data, ok := ctl.Hierarchy.ClassHierarchyMixin(doc.Class, mixin)
	if !ok {
		return "", false, nil
	}

	name, _ := data["presenter"].(string)

	p, ok := n.presenters[name]
	if !ok {
		return "", false, fmt.Errorf("presenter %q for %s is not registered", name, doc.Class)
	}

	s, err := p(ctx, doc, ctl)
	if err != nil {
		return "", false, fmt.Errorf("presenter %q: %w", name, err)
	}

	return s, true, nil
}

func fillTemplate(template, sender, doc, data string) string {
	return strings.NewReplacer("{sender}", sender, "{doc}", doc, "{data}", data).Replace(template)
}

// OnEmailNotificationCreate wakes the delivery worker for a newly queued
// EmailNotification. Sending happens in [Notifier.Run], after the commit.
func (n *Notifier) OnEmailNotificationCreate(_ context.Context, tx core.Tx, _ *pipeline.Control) ([]core.Tx, error) {
	create, ok := tx.(*core.TxCreateDoc)
	if !ok || create.ObjectClass != ClassEmailNotification || n.sender == nil {
		return nil, nil
	}

	if status, _ := create.Attributes["status"].(string); status != EmailNew {
		return nil, nil
	}

	select {
	case n.wake <- struct{}{}:
	default:
	}

	return nil, nil
}

// Run delivers queued emails until ctx is done: once at start, then whenever
// a new EmailNotification is committed. It returns immediately when no
// [Sender] is configured.
func (n *Notifier) Run(ctx context.Context, client core.Client) error {
	if n.sender == nil {
		return nil
	}

	for {
		_, err := n.DeliverPending(ctx, client)
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			n.logger.Error().Err(err).Msg("email delivery pass failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-n.wake:
		}
	}
}

// DeliverPending sends every EmailNotification with status "new" and records
// the outcome on it through client: status "sent", or status "error" with the
// last delivery error. It returns the number of emails recorded. Passes are
// serialized, so concurrent callers never send the same email twice.
func (n *Notifier) DeliverPending(ctx context.Context, client core.Client) (int, error) {
	if n.sender == nil {
		return 0, nil
	}

	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	pending, err := client.FindAll(ctx, ClassEmailNotification, core.Query{"status": EmailNew}, nil)
	if err != nil {
		return 0, fmt.Errorf("find queued emails: %w", err)
	}

	recorded := 0

	for _, doc := range pending {
		ops, err := n.send(ctx, doc)
		if err != nil {
			return recorded, err
		}

		// The message is out; record it even when ctx ends now.
		update := n.factory.CreateTxUpdateDoc(doc.Class, doc.Space, doc.ID, ops, false)

		_, err = client.Tx(context.WithoutCancel(ctx), update)
		if err != nil {
			return recorded, fmt.Errorf("record email %s: %w", doc.ID, err)
		}

		recorded++
	}

	return recorded, nil
}

// send delivers doc and returns the status update to record. It fails only
// when ctx ends, leaving doc queued.
func (n *Notifier) send(ctx context.Context, doc *core.Doc) (core.Update, error) {
	msg := Message{
		Sender:     doc.String("sender"),
		Recipients: stringsOf(doc.Refs("receivers")),
		Subject:    doc.String("subject"),
		Text:       doc.String("text"),
		HTML:       doc.String("html"),
	}

	err := n.deliver(ctx, msg)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err != nil {
		n.emails.WithLabelValues("error").Inc()
		n.logger.Warn().Err(err).Str("email", string(doc.ID)).Msg("email delivery failed")

		return core.Update{
			core.Set{Path: "status", Value: EmailError},
			core.Set{Path: "error", Value: err.Error()},
		}, nil
	}

	n.emails.WithLabelValues("sent").Inc()

	return core.Update{core.Set{Path: "status", Value: EmailSent}}, nil
}

// deliver sends msg, retrying up to sendAttempts times no faster than
// sendInterval apart.
func (n *Notifier) deliver(ctx context.Context, msg Message) error {
	limiter := rate.NewLimiter(rate.Every(n.sendInterval), 1)

	var errs []error

	for range n.sendAttempts {
		err := limiter.Wait(ctx)
		if err != nil {
			errs = append(errs, err)

			break
		}

		err = n.sender.Send(ctx, msg)
		if err == nil {
			return nil
		}

		errs = append(errs, err)
	}

	return fmt.Errorf("after %d attempts: %w", len(errs), errors.Join(errs...))
}

func stringsOf(refs []core.Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = string(r)
	}

	return out
}
