// Package notify turns task-change events into mail.
//
// The dispatcher acknowledges every message it is handed. A message that
// cannot be decoded, addressed or sent is logged and counted as failed; it is
// never redelivered.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/taskmesh/internal/bus"
	"github.com/austindbirch/taskmesh/internal/events"
	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/metrics"
	"github.com/austindbirch/taskmesh/internal/tracing"
)

type Outcome string

const (
	Delivered Outcome = "delivered"
	Failed    Outcome = "failed"
)

var ErrInvalidRecipient = errors.New("invalid recipient")

type Mail struct {
	To      string
	Subject string
	Body    string
	// EventID is carried as a header so duplicate sends can be spotted
	EventID string
}

type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// MailerFunc adapts a function to Mailer
type MailerFunc func(ctx context.Context, m Mail) error

func (f MailerFunc) Send(ctx context.Context, m Mail) error { return f(ctx, m) }

type Dispatcher struct {
	mailer Mailer
	domain string
	logger *logging.Logger
}

type Option func(*Dispatcher)

// WithRecipientDomain turns a bare username into username@domain
func WithRecipientDomain(domain string) Option {
	return func(d *Dispatcher) { d.domain = strings.TrimPrefix(domain, "@") }
}

func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func NewDispatcher(m Mailer, opts ...Option) *Dispatcher {
	d := &Dispatcher{mailer: m, logger: logging.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle is a bus.Handler. It always returns nil so the broker never
// redelivers a notification.
func (d *Dispatcher) Handle(ctx context.Context, m *bus.Message) error {
	outcome := d.Process(ctx, m.Body)
	d.logger.Plain().
		WithTopic(m.Topic).
		WithFields(map[string]any{
			"message_id": m.ID,
			"attempts":   m.Attempts,
			"outcome":    string(outcome),
		}).
		Debug("notification handled")
	return nil
}

// Process runs one event through Received -> Processing -> Delivered|Failed
func (d *Dispatcher) Process(ctx context.Context, body []byte) Outcome {
	ev, err := events.DecodeTaskChanged(body)
	if err != nil {
		d.logger.Plain().WithError(err).WithField("bytes", len(body)).Error("bad task event payload")
		metrics.RecordNotification(string(Failed))
		return Failed
	}

	ctx = tracing.ExtractHeaders(ctx, ev.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "notify.dispatch",
		attribute.String("event_id", ev.EventID),
		attribute.String("task_id", ev.TaskID),
		attribute.String("event_kind", string(ev.Kind)),
	)
	defer span.End()

	outcome := d.process(ctx, ev)
	span.SetAttributes(attribute.String("notify.outcome", string(outcome)))
	metrics.RecordNotification(string(outcome))
	return outcome
}

func (d *Dispatcher) process(ctx context.Context, ev events.TaskChanged) Outcome {
	log := d.logger.WithContext(ctx).WithEvent(ev.EventID).WithTask(ev.TaskID)

	to, err := d.recipient(ev.AssignedTo)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		log.WithError(err).WithField("assigned_to", ev.AssignedTo).Warn("cannot address notification")
		return Failed
	}

	tracing.AddSpanEvent(ctx, "mail.send")
	if err := d.mailer.Send(ctx, Compose(ev, to)); err != nil {
		tracing.SetSpanError(ctx, err)
		log.WithError(err).WithField("to", to).Error("notification mail failed")
		return Failed
	}

	log.WithField("to", to).Info("notification sent")
	return Delivered
}

func (d *Dispatcher) recipient(assignedTo string) (string, error) {
	assignedTo = strings.TrimSpace(assignedTo)
	switch {
	case assignedTo == "":
		return "", fmt.Errorf("%w: no assignee", ErrInvalidRecipient)
	case strings.Contains(assignedTo, "@"):
		return assignedTo, nil
	case d.domain == "":
		return "", fmt.Errorf("%w: %q has no domain", ErrInvalidRecipient, assignedTo)
	default:
		return assignedTo + "@" + d.domain, nil
	}
}

// Compose builds the notification for ev addressed to to
func Compose(ev events.TaskChanged, to string) Mail {
	return Mail{
		To:      to,
		Subject: "Task Update: " + ev.Title,
		Body: "Task: " + ev.Title +
			"\n\nDescription: " + ev.Description +
			"\n\nStatus: " + ev.Status +
			"\n\nAssigned to: " + ev.AssignedTo,
		EventID: ev.EventID,
	}
}
