// Package task owns task records. Every committed create or update is
// announced on the task notifications topic.
package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/taskmesh/internal/bus"
	"github.com/austindbirch/taskmesh/internal/events"
	"github.com/austindbirch/taskmesh/internal/existence"
	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/metrics"
	"github.com/austindbirch/taskmesh/internal/store"
	"github.com/austindbirch/taskmesh/internal/tracing"
	"github.com/austindbirch/taskmesh/internal/validation"
)

const (
	StatusToDo       = "TO_DO"
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

type Input struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=4000"`
	Status      string `json:"status" validate:"omitempty,oneof=TO_DO IN_PROGRESS DONE"`
	AssignedTo  string `json:"assignedTo" validate:"max=255"`
	ProjectID   string `json:"projectId" validate:"required,max=64"`
}

func (in *Input) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.AssignedTo = strings.TrimSpace(in.AssignedTo)
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.Status = strings.TrimSpace(in.Status)
}

type statusInput struct {
	Status string `json:"status" validate:"required,oneof=TO_DO IN_PROGRESS DONE"`
}

// Requirer admits a write only when the referenced resource exists
type Requirer interface {
	Require(ctx context.Context, kind existence.Kind, id string) error
}

type Service struct {
	store    store.TaskStore
	projects Requirer
	pub      bus.Publisher
	topic    string
	logger   *logging.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithTopic(topic string) Option {
	return func(s *Service) { s.topic = topic }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.TaskStore, projects Requirer, pub bus.Publisher, opts ...Option) *Service {
	s := &Service{
		store:    st,
		projects: projects,
		pub:      pub,
		topic:    events.TaskNotificationsTopic,
		logger:   logging.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates in, confirms the project exists, persists the task and
// then announces it.
func (s *Service) Create(ctx context.Context, in Input) (*store.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "task.create")
	defer span.End()

	in.normalize()
	if in.Status == "" {
		in.Status = StatusToDo
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if err := s.projects.Require(ctx, existence.KindProject, in.ProjectID); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("create task: %w", err)
	}

	t := &store.Task{
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		AssignedTo:  in.AssignedTo,
		ProjectID:   in.ProjectID,
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("create task: %w", err)
	}
	span.SetAttributes(attribute.String("task_id", t.ID))
	metrics.RecordTaskWrite("create")

	s.announce(ctx, events.KindCreated, t)
	return t, nil
}

// Update replaces the task's fields. An empty status keeps the current one.
func (s *Service) Update(ctx context.Context, id string, in Input) (*store.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "task.update", attribute.String("task_id", id))
	defer span.End()

	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	in.normalize()
	if in.Status == "" {
		in.Status = t.Status
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if err := s.projects.Require(ctx, existence.KindProject, in.ProjectID); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}

	t.Title = in.Title
	t.Description = in.Description
	t.Status = in.Status
	t.AssignedTo = in.AssignedTo
	t.ProjectID = in.ProjectID
	if err := s.store.UpdateTask(ctx, t); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	metrics.RecordTaskWrite("update")

	s.announce(ctx, events.KindUpdated, t)
	return t, nil
}

// UpdateStatus moves the task to status. The project is not re-checked.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*store.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "task.update_status", attribute.String("task_id", id))
	defer span.End()

	in := statusInput{Status: strings.TrimSpace(status)}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Status = in.Status
	if err := s.store.UpdateTask(ctx, t); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("update task %s status: %w", id, err)
	}
	metrics.RecordTaskWrite("status")

	s.announce(ctx, events.KindStatusChanged, t)
	return t, nil
}

// Delete removes the task without announcing it
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	metrics.RecordTaskWrite("delete")
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*store.Task, error) {
	return s.store.GetTask(ctx, id)
}

func (s *Service) List(ctx context.Context, f store.TaskFilter) ([]store.Task, error) {
	return s.store.ListTasks(ctx, f)
}

// announce publishes after the write committed. A publish failure leaves the
// write in place; the notification is lost.
func (s *Service) announce(ctx context.Context, kind events.Kind, t *store.Task) {
	ev := events.NewTaskChanged(kind, s.now())
	ev.Title = t.Title
	ev.Description = t.Description
	ev.AssignedTo = t.AssignedTo
	ev.Status = t.Status
	ev.TaskID = t.ID
	ev.ProjectID = t.ProjectID
	ev.TraceHeaders = tracing.InjectHeaders(ctx)

	if err := s.pub.Publish(ctx, s.topic, ev); err != nil {
		tracing.SetSpanError(ctx, err)
		s.logger.WithContext(ctx).
			WithTask(t.ID).
			WithEvent(ev.EventID).
			WithTopic(s.topic).
			WithError(err).
			Error("task committed but change event was not published")
		return
	}
	s.logger.WithContext(ctx).WithTask(t.ID).WithEvent(ev.EventID).Debug("task change published")
}
