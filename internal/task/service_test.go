package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/austindbirch/taskmesh/internal/bus"
	"github.com/austindbirch/taskmesh/internal/events"
	"github.com/austindbirch/taskmesh/internal/existence"
	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/store"
	"github.com/austindbirch/taskmesh/internal/store/memory"
	"github.com/austindbirch/taskmesh/internal/validation"
)

type published struct {
	topic string
	event events.TaskChanged
}

type recordingPublisher struct {
	mu   sync.Mutex
	got  []published
	fail error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return &bus.PublishError{Topic: topic, Err: p.fail}
	}
	p.got = append(p.got, published{topic: topic, event: event.(events.TaskChanged)})
	return nil
}

func (p *recordingPublisher) Published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.got...)
}

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.NewWithConfig("taskservice", logging.Config{Level: "error", Format: "json"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// projects reports existence from a fixed set; anything in down is unavailable
func projects(existing []string, down ...string) existence.Checker {
	return existence.CheckerFunc(func(_ context.Context, kind existence.Kind, id string) (bool, error) {
		for _, d := range down {
			if d == id {
				return false, errors.New("connection refused")
			}
		}
		for _, e := range existing {
			if e == id {
				return true, nil
			}
		}
		return false, nil
	})
}

type fixture struct {
	svc   *Service
	store *memory.Store
	pub   *recordingPublisher
}

func newFixture(t *testing.T, checker existence.Checker, opts ...existence.ValidatorOption) fixture {
	t.Helper()
	l := quietLogger(t)
	st := memory.New()
	pub := &recordingPublisher{}
	v := existence.NewValidator(checker, append([]existence.ValidatorOption{existence.WithLogger(l)}, opts...)...)
	svc := NewService(st, v, pub, WithLogger(l), WithClock(func() time.Time {
		return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	}))
	return fixture{svc: svc, store: st, pub: pub}
}

func TestCreate_PublishesExactlyOnce(t *testing.T) {
	f := newFixture(t, projects([]string{"P"}))

	got, err := f.svc.Create(context.Background(), Input{Title: "Fix bug", AssignedTo: "alice", Status: StatusToDo, ProjectID: "P"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	pubs := f.pub.Published()
	if len(pubs) != 1 {
		t.Fatalf("published %d events, want exactly 1", len(pubs))
	}
	ev := pubs[0].event
	if pubs[0].topic != events.TaskNotificationsTopic {
		t.Errorf("topic = %q", pubs[0].topic)
	}
	if ev.Title != "Fix bug" || ev.AssignedTo != "alice" || ev.Status != "TO_DO" || ev.Description != "" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Kind != events.KindCreated || ev.TaskID != got.ID || ev.ProjectID != "P" || ev.EventID == "" {
		t.Errorf("event metadata = %+v", ev)
	}
	if ev.OccurredAt != "2025-01-02T03:04:05Z" {
		t.Errorf("OccurredAt = %q", ev.OccurredAt)
	}

	if _, err := f.store.GetTask(context.Background(), got.ID); err != nil {
		t.Errorf("task not persisted: %v", err)
	}
}

func TestCreate_MissingProject(t *testing.T) {
	f := newFixture(t, projects([]string{"P"}))

	_, err := f.svc.Create(context.Background(), Input{Title: "Fix bug", AssignedTo: "alice", ProjectID: "Q"})
	if !errors.Is(err, existence.ErrNotFound) {
		t.Fatalf("Create() error = %v, want ErrNotFound", err)
	}
	if n := len(f.pub.Published()); n != 0 {
		t.Errorf("published %d events for a rejected write", n)
	}
	if list, _ := f.store.ListTasks(context.Background(), store.TaskFilter{}); len(list) != 0 {
		t.Errorf("rejected task was persisted: %+v", list)
	}
}

func TestCreate_ProjectServiceUnavailable(t *testing.T) {
	tests := []struct {
		name      string
		failOpen  bool
		wantErr   error
		wantPubs  int
		wantTasks int
	}{
		{name: "fail closed", wantErr: existence.ErrUnavailable},
		{name: "fail open", failOpen: true, wantPubs: 1, wantTasks: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, projects(nil, "P"), existence.WithFailOpen(tt.failOpen))

			_, err := f.svc.Create(context.Background(), Input{Title: "x", ProjectID: "P"})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Create() error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Create() error = %v, want %v", err, tt.wantErr)
			}
			if n := len(f.pub.Published()); n != tt.wantPubs {
				t.Errorf("published %d, want %d", n, tt.wantPubs)
			}
			list, _ := f.store.ListTasks(context.Background(), store.TaskFilter{})
			if len(list) != tt.wantTasks {
				t.Errorf("persisted %d tasks, want %d", len(list), tt.wantTasks)
			}
		})
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{name: "no title", in: Input{ProjectID: "P"}},
		{name: "blank title", in: Input{Title: "   ", ProjectID: "P"}},
		{name: "no project", in: Input{Title: "x"}},
		{name: "bad status", in: Input{Title: "x", ProjectID: "P", Status: "LATER"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var checked bool
			f := newFixture(t, existence.CheckerFunc(func(context.Context, existence.Kind, string) (bool, error) {
				checked = true
				return true, nil
			}))
			if _, err := f.svc.Create(context.Background(), tt.in); !errors.Is(err, validation.ErrInvalid) {
				t.Fatalf("Create() error = %v, want ErrInvalid", err)
			}
			if checked {
				t.Error("existence check ran for invalid input")
			}
			if n := len(f.pub.Published()); n != 0 {
				t.Errorf("published %d events", n)
			}
		})
	}
}

func TestCreate_DefaultStatus(t *testing.T) {
	f := newFixture(t, projects([]string{"P"}))
	got, err := f.svc.Create(context.Background(), Input{Title: "x", ProjectID: "P"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusToDo {
		t.Errorf("Status = %q, want TO_DO", got.Status)
	}
}

func TestCreate_PublishFailureKeepsWrite(t *testing.T) {
	f := newFixture(t, projects([]string{"P"}))
	f.pub.fail = errors.New("nsqd down")

	got, err := f.svc.Create(context.Background(), Input{Title: "x", ProjectID: "P"})
	if err != nil {
		t.Fatalf("Create() error = %v, publish failures must not fail the write", err)
	}
	if _, err := f.store.GetTask(context.Background(), got.ID); err != nil {
		t.Errorf("task rolled back after publish failure: %v", err)
	}
}

func TestUpdate(t *testing.T) {
	f := newFixture(t, projects([]string{"P", "P2"}))
	ctx := context.Background()

	created, err := f.svc.Create(ctx, Input{Title: "x", ProjectID: "P", Status: StatusInProgress})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := f.svc.Update(ctx, created.ID, Input{Title: "y", ProjectID: "P2", AssignedTo: "bob"})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.Title != "y" || updated.ProjectID != "P2" || updated.Status != StatusInProgress {
		t.Errorf("updated = %+v", updated)
	}

	if _, err := f.svc.Update(ctx, created.ID, Input{Title: "z", ProjectID: "gone"}); !errors.Is(err, existence.ErrNotFound) {
		t.Errorf("Update() to missing project = %v", err)
	}
	if _, err := f.svc.Update(ctx, "nope", Input{Title: "z", ProjectID: "P"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Update() of missing task = %v", err)
	}

	pubs := f.pub.Published()
	if len(pubs) != 2 || pubs[1].event.Kind != events.KindUpdated || pubs[1].event.AssignedTo != "bob" {
		t.Errorf("published = %+v", pubs)
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, projects([]string{"P"}))
	ctx := context.Background()

	created, err := f.svc.Create(ctx, Input{Title: "x", ProjectID: "P"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.UpdateStatus(ctx, created.ID, StatusDone)
	if err != nil || got.Status != StatusDone {
		t.Fatalf("UpdateStatus() = %+v, %v", got, err)
	}
	if _, err := f.svc.UpdateStatus(ctx, created.ID, "WAITING"); !errors.Is(err, validation.ErrInvalid) {
		t.Errorf("UpdateStatus(WAITING) = %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, "nope", StatusDone); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateStatus(missing) = %v", err)
	}

	pubs := f.pub.Published()
	if len(pubs) != 2 || pubs[1].event.Kind != events.KindStatusChanged || pubs[1].event.Status != "DONE" {
		t.Errorf("published = %+v", pubs)
	}
}

func TestDelete_PublishesNothing(t *testing.T) {
	f := newFixture(t, projects([]string{"P"}))
	ctx := context.Background()

	created, err := f.svc.Create(ctx, Input{Title: "x", ProjectID: "P"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Delete(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if n := len(f.pub.Published()); n != 1 {
		t.Errorf("published %d events, want only the create", n)
	}
	if err := f.svc.Delete(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete() = %v", err)
	}
}

func TestCreate_WireFormatOverBus(t *testing.T) {
	l := quietLogger(t)
	b := bus.NewMemory(bus.WithMemoryLogger(l))
	defer b.Close()

	bodies := make(chan []byte, 1)
	if _, err := b.Subscribe(events.TaskNotificationsTopic, events.NotifierChannel, func(_ context.Context, m *bus.Message) error {
		bodies <- m.Body
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	v := existence.NewValidator(projects([]string{"P"}), existence.WithLogger(l))
	svc := NewService(memory.New(), v, b, WithLogger(l))
	if _, err := svc.Create(context.Background(), Input{Title: "Fix bug", AssignedTo: "alice", ProjectID: "P"}); err != nil {
		t.Fatal(err)
	}

	select {
	case body := <-bodies:
		var wire map[string]any
		if err := json.Unmarshal(body, &wire); err != nil {
			t.Fatal(err)
		}
		for key, want := range map[string]string{"title": "Fix bug", "description": "", "assignedTo": "alice", "status": "TO_DO"} {
			if wire[key] != want {
				t.Errorf("%s = %v, want %q", key, wire[key], want)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}
