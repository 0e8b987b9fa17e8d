package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustRegister() panicked: %v", r)
		}
	}()
	MustRegister(reg)

	// Vec metrics only appear in Gather() once a label set exists
	RecordPublish("task.notifications", nil)
	RecordAuthRejection("expired")
	RecordExistenceCheck("project", "found", 10*time.Millisecond)
	RecordNotification("delivered")
	RecordTaskWrite("create")
	UpdateConsumerBacklog("task.notifications", "notifier", 3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	registered := make(map[string]bool)
	for _, mf := range families {
		registered[mf.GetName()] = true
	}

	for _, name := range []string{
		"taskmesh_events_published_total",
		"taskmesh_auth_rejections_total",
		"taskmesh_existence_checks_total",
		"taskmesh_existence_check_latency_seconds",
		"taskmesh_notifications_total",
		"taskmesh_task_writes_total",
		"taskmesh_consumer_backlog",
	} {
		if !registered[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestMustRegister_Twice(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	defer func() {
		if recover() == nil {
			t.Error("second MustRegister() on the same registry should panic")
		}
	}()
	MustRegister(reg)
}

func TestRecordPublish(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		result string
	}{
		{name: "success", err: nil, result: "ok"},
		{name: "failure", err: errors.New("nsqd down"), result: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := EventsPublishedTotal.WithLabelValues("t1", tt.result)
			before := testutil.ToFloat64(c)
			RecordPublish("t1", tt.err)
			if got := testutil.ToFloat64(c) - before; got != 1 {
				t.Errorf("counter delta = %v, want 1", got)
			}
		})
	}
}

func TestRecordExistenceCheck(t *testing.T) {
	c := ExistenceChecksTotal.WithLabelValues("user", "unavailable")
	before := testutil.ToFloat64(c)

	RecordExistenceCheck("user", "unavailable", 3*time.Second)

	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("counter delta = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(ExistenceCheckLatency); n < 1 {
		t.Errorf("latency histogram series = %d, want >= 1", n)
	}
}

func TestUpdateConsumerBacklog(t *testing.T) {
	UpdateConsumerBacklog("task.notifications", "notifier", 42)
	UpdateConsumerBacklog("task.notifications", "notifier", 7)

	expected := `
# HELP taskmesh_consumer_backlog Messages waiting in an NSQ channel.
# TYPE taskmesh_consumer_backlog gauge
taskmesh_consumer_backlog{channel="notifier",topic="task.notifications"} 7
`
	if err := testutil.CollectAndCompare(ConsumerBacklog, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected gauge value: %v", err)
	}
}

func TestCounters(t *testing.T) {
	tests := []struct {
		name   string
		record func()
		c      prometheus.Counter
	}{
		{name: "auth rejection", record: func() { RecordAuthRejection("missing") }, c: AuthRejectionsTotal.WithLabelValues("missing")},
		{name: "notification", record: func() { RecordNotification("failed") }, c: NotificationsTotal.WithLabelValues("failed")},
		{name: "task write", record: func() { RecordTaskWrite("status") }, c: TaskWritesTotal.WithLabelValues("status")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(tt.c)
			tt.record()
			tt.record()
			if got := testutil.ToFloat64(tt.c) - before; got != 2 {
				t.Errorf("counter delta = %v, want 2", got)
			}
		})
	}
}
