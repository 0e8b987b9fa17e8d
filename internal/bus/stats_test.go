package bus

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/metrics"
)

const statsBody = `{
  "version": "1.3.0",
  "health": "OK",
  "topics": [
    {"topic_name": "other", "channels": [{"channel_name": "notifier", "depth": 99, "in_flight_count": 9}]},
    {"topic_name": "task.notifications", "depth": 0, "channels": [
      {"channel_name": "archive", "depth": 5, "in_flight_count": 0},
      {"channel_name": "notifier", "depth": 1500, "in_flight_count": 3}
    ]}
  ]
}`

func TestNSQStats_ChannelStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stats" || r.URL.Query().Get("format") != "json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(statsBody))
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		addr     string
		topic    string
		channel  string
		depth    int64
		inFlight int64
	}{
		{name: "with scheme", addr: srv.URL, topic: "task.notifications", channel: "notifier", depth: 1500, inFlight: 3},
		{name: "bare host", addr: strings.TrimPrefix(srv.URL, "http://"), topic: "task.notifications", channel: "archive", depth: 5},
		{name: "unknown channel", addr: srv.URL, topic: "task.notifications", channel: "nobody"},
		{name: "unknown topic", addr: srv.URL, topic: "missing", channel: "notifier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := NewNSQStats(tt.addr, nil).ChannelStats(context.Background(), tt.topic, tt.channel)
			if err != nil {
				t.Fatalf("ChannelStats() error: %v", err)
			}
			if st.Depth != tt.depth || st.InFlight != tt.inFlight {
				t.Errorf("stats = %+v, want depth %d in-flight %d", st, tt.depth, tt.inFlight)
			}
		})
	}
}

func TestNSQStats_EscapesTopic(t *testing.T) {
	const topic = "odd&format=text#frag"
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()["topic"]
		if f := r.URL.Query()["format"]; len(f) != 1 || f[0] != "json" {
			t.Errorf("format = %v, want [json]", f)
		}
		_, _ = w.Write([]byte(`{"topics":[]}`))
	}))
	defer srv.Close()

	if _, err := NewNSQStats(srv.URL, nil).ChannelStats(context.Background(), topic, "c"); err != nil {
		t.Fatalf("ChannelStats() error: %v", err)
	}
	if len(got) != 1 || got[0] != topic {
		t.Errorf("topic query = %v, want [%s]", got, topic)
	}
}

func TestNSQStats_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("topic") == "broken" {
			_, _ = w.Write([]byte("not json"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewNSQStats(srv.URL, nil)
	if _, err := s.ChannelStats(context.Background(), "t", "c"); err == nil {
		t.Error("expected error on 500")
	}
	if _, err := s.ChannelStats(context.Background(), "broken", "c"); err == nil {
		t.Error("expected error on bad body")
	}
}

func TestBacklogMonitor_Check(t *testing.T) {
	b := newQuietMemory(t)
	for i := 0; i < 3; i++ {
		if err := b.Publish(context.Background(), "mon.topic", sample{Title: "x"}); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	l, err := logging.NewWithConfig("test", logging.Config{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}

	m := NewBacklogMonitor(b, "mon.topic", "mon.channel", WithWarnThreshold(2), WithBacklogLogger(l))
	st, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if st.Depth != 3 {
		t.Errorf("Depth = %d, want 3", st.Depth)
	}
	if got := testutil.ToFloat64(metrics.ConsumerBacklog.WithLabelValues("mon.topic", "mon.channel")); got != 3 {
		t.Errorf("backlog gauge = %v, want 3", got)
	}
	if !strings.Contains(buf.String(), "consumer backlog above threshold") {
		t.Errorf("no warning logged: %s", buf.String())
	}

	buf.Reset()
	quiet := NewBacklogMonitor(b, "mon.topic", "mon.channel", WithWarnThreshold(10), WithBacklogLogger(l))
	if _, err := quiet.Check(context.Background()); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected log below threshold: %s", buf.String())
	}
}

func TestBacklogMonitor_Run(t *testing.T) {
	b := newQuietMemory(t)
	if err := b.Publish(context.Background(), "run.topic", sample{Title: "x"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m := NewBacklogMonitor(b, "run.topic", "run.channel", WithInterval(5*time.Millisecond))
	go func() {
		m.Run(ctx)
		close(done)
	}()

	gauge := metrics.ConsumerBacklog.WithLabelValues("run.topic", "run.channel")
	waitFor(t, "backlog gauge", func() bool { return testutil.ToFloat64(gauge) == 1 })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
