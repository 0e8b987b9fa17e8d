package bus

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/taskmesh/internal/logging"
)

func TestNSQHandler_Adapts(t *testing.T) {
	var id nsq.MessageID
	copy(id[:], "0123456789abcdef")
	raw := nsq.NewMessage(id, []byte(`{"title":"x"}`))
	raw.Attempts = 3

	var got *Message
	h := nsqHandler("task.notifications", func(_ context.Context, m *Message) error {
		got = m
		return nil
	})

	if err := h.HandleMessage(raw); err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if got.ID != "0123456789abcdef" {
		t.Errorf("ID = %q", got.ID)
	}
	if got.Topic != "task.notifications" {
		t.Errorf("Topic = %q", got.Topic)
	}
	if got.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", got.Attempts)
	}
	if string(got.Body) != `{"title":"x"}` {
		t.Errorf("Body = %s", got.Body)
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestNSQHandler_PropagatesError(t *testing.T) {
	want := errors.New("retry me")
	h := nsqHandler("t", func(context.Context, *Message) error { return want })

	var id nsq.MessageID
	if err := h.HandleMessage(nsq.NewMessage(id, nil)); !errors.Is(err, want) {
		t.Errorf("HandleMessage() error = %v, want %v", err, want)
	}
}

func TestNewNSQ_RequiresAddress(t *testing.T) {
	if _, err := NewNSQ(NSQConfig{}); err == nil {
		t.Error("NewNSQ() without nsqd address should fail")
	}
}

func TestNSQ_PublishUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	l, _ := logging.NewWithConfig("test", logging.Config{Level: "error", Format: "json"}, &bytes.Buffer{})
	b, err := NewNSQ(NSQConfig{NsqdTCPAddr: addr, PublishTimeout: time.Second, Logger: l})
	if err != nil {
		t.Fatalf("NewNSQ() error: %v", err)
	}
	defer b.Close()

	start := time.Now()
	err = b.Publish(context.Background(), "task.notifications", map[string]string{"title": "x"})
	if !errors.Is(err, ErrPublish) {
		t.Fatalf("Publish() error = %v, want ErrPublish", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("Publish() exceeded its timeout")
	}
	if err := b.Ping(); err == nil {
		t.Error("Ping() against a closed port should fail")
	}
}
