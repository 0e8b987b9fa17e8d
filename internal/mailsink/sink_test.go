package mailsink

import (
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/emersion/go-smtp"

	"github.com/austindbirch/taskmesh/internal/logging"
)

func startSink(t *testing.T, failFirstN int) (*Sink, string) {
	t.Helper()
	l, err := logging.NewWithConfig("mailsink", logging.Config{Level: "error", Format: "json"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	sink := New(failFirstN, l)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(sink, ln.Addr().String(), "taskmesh.local")
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return sink, ln.Addr().String()
}

func send(addr, to, body string) error {
	return smtp.SendMail(addr, nil, "notifications@taskmesh.local", []string{to}, strings.NewReader(body))
}

func TestSink_Accepts(t *testing.T) {
	sink, addr := startSink(t, 0)

	msg := "Subject: hello\r\n\r\nbody\r\n"
	if err := send(addr, "alice@taskmesh.local", msg); err != nil {
		t.Fatalf("SendMail() error: %v", err)
	}

	got := sink.Messages()
	if len(got) != 1 {
		t.Fatalf("Messages() = %d, want 1", len(got))
	}
	if got[0].From != "notifications@taskmesh.local" {
		t.Errorf("From = %q", got[0].From)
	}
	if len(got[0].To) != 1 || got[0].To[0] != "alice@taskmesh.local" {
		t.Errorf("To = %v", got[0].To)
	}
	if !strings.Contains(string(got[0].Data), "Subject: hello") {
		t.Errorf("Data = %q", got[0].Data)
	}
	if got[0].Received.IsZero() {
		t.Error("Received should be set")
	}
}

func TestSink_FailFirstN(t *testing.T) {
	sink, addr := startSink(t, 2)

	for i := 0; i < 2; i++ {
		if err := send(addr, "bob@taskmesh.local", "Subject: x\r\n\r\ny\r\n"); err == nil {
			t.Fatalf("attempt %d should fail", i+1)
		}
	}
	if err := send(addr, "bob@taskmesh.local", "Subject: x\r\n\r\ny\r\n"); err != nil {
		t.Fatalf("third attempt error: %v", err)
	}

	if n := sink.Attempts(); n != 3 {
		t.Errorf("Attempts() = %d, want 3", n)
	}
	if n := len(sink.Messages()); n != 1 {
		t.Errorf("Messages() = %d, want 1", n)
	}
}

func TestSink_MessagesIsACopy(t *testing.T) {
	sink, addr := startSink(t, 0)
	if err := send(addr, "a@b", "Subject: x\r\n\r\ny\r\n"); err != nil {
		t.Fatal(err)
	}
	got := sink.Messages()
	got[0].From = "mutated"
	if sink.Messages()[0].From == "mutated" {
		t.Error("Messages() exposed internal state")
	}
}
