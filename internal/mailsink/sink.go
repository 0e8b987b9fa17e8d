// Package mailsink is a development SMTP server that records every message it
// accepts and can be told to fail the first N deliveries.
package mailsink

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/austindbirch/taskmesh/internal/logging"
)

type Message struct {
	From     string    `json:"from"`
	To       []string  `json:"to"`
	Data     []byte    `json:"data"`
	Received time.Time `json:"received"`
}

// Sink is a go-smtp Backend
type Sink struct {
	mu         sync.Mutex
	failFirstN int
	attempts   int
	messages   []Message
	logger     *logging.Logger
}

func New(failFirstN int, logger *logging.Logger) *Sink {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sink{failFirstN: failFirstN, logger: logger}
}

// NewServer wires sink into an SMTP server listening on addr
func NewServer(sink *Sink, addr, domain string) *smtp.Server {
	s := smtp.NewServer(sink)
	s.Addr = addr
	s.Domain = domain
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second
	s.MaxMessageBytes = 1 << 20
	s.MaxRecipients = 50
	s.AllowInsecureAuth = true
	return s
}

func (s *Sink) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{sink: s}, nil
}

// Messages returns a copy of everything accepted so far
func (s *Sink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Attempts counts DATA commands, accepted or failed
func (s *Sink) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Sink) accept(from string, to []string, data []byte) error {
	s.mu.Lock()
	s.attempts++
	n := s.attempts
	if n <= s.failFirstN {
		s.mu.Unlock()
		s.logger.Plain().WithFields(map[string]any{
			"attempt": n,
			"fail_n":  s.failFirstN,
			"to":      to,
		}).Warn("failing delivery")
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      fmt.Sprintf("temporary failure (%d/%d)", n, s.failFirstN),
		}
	}
	s.messages = append(s.messages, Message{From: from, To: to, Data: data, Received: time.Now().UTC()})
	s.mu.Unlock()

	s.logger.Plain().WithFields(map[string]any{
		"from":  from,
		"to":    to,
		"bytes": len(data),
	}).Info("message accepted")
	return nil
}

type session struct {
	sink *Sink
	from string
	to   []string
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return s.sink.accept(s.from, append([]string(nil), s.to...), data)
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error { return nil }
