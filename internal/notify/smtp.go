package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

const EventIDHeader = "X-Taskmesh-Event-Id"

type SMTPConfig struct {
	Addr     string
	From     string
	Username string
	Password string
	// Timeout bounds a single send when the caller's context has no deadline
	Timeout time.Duration
}

// SMTPMailer sends plain-text mail through an SMTP relay
type SMTPMailer struct {
	cfg  SMTPConfig
	now  func() time.Time
	send func(addr string, a sasl.Client, from string, to []string, r io.Reader) error
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Addr == "" {
		return nil, errors.New("smtp address is required")
	}
	if cfg.From == "" {
		return nil, errors.New("sender address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPMailer{cfg: cfg, now: time.Now, send: smtp.SendMail}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Mail) error {
	raw, err := m.compose(msg)
	if err != nil {
		return fmt.Errorf("compose mail: %w", err)
	}

	var auth sasl.Client
	if m.cfg.Username != "" {
		auth = sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	// go-smtp's SendMail takes no context; the goroutine finishes on its own
	// once the relay answers or drops the connection.
	errc := make(chan error, 1)
	go func() {
		errc <- m.send(m.cfg.Addr, auth, m.cfg.From, []string{msg.To}, bytes.NewReader(raw))
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("send mail to %s: %w", msg.To, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send mail to %s: %w", msg.To, ctx.Err())
	}
}

func (m *SMTPMailer) compose(msg Mail) ([]byte, error) {
	var h mail.Header
	h.SetDate(m.now())
	h.SetAddressList("From", []*mail.Address{{Address: m.cfg.From}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}
	if msg.EventID != "" {
		h.Set(EventIDHeader, msg.EventID)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
