package notify

import (
	"context"

	"github.com/austindbirch/taskmesh/internal/logging"
)

// LogMailer writes notifications to the log instead of sending them
type LogMailer struct {
	logger *logging.Logger
}

func NewLogMailer(l *logging.Logger) *LogMailer {
	if l == nil {
		l = logging.Default()
	}
	return &LogMailer{logger: l}
}

func (m *LogMailer) Send(ctx context.Context, msg Mail) error {
	m.logger.WithContext(ctx).
		WithEvent(msg.EventID).
		WithFields(map[string]any{
			"to":      msg.To,
			"subject": msg.Subject,
			"body":    msg.Body,
		}).
		Info("mail")
	return nil
}
