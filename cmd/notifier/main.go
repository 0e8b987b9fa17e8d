package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/austindbirch/taskmesh/internal/api"
	"github.com/austindbirch/taskmesh/internal/app"
	"github.com/austindbirch/taskmesh/internal/bus"
	"github.com/austindbirch/taskmesh/internal/config"
	"github.com/austindbirch/taskmesh/internal/health"
	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/notify"
)

const serviceName = "taskmesh-notifier"

var configPath = flag.String("config", "", "Path to configuration file (optional)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := app.SignalContext()
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("%s: %v", serviceName, err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := app.New(ctx, serviceName, cfg, config.NeedSigningKey|config.NeedBroker|config.NeedMail)
	if err != nil {
		return err
	}
	defer a.Close()

	mailer, err := newMailer(cfg.Mail, a.Logger)
	if err != nil {
		return err
	}
	b, err := a.OpenBus()
	if err != nil {
		return err
	}
	tokens, err := a.Tokens()
	if err != nil {
		return err
	}

	d := notify.NewDispatcher(mailer,
		notify.WithRecipientDomain(cfg.Mail.RecipientDomain),
		notify.WithLogger(a.Logger),
	)
	if _, err := b.Subscribe(cfg.NSQ.Topic, cfg.NSQ.Channel, d.Handle); err != nil {
		return fmt.Errorf("subscribe %s/%s: %w", cfg.NSQ.Topic, cfg.NSQ.Channel, err)
	}
	a.Logger.Plain().WithTopic(cfg.NSQ.Topic).WithField("channel", cfg.NSQ.Channel).Info("notifier consuming")

	if cfg.NSQ.NsqdHTTPAddr != "" {
		mon := bus.NewBacklogMonitor(bus.NewNSQStats(cfg.NSQ.NsqdHTTPAddr, nil), cfg.NSQ.Topic, cfg.NSQ.Channel,
			bus.WithWarnThreshold(cfg.NSQ.BacklogWarn),
			bus.WithBacklogLogger(a.Logger),
		)
		go mon.Run(ctx)
	}

	base := a.Base(tokens, health.Broker(b))
	return a.Serve(ctx, api.NewNotificationRouter(base, b, cfg.NSQ.Topic))
}

// newMailer picks the delivery backend named by the mail mode
func newMailer(cfg config.Mail, logger *logging.Logger) (notify.Mailer, error) {
	switch cfg.Mode {
	case "log":
		return notify.NewLogMailer(logger), nil
	case "smtp":
		return notify.NewSMTPMailer(notify.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			From:     cfg.From,
			Username: cfg.Username,
			Password: cfg.Password,
		})
	default:
		return nil, fmt.Errorf("unknown mail mode: %q", cfg.Mode)
	}
}
