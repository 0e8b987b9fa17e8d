package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/go-chi/chi/v5"

	"github.com/austindbirch/taskmesh/internal/app"
	"github.com/austindbirch/taskmesh/internal/config"
	"github.com/austindbirch/taskmesh/internal/mailsink"
)

const serviceName = "taskmesh-mailsink"

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
	a, err := app.New(ctx, serviceName, cfg, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	sink := mailsink.New(cfg.MailSink.FailFirstN, a.Logger)
	srv := mailsink.NewServer(sink, cfg.MailSink.Addr, cfg.MailSink.Domain)
	go func() {
		a.Logger.Plain().WithFields(map[string]any{
			"addr":         srv.Addr,
			"fail_first_n": cfg.MailSink.FailFirstN,
		}).Info("mailsink SMTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			a.Logger.Plain().WithError(err).Fatal("mailsink SMTP server failed")
		}
	}()
	defer srv.Close()

	return a.Serve(ctx, httpHandler(sink))
}

type messageView struct {
	From     string   `json:"from"`
	To       []string `json:"to"`
	Received string   `json:"received"`
	Data     string   `json:"data"`
}

// httpHandler exposes what the sink has accepted so far
func httpHandler(sink *mailsink.Sink) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/messages", func(w http.ResponseWriter, _ *http.Request) {
		msgs := sink.Messages()
		out := make([]messageView, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, messageView{
				From:     m.From,
				To:       m.To,
				Received: m.Received.UTC().Format(time.RFC3339),
				Data:     string(m.Data),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"attempts": sink.Attempts(),
			"messages": out,
		})
	})
	return r
}
