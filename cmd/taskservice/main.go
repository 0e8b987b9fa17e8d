package main

import (
	"context"
	"flag"
	"log"

	"github.com/austindbirch/taskmesh/internal/api"
	"github.com/austindbirch/taskmesh/internal/app"
	"github.com/austindbirch/taskmesh/internal/config"
	"github.com/austindbirch/taskmesh/internal/health"
	"github.com/austindbirch/taskmesh/internal/task"
)

const serviceName = "taskmesh-taskservice"

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

// run refuses to start without a broker: task writes must be able to announce
// themselves.
func run(ctx context.Context, cfg *config.Config) error {
	a, err := app.New(ctx, serviceName, cfg, config.NeedSigningKey|config.NeedDatabase|config.NeedBroker)
	if err != nil {
		return err
	}
	defer a.Close()

	st, checks, err := a.OpenStore(ctx)
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

	svc := task.NewService(st, a.Existence(), b,
		task.WithTopic(cfg.NSQ.Topic),
		task.WithLogger(a.Logger),
	)
	checks = append(checks, health.Broker(b))
	return a.Serve(ctx, api.NewTaskRouter(a.Base(tokens, checks...), svc))
}
