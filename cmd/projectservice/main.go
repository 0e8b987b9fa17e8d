package main

import (
	"context"
	"flag"
	"log"

	"github.com/austindbirch/taskmesh/internal/api"
	"github.com/austindbirch/taskmesh/internal/app"
	"github.com/austindbirch/taskmesh/internal/config"
	"github.com/austindbirch/taskmesh/internal/project"
)

const serviceName = "taskmesh-projectservice"

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
	a, err := app.New(ctx, serviceName, cfg, config.NeedSigningKey|config.NeedDatabase)
	if err != nil {
		return err
	}
	defer a.Close()

	st, checks, err := a.OpenStore(ctx)
	if err != nil {
		return err
	}
	tokens, err := a.Tokens()
	if err != nil {
		return err
	}

	svc := project.NewService(st, a.Existence(),
		project.WithMemberValidation(cfg.Existence.ValidateMembers),
		project.WithLogger(a.Logger),
	)
	return a.Serve(ctx, api.NewProjectRouter(a.Base(tokens, checks...), svc))
}
