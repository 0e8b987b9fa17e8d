// Package app wires configuration, logging, tracing, metrics and storage for
// the taskmesh service binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/austindbirch/taskmesh/internal/api"
	"github.com/austindbirch/taskmesh/internal/auth"
	"github.com/austindbirch/taskmesh/internal/bus"
	"github.com/austindbirch/taskmesh/internal/config"
	"github.com/austindbirch/taskmesh/internal/db"
	"github.com/austindbirch/taskmesh/internal/existence"
	"github.com/austindbirch/taskmesh/internal/health"
	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/metrics"
	"github.com/austindbirch/taskmesh/internal/store"
	"github.com/austindbirch/taskmesh/internal/store/memory"
	"github.com/austindbirch/taskmesh/internal/store/postgres"
	"github.com/austindbirch/taskmesh/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

// Store is everything a service may persist
type Store interface {
	store.TaskStore
	store.ProjectStore
	store.UserStore
}

type App struct {
	Name     string
	Config   *config.Config
	Logger   *logging.Logger
	Registry *prometheus.Registry

	closers []func()
}

// New resolves Vault secrets, validates cfg against req and brings up the
// ambient stack. Close releases everything New and the Open* methods acquired.
func New(ctx context.Context, name string, cfg *config.Config, req config.Requirement) (*App, error) {
	vc, err := config.NewVaultClient(&cfg.Vault)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyVaultSecrets(ctx, cfg, vc); err != nil {
		return nil, err
	}
	if err := cfg.Validate(req); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewWithConfig(name, logging.Config{Level: cfg.Logger.Level, Format: cfg.Logger.Format}, os.Stdout)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)

	shutdown, err := tracing.Init(ctx, name, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	a := &App{Name: name, Config: cfg, Logger: logger, Registry: reg}
	a.closers = append(a.closers, shutdown, func() { _ = logger.Sync() })
	return a, nil
}

// OpenStore connects the configured store driver. Postgres is migrated on
// open and contributes a health check.
func (a *App) OpenStore(ctx context.Context) (Store, []health.Check, error) {
	if a.Config.Service.Store == "memory" {
		a.Logger.Plain().Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil, nil
	}

	pool, err := db.Connect(ctx, a.Config.DSN(), a.Config.DB.MaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	if err := db.Migrate(ctx, pool, a.Logger); err != nil {
		return nil, nil, err
	}
	return postgres.New(pool), []health.Check{health.Database(pool)}, nil
}

// OpenBus connects the NSQ-backed event bus
func (a *App) OpenBus() (*bus.NSQ, error) {
	b, err := bus.NewNSQ(bus.NSQConfig{
		NsqdTCPAddr:     a.Config.NSQ.NsqdTCPAddr,
		LookupHTTPAddrs: a.Config.NSQ.LookupHTTPAddrs,
		PublishTimeout:  a.Config.NSQ.PublishTimeout,
		MaxAttempts:     a.Config.NSQ.MaxAttempts,
		Logger:          a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("nsq: %w", err)
	}
	a.closers = append(a.closers, func() { _ = b.Close() })
	return b, nil
}

// Tokens builds the token codec from the auth section
func (a *App) Tokens() (*auth.TokenCodec, error) {
	return auth.NewTokenCodec([]byte(a.Config.Auth.SigningKey),
		auth.WithIssuer(a.Config.Auth.Issuer),
		auth.WithDefaultTTL(a.Config.Auth.TokenTTL),
	)
}

// Base returns the shared router base: guard, metrics and the given checks
func (a *App) Base(v auth.Verifier, checks ...health.Check) api.Base {
	opts := []auth.GuardOption{auth.WithLogger(a.Logger)}
	if len(a.Config.Auth.PublicPrefixes) > 0 {
		opts = append(opts, auth.WithPublicPrefixes(a.Config.Auth.PublicPrefixes...))
	}
	return api.Base{
		Guard:    auth.NewGuard(v, opts...),
		Gatherer: a.Registry,
		Checks:   checks,
		Logger:   a.Logger,
	}
}

// Existence builds the validator that asks the project and user services
func (a *App) Existence() *existence.Validator {
	client := existence.NewHTTPClient(a.Config.Existence.ProjectBaseURL, a.Config.Existence.UserBaseURL,
		existence.WithTimeout(a.Config.Existence.Timeout),
	)
	return existence.NewValidator(client,
		existence.WithFailOpen(a.Config.Existence.FailOpen),
		existence.WithLogger(a.Logger),
	)
}

// Serve runs h on the configured address until ctx is done, then drains
// in-flight requests.
func (a *App) Serve(ctx context.Context, h http.Handler) error {
	ln, err := net.Listen("tcp", a.Config.Service.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.serve(ctx, ln, h)
}

func (a *App) serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Plain().WithField("addr", ln.Addr().String()).Info("HTTP server starting")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.Logger.Plain().Info("shutting down HTTP server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// SignalContext is cancelled on SIGINT or SIGTERM
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
