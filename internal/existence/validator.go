package existence

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/metrics"
	"github.com/austindbirch/taskmesh/internal/tracing"
)

// Validator turns Checker answers into admit/reject decisions for a write
type Validator struct {
	checker  Checker
	failOpen bool
	logger   *logging.Logger
}

type ValidatorOption func(*Validator)

// WithFailOpen admits writes when the owning service cannot be reached.
// Off by default.
func WithFailOpen(failOpen bool) ValidatorOption {
	return func(v *Validator) { v.failOpen = failOpen }
}

func WithLogger(l *logging.Logger) ValidatorOption {
	return func(v *Validator) { v.logger = l }
}

func NewValidator(c Checker, opts ...ValidatorOption) *Validator {
	v := &Validator{checker: c, logger: logging.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Require returns nil when the resource exists, an error matching
// ErrNotFound when it does not, and one matching ErrUnavailable when the
// answer is unknown (unless fail-open is set).
func (v *Validator) Require(ctx context.Context, kind Kind, id string) error {
	if id == "" {
		return &NotFoundError{Kind: kind, ID: id}
	}

	ctx, span := tracing.StartSpan(ctx, "existence.check",
		attribute.String("existence.kind", string(kind)),
		attribute.String("existence.id", id),
	)
	defer span.End()

	start := time.Now()
	exists, err := v.checker.Exists(ctx, kind, id)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		if !errors.Is(err, ErrUnavailable) {
			err = errors.Join(ErrUnavailable, err)
		}
		metrics.RecordExistenceCheck(string(kind), "unavailable", elapsed)
		tracing.SetSpanError(ctx, err)

		entry := v.logger.WithContext(ctx).
			WithField("kind", string(kind)).
			WithField("id", id).
			WithError(err)
		if v.failOpen {
			entry.Warn("existence check unavailable, admitting write (fail-open)")
			return nil
		}
		entry.Warn("existence check unavailable")
		return err

	case !exists:
		metrics.RecordExistenceCheck(string(kind), "not_found", elapsed)
		return &NotFoundError{Kind: kind, ID: id}

	default:
		metrics.RecordExistenceCheck(string(kind), "found", elapsed)
		return nil
	}
}
