package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/metrics"
	"github.com/austindbirch/taskmesh/internal/tracing"
)

type contextKey string

const (
	SubjectKey contextKey = "subject"
	TokenKey   contextKey = "bearer_token"
)

// DefaultPublicPrefixes are reachable without a token. A prefix without a
// trailing slash matches that path and anything below it.
var DefaultPublicPrefixes = []string{"/api/auth/", "/api/notifications/test", "/healthz", "/metrics"}

// Guard rejects requests without a valid bearer token, except on public paths.
// It keeps no state beyond its configuration.
type Guard struct {
	verifier Verifier
	public   []string
	logger   *logging.Logger
}

type GuardOption func(*Guard)

// WithPublicPrefixes replaces the default public path prefixes
func WithPublicPrefixes(prefixes ...string) GuardOption {
	return func(g *Guard) { g.public = append([]string(nil), prefixes...) }
}

func WithLogger(l *logging.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

func NewGuard(v Verifier, opts ...GuardOption) *Guard {
	g := &Guard{
		verifier: v,
		public:   DefaultPublicPrefixes,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsPublic reports whether path skips authentication
func (g *Guard) IsPublic(path string) bool {
	for _, p := range g.public {
		if !strings.HasPrefix(path, p) {
			continue
		}
		if len(path) == len(p) || strings.HasSuffix(p, "/") || path[len(p)] == '/' {
			return true
		}
	}
	return false
}

// Middleware wraps next with bearer token authentication
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.IsPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := tracing.StartSpan(r.Context(), "auth.guard",
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()

		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			g.reject(ctx, w, ErrMissingToken)
			return
		}

		id, err := g.verifier.Verify(token)
		if err != nil {
			g.reject(ctx, w, err)
			return
		}

		span.SetAttributes(attribute.String("auth.subject", id.Subject))
		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id.Subject, token)))
	})
}

func (g *Guard) reject(ctx context.Context, w http.ResponseWriter, err error) {
	reason := rejectionReason(err)
	metrics.RecordAuthRejection(reason)
	tracing.AddSpanEvent(ctx, "auth.rejected", attribute.String("reason", reason))
	g.logger.WithContext(ctx).WithField("reason", reason).Debug("request rejected")

	msg := err.Error()
	if reason == "other" {
		msg = ErrMalformed.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="taskmesh"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "other"
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithIdentity stores the authenticated subject and its raw token in ctx
func WithIdentity(ctx context.Context, subject, token string) context.Context {
	ctx = context.WithValue(ctx, SubjectKey, subject)
	return context.WithValue(ctx, TokenKey, token)
}

// SubjectFromContext returns the subject set by the guard
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(SubjectKey).(string)
	return s, ok && s != ""
}

// TokenFromContext returns the bearer token the request was authenticated with
func TokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(TokenKey).(string)
	return t, ok && t != ""
}
