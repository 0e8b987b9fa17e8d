package existence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/austindbirch/taskmesh/internal/auth"
)

const DefaultTimeout = 3 * time.Second

// HTTPClient asks the project and user services directly. It never retries.
type HTTPClient struct {
	projectBaseURL string
	userBaseURL    string
	client         *http.Client
	timeout        time.Duration
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.client = c }
}

// WithTimeout bounds each check on top of the caller's context
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPClient) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func NewHTTPClient(projectBaseURL, userBaseURL string, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		projectBaseURL: strings.TrimRight(projectBaseURL, "/"),
		userBaseURL:    strings.TrimRight(userBaseURL, "/"),
		client:         http.DefaultClient,
		timeout:        DefaultTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Exists implements Checker
func (h *HTTPClient) Exists(ctx context.Context, kind Kind, id string) (bool, error) {
	switch kind {
	case KindProject:
		return h.projectExists(ctx, id)
	case KindUser:
		return h.userExists(ctx, id)
	default:
		return false, fmt.Errorf("unsupported resource kind %q", kind)
	}
}

func (h *HTTPClient) projectExists(ctx context.Context, id string) (bool, error) {
	resp, err := h.get(ctx, h.projectBaseURL+"/api/projects/"+url.PathEscape(id))
	if err != nil {
		return false, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("%w: project service returned %d", ErrUnavailable, resp.StatusCode)
	}
}

func (h *HTTPClient) userExists(ctx context.Context, name string) (bool, error) {
	resp, err := h.get(ctx, h.userBaseURL+"/api/auth/check/"+url.PathEscape(name))
	if err != nil {
		return false, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: user service returned %d", ErrUnavailable, resp.StatusCode)
	}

	var exists bool
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1024)).Decode(&exists); err != nil {
		return false, fmt.Errorf("%w: decode user service answer: %v", ErrUnavailable, err)
	}
	return exists, nil
}

// get issues the request under the per-check timeout. The returned response
// body must be drained before the timeout's cancel runs, so the cancel is
// tied to the body.
func (h *HTTPClient) get(ctx context.Context, rawURL string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if token, ok := auth.TokenFromContext(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := h.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
