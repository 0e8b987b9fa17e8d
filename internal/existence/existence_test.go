package existence

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/austindbirch/taskmesh/internal/auth"
	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/metrics"
)

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.NewWithConfig("test", logging.Config{Level: "error", Format: "json"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestHTTPClient_Project(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		want    bool
		wantErr error
	}{
		{name: "200 exists", status: http.StatusOK, want: true},
		{name: "204 exists", status: http.StatusNoContent, want: true},
		{name: "404 missing", status: http.StatusNotFound, want: false},
		{name: "500 unavailable", status: http.StatusInternalServerError, wantErr: ErrUnavailable},
		{name: "401 unavailable", status: http.StatusUnauthorized, wantErr: ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/projects/P" {
					t.Errorf("path = %q, want /api/projects/P", r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL+"/", "")
			got, err := c.Exists(context.Background(), KindProject, "P")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Exists() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("Exists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPClient_User(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr error
	}{
		{name: "true", status: http.StatusOK, body: "true", want: true},
		{name: "false", status: http.StatusOK, body: "false", want: false},
		{name: "not a bool", status: http.StatusOK, body: `{"exists":true}`, wantErr: ErrUnavailable},
		{name: "server error", status: http.StatusBadGateway, body: "", wantErr: ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/auth/check/alice" {
					t.Errorf("path = %q", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewHTTPClient("", srv.URL, WithHTTPClient(srv.Client()))
			got, err := c.Exists(context.Background(), KindUser, "alice")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Exists() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("Exists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPClient_ForwardsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := auth.WithIdentity(context.Background(), "alice", "abc.def.ghi")
	if _, err := NewHTTPClient(srv.URL, "").Exists(ctx, KindProject, "1"); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer abc.def.ghi" {
		t.Errorf("Authorization = %q, want forwarded token", gotAuth)
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewHTTPClient(srv.URL, "", WithTimeout(50*time.Millisecond))
	start := time.Now()
	ok, err := c.Exists(context.Background(), KindProject, "slow")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Exists() error = %v, want ErrUnavailable", err)
	}
	if ok {
		t.Error("timeout must never be reported as exists")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Exists() took %v, timeout not applied", elapsed)
	}
}

func TestHTTPClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url, url).Exists(context.Background(), KindUser, "bob")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Exists() error = %v, want ErrUnavailable", err)
	}
}

func TestHTTPClient_NoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, _ = NewHTTPClient(srv.URL, "").Exists(context.Background(), KindProject, "1")
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want exactly 1", n)
	}
}

func TestValidator_Require(t *testing.T) {
	tests := []struct {
		name     string
		checker  CheckerFunc
		failOpen bool
		id       string
		wantErr  error
		result   string
	}{
		{
			name:    "exists",
			checker: func(context.Context, Kind, string) (bool, error) { return true, nil },
			id:      "1",
			result:  "found",
		},
		{
			name:    "missing",
			checker: func(context.Context, Kind, string) (bool, error) { return false, nil },
			id:      "Q",
			wantErr: ErrNotFound,
			result:  "not_found",
		},
		{
			name:    "unavailable fail-closed",
			checker: func(context.Context, Kind, string) (bool, error) { return false, ErrUnavailable },
			id:      "1",
			wantErr: ErrUnavailable,
			result:  "unavailable",
		},
		{
			name:     "unavailable fail-open",
			checker:  func(context.Context, Kind, string) (bool, error) { return false, ErrUnavailable },
			failOpen: true,
			id:       "1",
			result:   "unavailable",
		},
		{
			name:    "unexpected checker error is unavailable",
			checker: func(context.Context, Kind, string) (bool, error) { return false, errors.New("boom") },
			id:      "1",
			wantErr: ErrUnavailable,
			result:  "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(tt.checker, WithFailOpen(tt.failOpen), WithLogger(quietLogger(t)))
			c := metrics.ExistenceChecksTotal.WithLabelValues("project", tt.result)
			before := testutil.ToFloat64(c)

			err := v.Require(context.Background(), KindProject, tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Require() error = %v, want %v", err, tt.wantErr)
			}
			if got := testutil.ToFloat64(c) - before; got != 1 {
				t.Errorf("checks{result=%s} delta = %v, want 1", tt.result, got)
			}
		})
	}
}

func TestValidator_EmptyID(t *testing.T) {
	called := false
	v := NewValidator(CheckerFunc(func(context.Context, Kind, string) (bool, error) {
		called = true
		return true, nil
	}), WithLogger(quietLogger(t)))

	err := v.Require(context.Background(), KindProject, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Require(\"\") error = %v, want ErrNotFound", err)
	}
	if called {
		t.Error("checker should not be called for an empty id")
	}

	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Kind != KindProject {
		t.Errorf("error should be a *NotFoundError for project, got %#v", err)
	}
}
