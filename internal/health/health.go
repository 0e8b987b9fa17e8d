package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const checkTimeout = time.Second

type Status struct {
	OK      bool              `json:"ok"`
	Message string            `json:"message,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Check is one dependency probed by the health endpoint
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Database probes anything with a context-aware Ping, such as *pgxpool.Pool
func Database(pool interface{ Ping(context.Context) error }) Check {
	return Check{Name: "database", Ping: pool.Ping}
}

// Broker probes a bus connection
func Broker(b interface{ Ping() error }) Check {
	return Check{Name: "broker", Ping: func(context.Context) error { return b.Ping() }}
}

// HTTPHandler returns an HTTP handler that reports the health status of the service
func HTTPHandler(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok"}

		if len(checks) > 0 {
			st.Checks = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := c.Ping(ctx)
			cancel()
			if err != nil {
				st.OK = false
				st.Message = c.Name + " ping failed"
				st.Checks[c.Name] = err.Error()
				continue
			}
			st.Checks[c.Name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
