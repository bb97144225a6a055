// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Check probes one dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

const (
	defaultTimeout = 5 * time.Second
	maxParallel    = 8
)

// Readiness runs every check concurrently and reports 503 if any fails.
func Readiness(checks []Check, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		var mu sync.Mutex
		results := make(map[string]string, len(checks))
		ready := true

		var g errgroup.Group
		g.SetLimit(maxParallel)
		for _, c := range checks {
			g.Go(func() error {
				status := "ok"
				if err := c.Probe(ctx); err != nil {
					status = err.Error()
				}
				mu.Lock()
				defer mu.Unlock()
				results[c.Name] = status
				if status != "ok" {
					ready = false
				}
				return nil
			})
		}
		_ = g.Wait()

		out := resp{Status: "ready", Checks: results}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			out.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
