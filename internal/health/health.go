// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 2 * time.Second

var errShuttingDown = errors.New("shutting down")

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

type check struct {
	name string
	fn   CheckFunc
}

// Readiness aggregates readiness checks. It reports not ready once
// shutdown has begun so load balancers drain the instance.
type Readiness struct {
	mu       sync.Mutex
	checks   []check
	draining atomic.Bool
}

// NewReadiness returns a Readiness with no checks.
func NewReadiness() *Readiness {
	return &Readiness{}
}

// Add registers a named check.
func (rd *Readiness) Add(name string, fn CheckFunc) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	rd.checks = append(rd.checks, check{name: name, fn: fn})
}

// Drain marks the service as shutting down.
func (rd *Readiness) Drain() {
	rd.draining.Store(true)
}

// Check runs every check and returns the first failure.
func (rd *Readiness) Check(ctx context.Context) error {
	if rd.draining.Load() {
		return errShuttingDown
	}
	rd.mu.Lock()
	checks := append([]check(nil), rd.checks...)
	rd.mu.Unlock()

	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.fn(cctx)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// Readyz returns 200 "ready\n" when every check passes and 503 with the
// failure otherwise.
func (rd *Readiness) Readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if err := rd.Check(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "not ready: %v\n", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}
