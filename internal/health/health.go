// Package health publishes service readiness over the standard gRPC health
// protocol.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name clients probe; the empty name reports overall
// process health and tracks it.
const ServiceName = "orderpulse.OrderService"

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

type Checker struct {
	server   *health.Server
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	checks   map[string]Check
	stopped  bool
	failures map[string]string
}

func NewChecker(interval time.Duration, log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	c := &Checker{
		server:   health.NewServer(),
		interval: interval,
		timeout:  interval / 2,
		log:      log.With("component", "health"),
		checks:   make(map[string]Check),
		failures: make(map[string]string),
	}
	c.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return c
}

// Add registers a dependency probe under name.
func (c *Checker) Add(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Register mounts the health service on s.
func (c *Checker) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, c.server)
}

// CheckNow runs every probe once and updates the served status. It returns
// the failing probes by name.
func (c *Checker) CheckNow(ctx context.Context) map[string]string {
	c.mu.Lock()
	checks := make(map[string]Check, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.Unlock()

	failed := make(map[string]string)
	for name, check := range checks {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := check(cctx)
		cancel()
		if err != nil {
			failed[name] = err.Error()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return failed
	}
	for name, msg := range failed {
		if c.failures[name] != msg {
			c.log.WarnContext(ctx, "dependency unhealthy", "dependency", name, "error", msg)
		}
	}
	for name := range c.failures {
		if _, still := failed[name]; !still {
			c.log.InfoContext(ctx, "dependency recovered", "dependency", name)
		}
	}
	c.failures = failed
	if len(failed) == 0 {
		c.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		c.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return failed
}

// Run checks immediately and then on every interval until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	c.CheckNow(ctx)
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.CheckNow(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING from now on.
func (c *Checker) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.server.Shutdown()
}

func (c *Checker) set(status healthpb.HealthCheckResponse_ServingStatus) {
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(ServiceName, status)
}
