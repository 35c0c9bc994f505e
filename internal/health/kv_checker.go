package health

import (
	"context"
	"time"

	"github.com/felixgeelhaar/chathub/internal/kv"
)

// KVBackend is the part of kv.Adapter the checker needs.
type KVBackend interface {
	Mode() kv.Mode
	Ping(ctx context.Context) error
}

// KVChecker reports on the KV backend. Because the adapter fails open, an
// unreachable remote is degraded rather than unhealthy.
type KVChecker struct {
	backend KVBackend
}

// NewKVChecker creates a checker for backend.
func NewKVChecker(backend KVBackend) *KVChecker {
	return &KVChecker{backend: backend}
}

// Name returns "kv".
func (c *KVChecker) Name() string {
	return "kv"
}

// Check pings the remote backend.
func (c *KVChecker) Check(ctx context.Context) *Result {
	mode := c.backend.Mode()
	if mode == kv.ModeLocal {
		return Healthy("serving from local store").WithDetail("mode", string(mode))
	}

	start := time.Now()
	err := c.backend.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		r := Degraded("remote unreachable, serving from local store").
			WithDetail("mode", string(mode)).
			WithDetail("error", err.Error())
		r.Latency = latency
		return r
	}

	r := Healthy("remote reachable").WithDetail("mode", string(mode))
	r.Latency = latency
	return r
}
