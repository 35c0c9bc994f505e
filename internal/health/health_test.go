package health

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/chathub/internal/kv"
	"github.com/felixgeelhaar/chathub/internal/log"
)

type stubChecker struct {
	name   string
	result *Result
	delay  time.Duration
	panics bool
}

func (s *stubChecker) Name() string { return s.name }

func (s *stubChecker) Check(ctx context.Context) *Result {
	if s.panics {
		panic("kaboom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Unhealthy("timed out")
		}
	}
	return s.result
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]*Result
		want    Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", map[string]*Result{"a": Healthy(""), "b": Healthy("")}, StatusHealthy},
		{"one degraded", map[string]*Result{"a": Healthy(""), "b": Degraded("")}, StatusDegraded},
		{"unhealthy wins", map[string]*Result{"a": Degraded(""), "b": Unhealthy("")}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OverallStatus(tt.results))
		})
	}
}

func TestManagerCheck(t *testing.T) {
	m := NewManager().WithTimeout(50 * time.Millisecond)
	m.AddChecker(&stubChecker{name: "fast", result: Healthy("ok")})
	m.AddChecker(&stubChecker{name: "slow", result: Healthy("ok"), delay: time.Second})
	m.AddChecker(&stubChecker{name: "broken", panics: true})
	m.AddChecker(&stubChecker{name: "silent"})

	assert.Equal(t, []string{"fast", "slow", "broken", "silent"}, m.CheckNames())

	results := m.Check(context.Background())
	require.Len(t, results, 4)
	assert.Equal(t, StatusHealthy, results["fast"].Status)
	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Equal(t, StatusUnhealthy, results["broken"].Status)
	assert.Contains(t, results["broken"].Message, "kaboom")
	assert.Equal(t, StatusUnhealthy, results["silent"].Status)
}

func TestProbeManager(t *testing.T) {
	pm := NewProbeManager("1.0.0")
	pm.AddChecker(&stubChecker{name: "kv", result: Degraded("fallback")})
	ctx := context.Background()

	assert.Equal(t, "1.0.0", pm.Version())
	assert.Equal(t, StatusUnhealthy, pm.CheckStartup(ctx).Status)
	pm.MarkInitialized()
	assert.Equal(t, StatusHealthy, pm.CheckStartup(ctx).Status)

	assert.Equal(t, StatusHealthy, pm.CheckLiveness(ctx).Status)

	ready := pm.CheckReadiness(ctx)
	assert.Equal(t, StatusDegraded, ready.Status)
	require.Contains(t, ready.Checks, "kv")

	pm.MarkShutdown()
	assert.True(t, pm.IsShuttingDown())
	assert.Equal(t, StatusDegraded, pm.CheckLiveness(ctx).Status)
	ready = pm.CheckReadiness(ctx)
	assert.Equal(t, StatusUnhealthy, ready.Status)
	assert.Empty(t, ready.Checks)
}

type fakeBackend struct {
	mode kv.Mode
	err  error
}

func (f fakeBackend) Mode() kv.Mode              { return f.mode }
func (f fakeBackend) Ping(context.Context) error { return f.err }

func TestKVChecker(t *testing.T) {
	ctx := context.Background()

	r := NewKVChecker(fakeBackend{mode: kv.ModeLocal, err: fmt.Errorf("unused")}).Check(ctx)
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Equal(t, "local", r.Details["mode"])

	r = NewKVChecker(fakeBackend{mode: kv.ModeREST}).Check(ctx)
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Equal(t, "remote-rest", r.Details["mode"])

	r = NewKVChecker(fakeBackend{mode: kv.ModeRedis, err: fmt.Errorf("connection refused")}).Check(ctx)
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, "connection refused", r.Details["error"])
	assert.Equal(t, "kv", NewKVChecker(nil).Name())
}

func TestKVCheckerAgainstAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	adapter, err := kv.Open(kv.Config{URL: srv.URL, Token: "t"}, log.Discard(), nil)
	require.NoError(t, err)

	r := NewKVChecker(adapter).Check(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Contains(t, r.Details["error"], "status 503")
}
