package kv

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/felixgeelhaar/chathub/internal/log"
	"github.com/felixgeelhaar/chathub/internal/metrics"
	"github.com/felixgeelhaar/chathub/internal/telemetry"
)

// Mode describes where an Adapter sends commands.
type Mode string

const (
	// ModeLocal serves everything from the local store.
	ModeLocal Mode = "local"
	// ModeREST sends commands to an HTTP command endpoint.
	ModeREST Mode = "remote-rest"
	// ModeRedis sends commands to a Redis server.
	ModeRedis Mode = "remote-redis"
)

func (m Mode) backend() string {
	switch m {
	case ModeREST:
		return "rest"
	case ModeRedis:
		return "redis"
	default:
		return "local"
	}
}

// Config selects the remote backend. An empty URL runs local only.
type Config struct {
	// URL is an HTTP(S) command endpoint or a redis:// / rediss:// address.
	URL string

	// Token authenticates against the HTTP endpoint. Unused for Redis.
	Token string

	// Timeout bounds each remote command.
	Timeout time.Duration

	// LocalPath, when set, persists the local store to this JSON file.
	LocalPath string
}

// Adapter is a fail-open Store: each call goes to the remote backend and,
// if that fails for any reason, is served by the local store instead.
// Errors are returned only when the local store itself fails.
//
// Reads after a remote outage may come from either side, so callers must
// treat values as possibly stale.
type Adapter struct {
	remote  Store
	local   Store
	mode    Mode
	logger  *log.Logger
	metrics *metrics.Metrics
}

// NewAdapter composes remote with local. A nil remote runs local only.
// A nil local gets a fresh MemoryStore.
func NewAdapter(remote Store, mode Mode, local Store, logger *log.Logger, m *metrics.Metrics) *Adapter {
	if local == nil {
		local = NewMemoryStore()
	}
	if logger == nil {
		logger = log.DefaultLogger()
	}
	if remote == nil {
		mode = ModeLocal
	}
	return &Adapter{
		remote:  remote,
		local:   local,
		mode:    mode,
		logger:  logger.With("component", "kv"),
		metrics: m,
	}
}

// Open builds an Adapter from cfg. Missing or unusable remote configuration
// is logged and results in local-only mode; only a local store that cannot
// be opened is an error.
func Open(cfg Config, logger *log.Logger, m *metrics.Metrics) (*Adapter, error) {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	var local Store
	if cfg.LocalPath != "" {
		fs, err := OpenFileStore(cfg.LocalPath)
		if err != nil {
			return nil, err
		}
		local = fs
	} else {
		local = NewMemoryStore()
	}

	remote, mode, err := openRemote(cfg)
	switch {
	case err != nil:
		logger.Warn("kv remote backend unusable, running on local store", "error", err.Error())
	case remote == nil:
		logger.Info("kv remote backend not configured, running on local store")
	default:
		logger.Info("kv remote backend configured", "mode", string(mode))
	}

	return NewAdapter(remote, mode, local, logger, m), nil
}

func openRemote(cfg Config) (Store, Mode, error) {
	if cfg.URL == "" {
		return nil, ModeLocal, nil
	}

	if strings.HasPrefix(cfg.URL, "redis://") || strings.HasPrefix(cfg.URL, "rediss://") {
		rs, err := NewRedisStore(cfg.URL, cfg.Timeout)
		if err != nil {
			return nil, ModeLocal, err
		}
		return rs, ModeRedis, nil
	}

	if cfg.Token == "" {
		return nil, ModeLocal, fmt.Errorf("kv url is set but token is empty")
	}
	rc, err := NewRESTClient(RESTConfig{URL: cfg.URL, Token: cfg.Token, Timeout: cfg.Timeout})
	if err != nil {
		return nil, ModeLocal, err
	}
	return rc, ModeREST, nil
}

// Mode reports the strategy chosen at construction.
func (a *Adapter) Mode() Mode {
	return a.mode
}

// Local returns the fallback store.
func (a *Adapter) Local() Store {
	return a.local
}

// tryRemote runs fn against the remote and reports whether it succeeded.
// Failures are logged and counted; the caller then uses the local store.
func (a *Adapter) tryRemote(ctx context.Context, command, key string, fn func(Store) error) bool {
	if a.remote == nil {
		return false
	}

	_, span := telemetry.StartKVSpan(ctx, a.mode.backend(), command)
	start := time.Now()
	err := fn(a.remote)
	a.metrics.RecordKVCommand(a.mode.backend(), command, err, time.Since(start))
	telemetry.End(span, err)
	if err == nil {
		return true
	}

	a.logger.WithError(err).WarnContext(ctx, "kv remote command failed, using local store",
		"command", command,
		"namespace", Namespace(key),
	)
	a.metrics.RecordKVFallback(command)
	return false
}

// Set stores value under key.
func (a *Adapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if a.tryRemote(ctx, "SET", key, func(s Store) error {
		return s.Set(ctx, key, value, ttl)
	}) {
		return nil
	}
	return a.local.Set(ctx, key, value, ttl)
}

// SetNX stores value only if key is absent.
func (a *Adapter) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	if a.tryRemote(ctx, "SETNX", key, func(s Store) (err error) {
		ok, err = s.SetNX(ctx, key, value, ttl)
		return err
	}) {
		return ok, nil
	}
	return a.local.SetNX(ctx, key, value, ttl)
}

// Get returns the value for key.
func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	if a.tryRemote(ctx, "GET", key, func(s Store) (err error) {
		value, found, err = s.Get(ctx, key)
		return err
	}) {
		return value, found, nil
	}
	return a.local.Get(ctx, key)
}

// Delete removes key.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	if a.tryRemote(ctx, "DEL", key, func(s Store) error {
		return s.Delete(ctx, key)
	}) {
		return nil
	}
	return a.local.Delete(ctx, key)
}

// Exists reports whether key is present.
func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	if a.tryRemote(ctx, "EXISTS", key, func(s Store) (err error) {
		ok, err = s.Exists(ctx, key)
		return err
	}) {
		return ok, nil
	}
	return a.local.Exists(ctx, key)
}

// Expire updates the ttl of key.
func (a *Adapter) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	if a.tryRemote(ctx, "EXPIRE", key, func(s Store) (err error) {
		ok, err = s.Expire(ctx, key, ttl)
		return err
	}) {
		return ok, nil
	}
	return a.local.Expire(ctx, key, ttl)
}

// Ping checks the remote backend. It returns nil in local mode.
func (a *Adapter) Ping(ctx context.Context) error {
	p, ok := a.remote.(Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

// Close releases remote resources.
func (a *Adapter) Close() error {
	if c, ok := a.remote.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
