package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/chathub/internal/errors"
	"github.com/felixgeelhaar/chathub/internal/kv"
	"github.com/felixgeelhaar/chathub/internal/log"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func isolatedLoader(t *testing.T) (*Loader, string, string) {
	t.Helper()
	project := t.TempDir()
	home := t.TempDir()
	l := NewLoader()
	l.SetProjectDir(project)
	l.SetHomeDir(home)
	l.SetEnviron(map[string]string{})
	return l, project, home
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":3001", cfg.Addr())
	assert.Equal(t, "ChatHub", cfg.Auth.Issuer)
	assert.Empty(t, cfg.KV.URL)
}

func TestLoadWithoutFiles(t *testing.T) {
	l, _, _ := isolatedLoader(t)
	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Sources)
	assert.Equal(t, Defaults().Server, cfg.Server)
}

func TestLoadLayersFiles(t *testing.T) {
	l, project, home := isolatedLoader(t)
	writeFile(t, filepath.Join(home, UserFile), `
server:
  port: 4000
auth:
  issuer: HomeIssuer
  hash_rounds: 12
`)
	writeFile(t, filepath.Join(project, ProjectFile), `
auth:
  issuer: ProjectIssuer
  totp_window: 2
kv:
  url: https://kv.example.com
  token: file-token
`)

	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Sources, 2)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "ProjectIssuer", cfg.Auth.Issuer)
	assert.Equal(t, 12, cfg.Auth.HashRounds)
	assert.Equal(t, 2, cfg.Auth.TOTPWindow)
	assert.Equal(t, 10, cfg.Auth.BackupCodeCount, "untouched keys keep defaults")
	assert.Equal(t, "https://kv.example.com", cfg.KV.URL)
}

func TestEnvironmentOverridesFiles(t *testing.T) {
	l, project, _ := isolatedLoader(t)
	writeFile(t, filepath.Join(project, ProjectFile), `
server:
  port: 4000
kv:
  url: https://file.example.com
  token: file-token
`)
	l.SetEnviron(map[string]string{
		"PORT":                "8080",
		"KV_REST_API_URL":     "https://env.example.com",
		"KV_REST_API_TOKEN":   "env-token",
		"CHATHUB_KV_TIMEOUT":  "2s",
		"CHATHUB_LOG_LEVEL":   "DEBUG",
		"CHATHUB_TOTP_WINDOW": "2",
		"CHATHUB_METRICS":     "false",
	})

	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://env.example.com", cfg.KV.URL)
	assert.Equal(t, "env-token", cfg.KV.Token)
	assert.Equal(t, 2*time.Second, cfg.KV.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Auth.TOTPWindow)
	assert.False(t, cfg.Server.Metrics)
}

func TestExplicitPath(t *testing.T) {
	l, project, _ := isolatedLoader(t)
	writeFile(t, filepath.Join(project, ProjectFile), "server:\n  port: 4000\n")

	explicit := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, explicit, "server:\n  port: 5000\n")

	cfg, err := l.Load(explicit)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, []string{explicit}, cfg.Sources)

	_, err = l.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigRead))
}

func TestEmptyFile(t *testing.T) {
	l, project, _ := isolatedLoader(t)
	writeFile(t, filepath.Join(project, ProjectFile), "")

	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Sources, 1)
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		environ map[string]string
		want    string
	}{
		{name: "unknown key", file: "server:\n  prot: 1\n", want: "parse"},
		{name: "session lifetime is fixed", file: "auth:\n  session_ttl: 2h\n", want: "session_ttl"},
		{name: "bad yaml", file: "server: [\n", want: "parse"},
		{name: "port out of range", file: "server:\n  port: 70000\n", want: "Port"},
		{name: "hash rounds too low", file: "auth:\n  hash_rounds: 2\n", want: "HashRounds"},
		{name: "bad log format", file: "log:\n  format: xml\n", want: "Format"},
		{name: "bad kv url", file: "kv:\n  url: not a url\n", want: "URL"},
		{name: "bad env value", environ: map[string]string{"PORT": "eighty"}, want: "environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, project, _ := isolatedLoader(t)
			if tt.file != "" {
				writeFile(t, filepath.Join(project, ProjectFile), tt.file)
			}
			if tt.environ != nil {
				l.SetEnviron(tt.environ)
			}

			_, err := l.Load("")
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := Defaults()
	cfg.KV.URL = "redis://localhost:6379/0"
	cfg.KV.LocalPath = "/var/lib/chathub/kv.json"
	cfg.Auth.HashRounds = 12
	cfg.Log.Level = "warn"
	cfg.Log.Format = "text"

	assert.Equal(t, kv.Config{
		URL:       "redis://localhost:6379/0",
		Timeout:   5 * time.Second,
		LocalPath: "/var/lib/chathub/kv.json",
	}, cfg.KVOptions())

	a := cfg.AuthOptions()
	assert.Equal(t, 12, a.HashRounds)
	assert.Equal(t, "ChatHub", a.Issuer)
	assert.Nil(t, a.Now)

	lc := cfg.LogOptions("1.2.3")
	assert.Equal(t, log.LevelWarn, lc.Level)
	assert.Equal(t, log.FormatText, lc.Format)
	assert.Equal(t, "chathub", lc.ServiceName)
	assert.Equal(t, "1.2.3", lc.ServiceVersion)

	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = "http://collector:4318"
	tc := cfg.TelemetryOptions("1.2.3")
	assert.True(t, tc.Enabled)
	assert.Equal(t, "http://collector:4318", tc.Endpoint)
	assert.Equal(t, "production", tc.Environment)
	assert.Equal(t, 1.0, tc.SampleRate)
}

func TestTracingFromEnvironment(t *testing.T) {
	l, _, _ := isolatedLoader(t)
	l.SetEnviron(map[string]string{
		"CHATHUB_TRACING_ENABLED":            "true",
		"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT": " http://collector:4318/v1/traces ",
		"CHATHUB_TRACE_SAMPLE_RATE":          "0.25",
	})

	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "http://collector:4318/v1/traces", cfg.Tracing.Endpoint)
	assert.Equal(t, 0.25, cfg.Tracing.SampleRate)

	l.SetEnviron(map[string]string{"CHATHUB_TRACE_SAMPLE_RATE": "2"})
	_, err = l.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SampleRate")
}
