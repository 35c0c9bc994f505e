// Package config loads the chathub configuration.
//
// Values are layered, later sources winning:
//
//  1. Defaults()
//  2. ~/.chathub/config.yaml
//  3. ./chathub.yaml, or the file passed with --config instead of both
//  4. environment variables (KV_REST_API_URL, KV_REST_API_TOKEN, PORT, CHATHUB_*)
//  5. command-line flags, applied by the caller
//
// The result is checked with Validate.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/chathub/internal/auth"
	"github.com/felixgeelhaar/chathub/internal/errors"
	"github.com/felixgeelhaar/chathub/internal/kv"
	"github.com/felixgeelhaar/chathub/internal/log"
	"github.com/felixgeelhaar/chathub/internal/password"
	"github.com/felixgeelhaar/chathub/internal/telemetry"
	"github.com/felixgeelhaar/chathub/internal/totp"
)

// ProjectFile and UserFile are the discovered config locations.
const (
	ProjectFile = "chathub.yaml"
	UserFile    = ".chathub/config.yaml"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	KV      KVConfig      `yaml:"kv"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`

	// Sources lists the files that were read, in order.
	Sources []string `yaml:"-"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"CHATHUB_HOST"`
	Port            int           `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"CHATHUB_READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"CHATHUB_WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"CHATHUB_IDLE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"CHATHUB_SHUTDOWN_TIMEOUT" validate:"gt=0"`
	Metrics         bool          `yaml:"metrics" env:"CHATHUB_METRICS"`
}

// KVConfig selects the key-value backend. An empty URL runs on the local
// store only.
type KVConfig struct {
	URL       string        `yaml:"url" env:"KV_REST_API_URL" validate:"omitempty,url"`
	Token     string        `yaml:"token" env:"KV_REST_API_TOKEN"`
	Timeout   time.Duration `yaml:"timeout" env:"CHATHUB_KV_TIMEOUT" validate:"gt=0"`
	LocalPath string        `yaml:"local_path" env:"CHATHUB_KV_LOCAL_PATH"`
}

// AuthConfig tunes the auth service. Session and temp token lifetimes are
// fixed by the auth package.
type AuthConfig struct {
	Issuer          string        `yaml:"issuer" env:"CHATHUB_ISSUER" validate:"required"`
	QRBaseURL       string        `yaml:"qr_base_url" env:"CHATHUB_QR_BASE_URL" validate:"required,url"`
	HashRounds      int           `yaml:"hash_rounds" env:"CHATHUB_HASH_ROUNDS" validate:"min=4,max=20"`
	TOTPWindow      int           `yaml:"totp_window" env:"CHATHUB_TOTP_WINDOW" validate:"min=0,max=10"`
	BackupCodeCount int           `yaml:"backup_code_count" env:"CHATHUB_BACKUP_CODE_COUNT" validate:"min=1,max=50"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `yaml:"level" env:"CHATHUB_LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	Format    string `yaml:"format" env:"CHATHUB_LOG_FORMAT" validate:"oneof=json text"`
	AddSource bool   `yaml:"add_source" env:"CHATHUB_LOG_ADD_SOURCE"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" env:"CHATHUB_TRACING_ENABLED"`
	Endpoint    string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT" validate:"omitempty,url"`
	Environment string  `yaml:"environment" env:"CHATHUB_ENVIRONMENT"`
	SampleRate  float64 `yaml:"sample_rate" env:"CHATHUB_TRACE_SAMPLE_RATE" validate:"gte=0,lte=1"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3001,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Metrics:         true,
		},
		KV: KVConfig{
			Timeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:          "ChatHub",
			QRBaseURL:       totp.DefaultQRBaseURL,
			HashRounds:      password.DefaultRounds,
			TOTPWindow:      totp.DefaultWindow,
			BackupCodeCount: totp.DefaultBackupCodeCount,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Environment: "production",
			SampleRate:  1.0,
		},
	}
}

// Loader resolves configuration files and the environment.
type Loader struct {
	// projectDir holds ./chathub.yaml
	projectDir string

	// homeDir holds .chathub/config.yaml
	homeDir string

	// environ overrides os.Environ, for tests
	environ map[string]string
}

// NewLoader creates a loader rooted at the working and home directories.
func NewLoader() *Loader {
	homeDir, _ := os.UserHomeDir()
	return &Loader{projectDir: ".", homeDir: homeDir}
}

// SetProjectDir sets where ./chathub.yaml is looked up.
func (l *Loader) SetProjectDir(dir string) {
	l.projectDir = dir
}

// SetHomeDir sets where .chathub/config.yaml is looked up.
func (l *Loader) SetHomeDir(dir string) {
	l.homeDir = dir
}

// SetEnviron replaces the process environment with vars.
func (l *Loader) SetEnviron(vars map[string]string) {
	l.environ = vars
}

// Load builds the configuration. An explicit path must exist and replaces
// file discovery; otherwise discovered files are optional.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.mergeFile(path, true); err != nil {
			return nil, err
		}
	} else {
		if l.homeDir != "" {
			if err := cfg.mergeFile(filepath.Join(l.homeDir, UserFile), false); err != nil {
				return nil, err
			}
		}
		if err := cfg.mergeFile(filepath.Join(l.projectDir, ProjectFile), false); err != nil {
			return nil, err
		}
	}

	opts := env.Options{}
	if l.environ != nil {
		opts.Environment = l.environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, errors.NewConfigInvalidError("environment", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load builds the configuration with a default Loader.
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

func (c *Config) mergeFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrap(errors.ErrCodeConfigRead, fmt.Sprintf("failed to read config file %s", path), err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.NewConfigInvalidError(fmt.Sprintf("parse %s", path), err)
	}

	c.Sources = append(c.Sources, path)
	return nil
}

// Normalize lowercases the enumerated log settings and trims URLs.
func (c *Config) Normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.KV.URL = strings.TrimSpace(c.KV.URL)
	c.Tracing.Endpoint = strings.TrimSpace(c.Tracing.Endpoint)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return errors.NewConfigInvalidError(strings.Join(fields, ", "), err)
		}
		return errors.NewConfigInvalidError("validation", err)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// KVOptions converts the KV section for kv.Open.
func (c *Config) KVOptions() kv.Config {
	return kv.Config{
		URL:       c.KV.URL,
		Token:     c.KV.Token,
		Timeout:   c.KV.Timeout,
		LocalPath: c.KV.LocalPath,
	}
}

// AuthOptions converts the auth section for auth.NewService.
func (c *Config) AuthOptions() auth.Config {
	return auth.Config{
		Issuer:          c.Auth.Issuer,
		QRBaseURL:       c.Auth.QRBaseURL,
		HashRounds:      c.Auth.HashRounds,
		TOTPWindow:      c.Auth.TOTPWindow,
		BackupCodeCount: c.Auth.BackupCodeCount,
	}
}

// LogOptions converts the log section for log.New.
func (c *Config) LogOptions(version string) log.Config {
	return log.Config{
		Level:          log.ParseLevel(c.Log.Level),
		Format:         log.ParseFormat(c.Log.Format),
		Output:         os.Stderr,
		AddSource:      c.Log.AddSource,
		ServiceName:    "chathub",
		ServiceVersion: version,
	}
}

// TelemetryOptions converts the tracing section for telemetry.InitProvider.
func (c *Config) TelemetryOptions(version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    "chathub",
		ServiceVersion: version,
		Environment:    c.Tracing.Environment,
		Enabled:        c.Tracing.Enabled,
		Endpoint:       c.Tracing.Endpoint,
		SampleRate:     c.Tracing.SampleRate,
	}
}
