// Package cmd implements the chathub command line.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/chathub/internal/config"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "chathub",
		Short: "ChatHub authentication service",
		Long: `chathub runs the ChatHub authentication backend: guest sessions,
email and password accounts, and TOTP two-factor authentication on top
of a key-value store with a local fallback.

Configuration is read from ~/.chathub/config.yaml and ./chathub.yaml,
then from the environment (PORT, KV_REST_API_URL, KV_REST_API_TOKEN and
CHATHUB_*), then from flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (replaces ~/.chathub/config.yaml and ./chathub.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: json or text")

	root.AddCommand(
		newServeCmd(opts),
		newConfigCmd(opts),
		newTOTPCmd(),
		newHashCmd(),
		newVersionCmd(),
	)
	return root
}

// ExecuteContext runs the command line until ctx is canceled.
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// loadConfig resolves configuration and applies the persistent flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
