package cli

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables that override flags, e.g.
// SENTINEL_DB or SENTINEL_POLL_INTERVAL.
const EnvPrefix = "SENTINEL"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	Database   string
	ConfigFile string

	// JWTSecret signs login tokens. TokenTTL is their default lifetime.
	JWTSecret string
	TokenTTL  time.Duration

	// v resolves flag, environment and config file values.
	v *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the sentinel CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sentinel",
		Short: "sentinel - change-driven transition engine",
		Long: `sentinel watches the document change feed and runs the configured
transitions against every changed document, recording each outcome in the
document's info record.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(); err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(cmd, opts.Verbose)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (env SENTINEL_DB)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.JWTSecret, "jwt-secret", "", "login token signing key (env SENTINEL_JWT_SECRET)")
	cmd.PersistentFlags().DurationVar(&opts.TokenTTL, "token-ttl", 0, "default login token lifetime")

	v := opts.viper()
	_ = v.BindPFlag("db", cmd.PersistentFlags().Lookup("db"))
	_ = v.BindPFlag("format", cmd.PersistentFlags().Lookup("format"))
	_ = v.BindPFlag("verbose", cmd.PersistentFlags().Lookup("verbose"))
	_ = v.BindPFlag("jwt-secret", cmd.PersistentFlags().Lookup("jwt-secret"))
	_ = v.BindPFlag("token-ttl", cmd.PersistentFlags().Lookup("token-ttl"))

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSettingsCommand(opts))
	cmd.AddCommand(NewDocCommand(opts))
	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewUsersCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// viper returns the options' config resolver, creating it on first use.
func (o *RootOptions) viper() *viper.Viper {
	if o.v == nil {
		o.v = viper.New()
		o.v.SetEnvPrefix(EnvPrefix)
		o.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		o.v.AutomaticEnv()
	}
	return o.v
}

// load reads the config file, if any, and resolves the global options.
func (o *RootOptions) load() error {
	v := o.viper()
	if o.ConfigFile != "" {
		v.SetConfigFile(o.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	o.Database = v.GetString("db")
	o.Format = v.GetString("format")
	o.Verbose = v.GetBool("verbose")
	o.JWTSecret = v.GetString("jwt-secret")
	o.TokenTTL = v.GetDuration("token-ttl")
	return nil
}

// configureLogging sends structured logs to stderr, at debug level when
// verbose.
func configureLogging(cmd *cobra.Command, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
