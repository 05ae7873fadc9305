package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/mestor"
	"github.com/roach88/mestor/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Backend    string // overrides the config file when set
	Database   string // overrides the config file when set
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the mestor CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "mestor",
		Short: "mestor - a minimal event-sourcing message store",
		Long: `Append messages to streams, read them back in global order and run
checkpointed subscriptions against a SQLite or Pebble store.

Settings come from defaults, the --config YAML file, MESTOR_* environment
variables and finally the --backend and --db flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend (sqlite|pebble|memory)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the database file or directory")

	cmd.AddCommand(NewWriteCommand(opts))
	cmd.AddCommand(NewReadCommand(opts))
	cmd.AddCommand(NewLastCommand(opts))
	cmd.AddCommand(NewPositionCommand(opts))
	cmd.AddCommand(NewStreamCommand(opts))
	cmd.AddCommand(NewSubscribeCommand(opts))

	return cmd
}

// loadConfig resolves settings and applies flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if o.Database != "" {
		cfg.Path = o.Database
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid settings", err)
	}
	return cfg, nil
}

// openClient loads settings and opens the store they name. Logs go to
// cmd's error stream.
func (o *RootOptions) openClient(cmd *cobra.Command, extra ...mestor.Option) (*mestor.Client, config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, config.Config{}, err
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return nil, config.Config{}, WrapExitError(ExitCommandError, "failed to build logger", err)
	}

	opts := append([]mestor.Option{mestor.WithLogger(logger)}, extra...)
	client, err := mestor.Open(cfg, opts...)
	if err != nil {
		return nil, config.Config{}, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	logger.Debug("store opened", slog.String("backend", cfg.Backend), slog.String("path", cfg.Path))
	return client, cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
