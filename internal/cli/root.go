package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/blackmarket/internal/boltstore"
	"github.com/roach88/blackmarket/internal/config"
	"github.com/roach88/blackmarket/internal/market"
	"github.com/roach88/blackmarket/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Config   string // config file (YAML or CUE)
	EnvFile  string // dotenv file
	Database string // overrides the configured database path
	Backend  string // overrides the configured backend
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the blackmarket CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "blackmarket",
		Short: "Peer-to-peer reputation market",
		Long: `A peer-to-peer market where users escrow reputation points into offers
priced in ryo, and other users take those offers.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (.yaml or .cue)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file (default .env if present)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database path (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend: sqlite|bolt (overrides config)")

	// Add subcommands
	cmd.AddCommand(NewAccountCommand(opts))
	cmd.AddCommand(NewOffersCommand(opts))
	cmd.AddCommand(NewOfferCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// loadConfig resolves configuration from flags, env and the config file.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(config.Options{
		File:     o.Config,
		EnvFile:  o.EnvFile,
		Database: o.Database,
		Backend:  o.Backend,
	})
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// newLogger writes structured logs to the command's stderr. --verbose
// forces debug level.
func (o *RootOptions) newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	level := cfg.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// closableStore is a market.Store that owns a database handle.
type closableStore interface {
	market.Store
	Close() error
}

// openStore opens the configured backend at path.
func openStore(backend, path string) (closableStore, error) {
	switch backend {
	case config.BackendSQLite:
		s, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendBolt:
		s, err := boltstore.Open(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// session is an open market bound to the configured store.
type session struct {
	cfg    config.Config
	store  closableStore
	market *market.Market
	logger *slog.Logger
}

// openSession loads config, opens the store and builds a Market.
// Callers must Close the session.
func (o *RootOptions) openSession(cmd *cobra.Command, extra ...market.Option) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := o.newLogger(cmd, cfg)

	st, err := openStore(cfg.Backend, cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Debug("store opened", "backend", cfg.Backend, "path", cfg.Database)

	mopts := append([]market.Option{market.WithLogger(logger)}, extra...)
	return &session{
		cfg:    cfg,
		store:  st,
		market: market.New(st, cfg.Market, mopts...),
		logger: logger,
	}, nil
}

// Close releases the store.
func (s *session) Close() error {
	return s.store.Close()
}

// formatter builds the OutputFormatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
