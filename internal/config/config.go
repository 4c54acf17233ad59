// Package config resolves blackmarket runtime configuration.
//
// Layers, later wins:
//  1. Built-in defaults (market.DefaultConfig, ./blackmarket.db, sqlite, info)
//  2. Config file (--config): YAML, or CUE when the extension is .cue
//  3. Environment: BLACKMARKET_* variables, falling back to a .env file
//  4. Command-line overrides (--db, --backend)
//
// The merged result is validated against the embedded CUE schema before
// Load returns it.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/blackmarket/internal/market"
)

//go:embed schema.cue
var schemaCUE string

// Backend names accepted by --backend and BLACKMARKET_BACKEND.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Defaults for the non-market settings.
const (
	DefaultDatabase = "blackmarket.db"
	DefaultBackend  = BackendSQLite
	DefaultLogLevel = "info"
	DefaultEnvFile  = ".env"
)

// EnvPrefix prefixes every environment variable Load reads.
const EnvPrefix = "BLACKMARKET_"

// Config is the resolved configuration.
type Config struct {
	Database string
	Backend  string
	LogLevel string
	Market   market.Config
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file. Empty means no file.
	File string

	// EnvFile is a dotenv file. Empty means DefaultEnvFile, which is
	// skipped silently when missing; an explicit path must exist.
	EnvFile string

	// Database and Backend come from flags and win over everything else.
	Database string
	Backend  string

	// Getenv reads the process environment (default os.Getenv).
	Getenv func(string) string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DefaultDatabase,
		Backend:  DefaultBackend,
		LogLevel: DefaultLogLevel,
		Market:   market.DefaultConfig(),
	}
}

// fileConfig is the on-disk shape. Pointers distinguish "absent" from zero.
type fileConfig struct {
	Database string      `yaml:"database" json:"database"`
	Backend  string      `yaml:"backend" json:"backend"`
	LogLevel string      `yaml:"log_level" json:"log_level"`
	Market   *marketFile `yaml:"market" json:"market"`
}

type marketFile struct {
	ListingFee      *int64 `yaml:"listing_fee" json:"listing_fee"`
	FreezeWindow    string `yaml:"freeze_window" json:"freeze_window"`
	DefaultPageSize *int   `yaml:"default_page_size" json:"default_page_size"`
	MaxPageSize     *int   `yaml:"max_page_size" json:"max_page_size"`
}

// Load resolves the configuration described by opts.
func Load(opts Options) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		fc, err := readFile(opts.File)
		if err != nil {
			return Config{}, err
		}
		if err := cfg.applyFile(fc); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", opts.File, err)
		}
	}

	env, err := environment(opts)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(env); err != nil {
		return Config{}, err
	}

	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readFile decodes a YAML or CUE config file. Unknown YAML keys are errors.
func readFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if filepath.Ext(path) == ".cue" {
		v := cuecontext.New().CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return fileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := v.Decode(&fc); err != nil {
			return fileConfig{}, fmt.Errorf("decode config %s: %w", path, err)
		}
		return fc, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

func (c *Config) applyFile(fc fileConfig) error {
	if fc.Database != "" {
		c.Database = fc.Database
	}
	if fc.Backend != "" {
		c.Backend = fc.Backend
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.Market == nil {
		return nil
	}
	if fc.Market.ListingFee != nil {
		c.Market.ListingFee = *fc.Market.ListingFee
	}
	if fc.Market.FreezeWindow != "" {
		d, err := time.ParseDuration(fc.Market.FreezeWindow)
		if err != nil {
			return fmt.Errorf("market.freeze_window: %w", err)
		}
		c.Market.FreezeWindow = d
	}
	if fc.Market.DefaultPageSize != nil {
		c.Market.DefaultPageSize = *fc.Market.DefaultPageSize
	}
	if fc.Market.MaxPageSize != nil {
		c.Market.MaxPageSize = *fc.Market.MaxPageSize
	}
	return nil
}

// environment merges the dotenv file under the process environment.
func environment(opts Options) (func(string) string, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	path := opts.EnvFile
	if path == "" {
		path = DefaultEnvFile
	}
	dotenv, err := godotenv.Read(path)
	if err != nil {
		if opts.EnvFile != "" || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read env file %s: %w", path, err)
		}
		dotenv = map[string]string{}
	}

	return func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvPrefix + "DB"); v != "" {
		c.Database = v
	}
	if v := getenv(EnvPrefix + "BACKEND"); v != "" {
		c.Backend = v
	}
	if v := getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvPrefix + "LISTING_FEE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sLISTING_FEE: %w", EnvPrefix, err)
		}
		c.Market.ListingFee = n
	}
	if v := getenv(EnvPrefix + "FREEZE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sFREEZE_WINDOW: %w", EnvPrefix, err)
		}
		c.Market.FreezeWindow = d
	}
	if v := getenv(EnvPrefix + "DEFAULT_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sDEFAULT_PAGE_SIZE: %w", EnvPrefix, err)
		}
		c.Market.DefaultPageSize = n
	}
	if v := getenv(EnvPrefix + "MAX_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_PAGE_SIZE: %w", EnvPrefix, err)
		}
		c.Market.MaxPageSize = n
	}
	return nil
}

// cueView is the shape #Config validates.
type cueView struct {
	Database string        `json:"database"`
	Backend  string        `json:"backend"`
	LogLevel string        `json:"log_level"`
	Market   cueMarketView `json:"market"`
}

type cueMarketView struct {
	ListingFee      int64 `json:"listing_fee"`
	FreezeWindowNS  int64 `json:"freeze_window_ns"`
	MaxPageSize     int   `json:"max_page_size"`
	DefaultPageSize int   `json:"default_page_size"`
}

// Validate checks c against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(cueView{
		Database: c.Database,
		Backend:  c.Backend,
		LogLevel: strings.ToLower(c.LogLevel),
		Market: cueMarketView{
			ListingFee:      c.Market.ListingFee,
			FreezeWindowNS:  int64(c.Market.FreezeWindow),
			MaxPageSize:     c.Market.MaxPageSize,
			DefaultPageSize: c.Market.DefaultPageSize,
		},
	}))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel maps LogLevel onto slog levels. Unknown values fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
