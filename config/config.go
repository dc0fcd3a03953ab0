// Package config loads ragflow settings from YAML with RAGFLOW_* environment
// overrides, and opens the configured checkpoint backend.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smallnest/ragflow/graph"
	"github.com/smallnest/ragflow/log"
	"github.com/smallnest/ragflow/store"
	"github.com/smallnest/ragflow/store/file"
	"github.com/smallnest/ragflow/store/memory"
	"github.com/smallnest/ragflow/store/postgres"
	"github.com/smallnest/ragflow/store/redis"
	"github.com/smallnest/ragflow/store/sqlite"
)

// Checkpoint backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSqlite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Environment variables read by ApplyEnv.
const (
	EnvRecursionLimit = "RAGFLOW_RECURSION_LIMIT"
	EnvLogLevel       = "RAGFLOW_LOG_LEVEL"
	EnvCheckpointer   = "RAGFLOW_CHECKPOINTER"
	EnvCheckpointPath = "RAGFLOW_CHECKPOINT_PATH"
	EnvPostgresDSN    = "RAGFLOW_POSTGRES_DSN"
	EnvRedisAddr      = "RAGFLOW_REDIS_ADDR"
	EnvRedisPassword  = "RAGFLOW_REDIS_PASSWORD"
	EnvRedisTTL       = "RAGFLOW_REDIS_TTL"
	EnvServerAddr     = "RAGFLOW_SERVER_ADDR"
)

// Config is the top-level configuration file.
type Config struct {
	RecursionLimit int                `yaml:"recursion_limit"`
	LogLevel       string             `yaml:"log_level"`
	Checkpointer   CheckpointerConfig `yaml:"checkpointer"`
	Server         ServerConfig       `yaml:"server"`
	// Documents seed the demo retriever used by the CLI and server.
	Documents []string `yaml:"documents"`
}

// CheckpointerConfig selects and configures the checkpoint store.
type CheckpointerConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`  // file directory or sqlite database
	DSN     string      `yaml:"dsn"`   // postgres connection string
	Table   string      `yaml:"table"` // sqlite/postgres table
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		RecursionLimit: graph.DefaultRecursionLimit,
		LogLevel:       "info",
		Checkpointer: CheckpointerConfig{
			Backend: BackendMemory,
			Redis:   RedisConfig{Prefix: "ragflow:"},
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRecursionLimit); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRecursionLimit, err)
		}
		c.RecursionLimit = n
	}
	if v, ok := lookup(EnvRedisTTL); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRedisTTL, err)
		}
		c.Checkpointer.Redis.TTL = d
	}

	strs := map[string]*string{
		EnvLogLevel:       &c.LogLevel,
		EnvCheckpointer:   &c.Checkpointer.Backend,
		EnvCheckpointPath: &c.Checkpointer.Path,
		EnvPostgresDSN:    &c.Checkpointer.DSN,
		EnvRedisAddr:      &c.Checkpointer.Redis.Addr,
		EnvRedisPassword:  &c.Checkpointer.Redis.Password,
		EnvServerAddr:     &c.Server.Addr,
	}
	for env, field := range strs {
		if v, ok := lookup(env); ok {
			*field = v
		}
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.RecursionLimit <= 0 {
		errs = append(errs, fmt.Errorf("recursion_limit must be positive, got %d", c.RecursionLimit))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	cp := c.Checkpointer
	switch strings.ToLower(cp.Backend) {
	case "", BackendNone, BackendMemory:
	case BackendFile, BackendSqlite:
		if cp.Path == "" {
			errs = append(errs, fmt.Errorf("checkpointer %s needs a path", cp.Backend))
		}
	case BackendPostgres:
		if cp.DSN == "" {
			errs = append(errs, errors.New("checkpointer postgres needs a dsn"))
		}
	case BackendRedis:
		if cp.Redis.Addr == "" {
			errs = append(errs, errors.New("checkpointer redis needs an addr"))
		}
		if cp.Redis.TTL < 0 {
			errs = append(errs, errors.New("checkpointer redis ttl must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown checkpointer backend %q", cp.Backend))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() log.LogLevel {
	level, _ := log.ParseLevel(c.LogLevel)
	return level
}

// OpenStore constructs the configured checkpoint store. The returned close
// function releases its connections; it is never nil. The store is nil for
// the "none" backend.
func (c *Config) OpenStore(ctx context.Context) (store.CheckpointStore, func() error, error) {
	nop := func() error { return nil }
	cp := c.Checkpointer

	switch strings.ToLower(cp.Backend) {
	case BackendNone:
		return nil, nop, nil
	case "", BackendMemory:
		return memory.NewMemoryCheckpointStore(), nop, nil
	case BackendFile:
		s, err := file.NewFileCheckpointStore(cp.Path)
		if err != nil {
			return nil, nop, err
		}
		return s, nop, nil
	case BackendSqlite:
		s, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{Path: cp.Path, TableName: cp.Table})
		if err != nil {
			return nil, nop, err
		}
		return s, s.Close, nil
	case BackendPostgres:
		s, err := postgres.NewPostgresCheckpointStore(ctx, postgres.PostgresOptions{ConnString: cp.DSN, TableName: cp.Table})
		if err != nil {
			return nil, nop, err
		}
		if err := s.InitSchema(ctx); err != nil {
			s.Close()
			return nil, nop, err
		}
		return s, func() error { s.Close(); return nil }, nil
	case BackendRedis:
		s := redis.NewRedisCheckpointStore(redis.RedisOptions{
			Addr:     cp.Redis.Addr,
			Password: cp.Redis.Password,
			DB:       cp.Redis.DB,
			Prefix:   cp.Redis.Prefix,
			TTL:      cp.Redis.TTL,
		})
		return s, s.Close, nil
	default:
		return nil, nop, fmt.Errorf("unknown checkpointer backend %q", cp.Backend)
	}
}

// CompileOptions returns the graph options implied by the configuration.
func (c *Config) CompileOptions(cps store.CheckpointStore) []graph.CompileOption {
	opts := []graph.CompileOption{graph.WithDefaultRecursionLimit(c.RecursionLimit)}
	if cps != nil {
		opts = append(opts, graph.WithCheckpointer(cps))
	}
	return opts
}
