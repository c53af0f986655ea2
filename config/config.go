// Package config loads wait and store settings from YAML.
//
// Example configuration:
//
//	wait:
//	  initial_delay: 2s
//	  max_delay: 1m
//	  multiplier: 1.5
//	  timeout: 45m
//	  query_attempts: 5
//	  query_backoff: 500ms
//
//	store:
//	  backend: mysql
//	  mysql:
//	    dsn: ${WAITER_MYSQL_DSN}
//	    table: ops.operations
package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"

	"go.alis.build/waiter/lro"
	"go.alis.build/waiter/store"
)

// Store backends.
const (
	BackendNone     = ""
	BackendMemory   = "memory"
	BackendBigtable = "bigtable"
	BackendMySQL    = "mysql"
	BackendSpanner  = "spanner"
)

// Config is the root of the configuration file. Unset values keep the defaults of the lro package.
type Config struct {
	Wait  Wait  `yaml:"wait"`
	Store Store `yaml:"store"`
}

// Wait maps to the lro wait options.
type Wait struct {
	InitialDelay  Duration `yaml:"initial_delay"`
	MaxDelay      Duration `yaml:"max_delay"`
	Multiplier    float64  `yaml:"multiplier"`
	Timeout       Duration `yaml:"timeout"`
	QueryAttempts int      `yaml:"query_attempts"`
	QueryBackoff  Duration `yaml:"query_backoff"`
}

// Store selects where resolved operations are recorded.
type Store struct {
	Backend  string        `yaml:"backend"`
	Bigtable BigtableStore `yaml:"bigtable"`
	MySQL    MySQLStore    `yaml:"mysql"`
	Spanner  SpannerStore  `yaml:"spanner"`
}

type BigtableStore struct {
	Project      string `yaml:"project"`
	Instance     string `yaml:"instance"`
	Table        string `yaml:"table"`
	RowKeyPrefix string `yaml:"row_key_prefix"`
}

type MySQLStore struct {
	// DSN supports ${VAR} and ${VAR:-default} substitution.
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type SpannerStore struct {
	// Database is the full name, projects/{project}/instances/{instance}/databases/{database}.
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a YAML configuration.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	dsn, err := expandEnv(cfg.Store.MySQL.DSN)
	if err != nil {
		return nil, fmt.Errorf("store.mysql.dsn: %w", err)
	}
	cfg.Store.MySQL.DSN = dsn
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	durations := []struct {
		name  string
		value Duration
	}{
		{"wait.initial_delay", c.Wait.InitialDelay},
		{"wait.max_delay", c.Wait.MaxDelay},
		{"wait.timeout", c.Wait.Timeout},
		{"wait.query_backoff", c.Wait.QueryBackoff},
	}
	for _, d := range durations {
		if d.value < 0 {
			return fmt.Errorf("%s must not be negative, got %s", d.name, d.value.Duration())
		}
	}
	if c.Wait.Multiplier < 0 {
		return fmt.Errorf("wait.multiplier must not be negative, got %g", c.Wait.Multiplier)
	}
	if c.Wait.QueryAttempts < 0 {
		return fmt.Errorf("wait.query_attempts must not be negative, got %d", c.Wait.QueryAttempts)
	}

	switch c.Store.Backend {
	case BackendNone, BackendMemory:
	case BackendBigtable:
		b := c.Store.Bigtable
		if b.Project == "" || b.Instance == "" || b.Table == "" {
			return fmt.Errorf("store.bigtable requires project, instance and table")
		}
	case BackendMySQL:
		if c.Store.MySQL.DSN == "" || c.Store.MySQL.Table == "" {
			return fmt.Errorf("store.mysql requires dsn and table")
		}
	case BackendSpanner:
		if c.Store.Spanner.Database == "" || c.Store.Spanner.Table == "" {
			return fmt.Errorf("store.spanner requires database and table")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	return nil
}

// WaitOptions returns the options for the configured wait settings.
func (c *Config) WaitOptions() []lro.WaitOption {
	w := c.Wait
	var opts []lro.WaitOption
	if w.InitialDelay > 0 {
		opts = append(opts, lro.WithInitialDelay(w.InitialDelay.Duration()))
	}
	if w.MaxDelay > 0 {
		opts = append(opts, lro.WithMaxDelay(w.MaxDelay.Duration()))
	}
	if w.Multiplier > 0 {
		opts = append(opts, lro.WithMultiplier(w.Multiplier))
	}
	if w.Timeout > 0 {
		opts = append(opts, lro.WithTimeout(w.Timeout.Duration()))
	}
	switch {
	case w.QueryAttempts > 0:
		opts = append(opts, lro.WithQueryRetries(w.QueryAttempts, w.QueryBackoff.Duration()))
	case w.QueryBackoff > 0:
		opts = append(opts, lro.WithQueryRetries(lro.DefaultQueryAttempts, w.QueryBackoff.Duration()))
	}
	return opts
}

// OpenStore opens the configured store. It returns a nil store when no backend is configured. The returned close
// function releases the store's connections and is never nil. apiOpts are passed to the Bigtable and Spanner
// clients.
func (c *Config) OpenStore(ctx context.Context, apiOpts ...option.ClientOption) (store.Store, func() error, error) {
	noop := func() error { return nil }
	switch c.Store.Backend {
	case BackendMemory:
		return store.NewMemoryStore(), noop, nil
	case BackendBigtable:
		b := c.Store.Bigtable
		s, err := store.NewBigtableStore(ctx, b.Project, b.Instance, b.Table, b.RowKeyPrefix, apiOpts...)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case BackendMySQL:
		s, err := store.NewMySQLStore(c.Store.MySQL.DSN, c.Store.MySQL.Table)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case BackendSpanner:
		s, err := store.NewSpannerStore(ctx, c.Store.Spanner.Database, c.Store.Spanner.Table, apiOpts...)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, nil
	}
}

// Options returns the wait options together with the configured store. Close the store with the returned function
// once the pollers are no longer used.
func (c *Config) Options(ctx context.Context, apiOpts ...option.ClientOption) ([]lro.WaitOption, func() error, error) {
	s, closeStore, err := c.OpenStore(ctx, apiOpts...)
	if err != nil {
		return nil, closeStore, err
	}
	opts := c.WaitOptions()
	if s != nil {
		opts = append(opts, lro.WithStore(s))
	}
	return opts, closeStore, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} with environment values. Other uses of $ are kept as written. A
// variable that is unset and has no default is an error.
func expandEnv(s string) (string, error) {
	var missing []string
	out := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		if m[2] != "" {
			return m[3]
		}
		missing = append(missing, m[1])
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("environment variable %s is not set", missing[0])
	}
	return out, nil
}
