// Package config loads process configuration from an optional YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tsanders-rh/panelctl/internal/api"
	"github.com/tsanders-rh/panelctl/internal/events"
	"github.com/tsanders-rh/panelctl/internal/janitor"
	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/internal/policy"
	"github.com/tsanders-rh/panelctl/internal/provision"
	"github.com/tsanders-rh/panelctl/internal/purge"
	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/internal/worker"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// EnvConfigFile names the variable holding the path of the YAML file
const EnvConfigFile = "PANELCTL_CONFIG"

// Config is the configuration of every panelctl process
type Config struct {
	Server    api.ServerConfig `yaml:"server"`
	Database  store.Config     `yaml:"database"`
	Panel     panel.Config     `yaml:"panel"`
	Policy    policy.Config    `yaml:"policy"`
	Provision provision.Config `yaml:"provision"`
	Purge     purge.Config     `yaml:"purge"`
	Events    events.Config    `yaml:"events"`
	Worker    worker.Config    `yaml:"worker"`
	Janitor   janitor.Config   `yaml:"janitor"`
	Ledger    LedgerConfig     `yaml:"ledger"`
	Plans     PlansConfig      `yaml:"plans"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// LedgerConfig holds the balance given to new users
type LedgerConfig struct {
	Defaults types.Resources `yaml:"defaults"`
}

// PlansConfig locates the plan definitions
type PlansConfig struct {
	Dir string `yaml:"dir"` // empty uses the built-in plans
}

// MetricsConfig controls the Prometheus listener of the worker
type MetricsConfig struct {
	Port int `yaml:"port" validate:"min=0,max=65535"` // 0 disables the listener
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server:    *api.DefaultServerConfig(),
		Database:  *store.DefaultConfig("postgres://localhost:5432/panelctl?sslmode=disable"),
		Panel:     panel.DefaultConfig(),
		Policy:    policy.Config{},
		Provision: provision.DefaultConfig(),
		Purge:     purge.DefaultConfig(),
		Events:    events.DefaultConfig(),
		Worker:    *worker.DefaultConfig(),
		Janitor:   *janitor.DefaultConfig(),
		Ledger: LedgerConfig{
			Defaults: types.Resources{
				RAM:         2048,
				Disk:        10240,
				CPU:         100,
				Allocations: 1,
				Databases:   1,
				Slots:       1,
			},
		},
		Metrics: MetricsConfig{Port: 9090},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Loader reads configuration files
type Loader struct {
	validate *validator.Validate
	getenv   func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validate: validator.New(),
		getenv:   os.Getenv,
	}
}

// Load returns the defaults overlaid by the file at path (if any) and then
// by the environment. The result is validated.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = l.getenv(EnvConfigFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML %s: %w", path, err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}

	// Derived settings
	cfg.Janitor.ReapExpired = cfg.Provision.Renewal.Enabled
	cfg.Janitor.RenewalGrace = cfg.Provision.Renewal.Grace()

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cfg against its schema
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if len(cfg.Server.JWTSecret) < 32 {
		return errors.New("validate config: JWT secret must be at least 32 characters")
	}

	return nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	if v := l.getenv("DATABASE_URL"); v != "" {
		cfg.Database.DatabaseURL = v
	}
	if v := l.getenv("JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := l.getenv("PANEL_URL"); v != "" {
		cfg.Panel.BaseURL = v
	}
	if v := l.getenv("PANEL_API_KEY"); v != "" {
		cfg.Panel.APIKey = v
	}
	if v := l.getenv("NATS_URL"); v != "" {
		cfg.Events.URL = v
	}
	if v := l.getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := l.getenv("PLANS_DIR"); v != "" {
		cfg.Plans.Dir = v
	}
	if v := l.getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	for name, dst := range map[string]*int{
		"PORT":         &cfg.Server.Port,
		"METRICS_PORT": &cfg.Metrics.Port,
	} {
		v := l.getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = n
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NewLogger builds the process logger
func (c LoggingConfig) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level

	return zc.Build()
}
