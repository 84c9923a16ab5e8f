package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/eligibility"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	LogLevel            string        `mapstructure:"LOG_LEVEL"`
	Store               string        `mapstructure:"STORE"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultSite         string        `mapstructure:"DEFAULT_SITE"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS        float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit           string        `mapstructure:"BODY_LIMIT"`
	AuthSigningKey      string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer          string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience        string        `mapstructure:"AUTH_AUDIENCE"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	RedisChannel        string        `mapstructure:"REDIS_CHANNEL"`
	OracleURL           string        `mapstructure:"ORACLE_URL"`
	OracleAPIKey        string        `mapstructure:"ORACLE_API_KEY"`
	OracleTimeout       time.Duration `mapstructure:"ORACLE_TIMEOUT"`
	SurgeThreshold      float64       `mapstructure:"SURGE_THRESHOLD"`
	IsolationPolicy     string        `mapstructure:"ISOLATION_POLICY"`
	IsolationCategories []string      `mapstructure:"ISOLATION_CATEGORIES"`
	QueueTick           time.Duration `mapstructure:"QUEUE_TICK"`
	ICD10CacheSize      int           `mapstructure:"ICD10_CACHE_SIZE"`
}

var defaults = map[string]any{
	"PORT":                 "8000",
	"ENV":                  "development",
	"LOG_LEVEL":            "info",
	"STORE":                StorePostgres,
	"DB_MAX_CONNS":         20,
	"DB_MIN_CONNS":         5,
	"DEFAULT_SITE":         "default",
	"CORS_ORIGINS":         "http://localhost:3000",
	"RATE_LIMIT_RPS":       100,
	"RATE_LIMIT_BURST":     200,
	"REQUEST_TIMEOUT":      "30s",
	"BODY_LIMIT":           "1M",
	"REDIS_CHANNEL":        "patientflow.events",
	"ORACLE_TIMEOUT":       "3s",
	"SURGE_THRESHOLD":      75,
	"ISOLATION_POLICY":     string(eligibility.IsolationExclusive),
	"ISOLATION_CATEGORIES": string(resource.CategoryWard),
	"QUEUE_TICK":           "15s",
	"ICD10_CACHE_SIZE":     4096,
}

var unset = []string{"DATABASE_URL", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "REDIS_URL", "ORACLE_URL", "ORACLE_API_KEY"}

// Load reads .env (if present) and the environment. It does not validate;
// call Validate before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
		v.BindEnv(key)
	}
	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range unset {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.IsolationCategories = splitList(v.GetString("ISOLATION_CATEGORIES"))
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesPostgres reports whether units and queues live in PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.Store == StorePostgres
}

// EligibilityPolicy builds the isolation routing policy.
func (c *Config) EligibilityPolicy() (eligibility.Policy, error) {
	isolation, err := eligibility.ParseIsolationPolicy(c.IsolationPolicy)
	if err != nil {
		return eligibility.Policy{}, err
	}
	p := eligibility.Policy{Isolation: isolation}
	for _, name := range c.IsolationCategories {
		cat, err := resource.ParseCategory(name)
		if err != nil {
			return eligibility.Policy{}, fmt.Errorf("ISOLATION_CATEGORIES: %w", err)
		}
		p.IsolationCategories = append(p.IsolationCategories, cat)
	}
	return p, nil
}

// Validate checks that the configuration is safe to run. Outside
// development a signing key is required so tokens are verified.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE=postgres"))
		}
	case StoreMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store))
	}

	if !c.IsDev() && len(c.AuthSigningKey) < 32 {
		errs = append(errs, fmt.Errorf("AUTH_SIGNING_KEY of at least 32 bytes is required when ENV=%q", c.Env))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if c.SurgeThreshold <= 0 || c.SurgeThreshold > 100 {
		errs = append(errs, fmt.Errorf("SURGE_THRESHOLD must be in (0, 100], got %v", c.SurgeThreshold))
	}
	if c.QueueTick <= 0 {
		errs = append(errs, errors.New("QUEUE_TICK must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.OracleTimeout <= 0 {
		errs = append(errs, errors.New("ORACLE_TIMEOUT must be positive"))
	}
	if c.ICD10CacheSize <= 0 {
		errs = append(errs, errors.New("ICD10_CACHE_SIZE must be positive"))
	}
	if _, err := c.EligibilityPolicy(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
