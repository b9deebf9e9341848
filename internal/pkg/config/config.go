// Package config loads gateway configuration from YAML and environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Admission AdmissionConfig `koanf:"admission"`
	Storage   StorageConfig   `koanf:"storage"`
	Redis     RedisConfig     `koanf:"redis"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// AdmissionConfig is the full tuning surface of the admission middleware.
type AdmissionConfig struct {
	Categories   map[string]CategoryLimits `koanf:"categories"`
	ExemptPaths  []string                  `koanf:"exempt_paths"`
	AIPaths      []string                  `koanf:"ai_paths"`
	TrustedProxy bool                      `koanf:"trusted_proxy"`
	// TrustedProxies are the peer addresses whose forwarded headers are
	// honored when trusted_proxy is enabled. Empty means any direct peer.
	TrustedProxies []string `koanf:"trusted_proxies"`

	Burst      BurstConfig      `koanf:"burst"`
	Reputation ReputationConfig `koanf:"reputation"`
	Block      BlockConfig      `koanf:"block"`

	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type CategoryLimits struct {
	LimitPerMinute int `koanf:"limit_per_minute"`
	LimitPerHour   int `koanf:"limit_per_hour"`
}

type BurstConfig struct {
	Threshold     int           `koanf:"threshold"`
	WindowSeconds time.Duration `koanf:"window_seconds"`
}

type ReputationConfig struct {
	BlockThreshold   int           `koanf:"block_threshold"`
	Floor            int           `koanf:"floor"`
	RecoveryInterval time.Duration `koanf:"recovery_interval"`

	RateLimitPenalty  int `koanf:"rate_limit_penalty"`
	BurstPenalty      int `koanf:"burst_penalty"`
	PatternPenaltyMin int `koanf:"pattern_penalty_min"`
	PatternPenaltyMax int `koanf:"pattern_penalty_max"`
}

type BlockConfig struct {
	BaseDuration      time.Duration `koanf:"base_duration"`
	DurationCap       time.Duration `koanf:"duration_cap"`
	ObservationPeriod time.Duration `koanf:"observation_period"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml (if present) and RAMPART_* environment variables,
// applies defaults, and validates the result.
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars and defaults
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Environment variables override file config
	if err := k.Load(env.Provider("RAMPART_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "RAMPART_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Redis.Password = substituteEnvVars(cfg.Redis.Password)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("server.request_timeout") {
		k.Set("server.request_timeout", "30s")
	}
	if !k.Exists("server.shutdown_timeout") {
		k.Set("server.shutdown_timeout", "30s")
	}

	if !k.Exists("admission.categories.general.limit_per_minute") {
		k.Set("admission.categories.general.limit_per_minute", 60)
	}
	if !k.Exists("admission.categories.general.limit_per_hour") {
		k.Set("admission.categories.general.limit_per_hour", 1000)
	}
	if !k.Exists("admission.categories.ai.limit_per_minute") {
		k.Set("admission.categories.ai.limit_per_minute", 30)
	}
	if !k.Exists("admission.categories.ai.limit_per_hour") {
		k.Set("admission.categories.ai.limit_per_hour", 500)
	}

	if !k.Exists("admission.exempt_paths") {
		k.Set("admission.exempt_paths", []string{
			"/health", "/healthz", "/ready", "/metrics", "/docs", "/static", "/favicon.ico",
		})
	}
	if !k.Exists("admission.ai_paths") {
		k.Set("admission.ai_paths", []string{
			"/api/ai", "/v1/chat", "/v1/messages", "/v1/completions", "/v1/embeddings",
		})
	}

	if !k.Exists("admission.burst.threshold") {
		k.Set("admission.burst.threshold", 20)
	}
	if !k.Exists("admission.burst.window_seconds") {
		k.Set("admission.burst.window_seconds", "10s")
	}

	if !k.Exists("admission.reputation.block_threshold") {
		k.Set("admission.reputation.block_threshold", -50)
	}
	if !k.Exists("admission.reputation.floor") {
		k.Set("admission.reputation.floor", -100)
	}
	if !k.Exists("admission.reputation.recovery_interval") {
		k.Set("admission.reputation.recovery_interval", "5m")
	}
	if !k.Exists("admission.reputation.rate_limit_penalty") {
		k.Set("admission.reputation.rate_limit_penalty", -5)
	}
	if !k.Exists("admission.reputation.burst_penalty") {
		k.Set("admission.reputation.burst_penalty", -20)
	}
	if !k.Exists("admission.reputation.pattern_penalty_min") {
		k.Set("admission.reputation.pattern_penalty_min", -2)
	}
	if !k.Exists("admission.reputation.pattern_penalty_max") {
		k.Set("admission.reputation.pattern_penalty_max", -5)
	}

	if !k.Exists("admission.block.base_duration") {
		k.Set("admission.block.base_duration", "5m")
	}
	if !k.Exists("admission.block.duration_cap") {
		k.Set("admission.block.duration_cap", "24h")
	}
	if !k.Exists("admission.block.observation_period") {
		k.Set("admission.block.observation_period", "1h")
	}

	if !k.Exists("admission.sweep_interval") {
		k.Set("admission.sweep_interval", "60s")
	}

	if !k.Exists("storage.type") {
		k.Set("storage.type", "none")
	}
	if !k.Exists("storage.sqlite.path") {
		k.Set("storage.sqlite.path", "./data/rampart.db")
	}
	if !k.Exists("redis.addr") {
		k.Set("redis.addr", "localhost:6379")
	}
}

func (c *Config) validate() error {
	for name, limits := range c.Admission.Categories {
		if limits.LimitPerMinute <= 0 || limits.LimitPerHour <= 0 {
			return fmt.Errorf("category %q: limits must be positive", name)
		}
		if limits.LimitPerMinute > limits.LimitPerHour {
			return fmt.Errorf("category %q: per-minute limit exceeds per-hour limit", name)
		}
	}
	if c.Admission.Burst.Threshold <= 0 {
		return fmt.Errorf("burst threshold must be positive")
	}
	if c.Admission.Reputation.BlockThreshold >= 0 {
		return fmt.Errorf("reputation block threshold must be negative")
	}
	if c.Admission.Reputation.Floor > c.Admission.Reputation.BlockThreshold {
		return fmt.Errorf("reputation floor must be at or below the block threshold")
	}
	if c.Admission.Block.BaseDuration <= 0 || c.Admission.Block.DurationCap < c.Admission.Block.BaseDuration {
		return fmt.Errorf("block durations misconfigured")
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
