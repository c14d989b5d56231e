// Package config loads simulator settings with precedence ENV > file > defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cxd309/railsim/internal/log"
)

var (
	// ErrUnknownConfigField classifies strict YAML parse failures caused by unknown keys.
	ErrUnknownConfigField = errors.New("unknown config field")
	// ErrInvalidConfig is wrapped by every Validate failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RAILSIM_"

// Config holds the simulation parameters. Times are simulated seconds,
// distances metres.
type Config struct {
	TimeStep          float64 `yaml:"time_step"`
	SightDistance     float64 `yaml:"sight_distance"`
	MaxSimulatedTime  float64 `yaml:"max_simulated_time"`
	StallPollInterval float64 `yaml:"stall_poll_interval"`
	LogLevel          string  `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TimeStep:          1,
		SightDistance:     400,
		MaxSimulatedTime:  24 * 3600,
		StallPollInterval: 10,
		LogLevel:          "info",
	}
}

// Loader applies defaults, an optional YAML file and environment overrides.
type Loader struct {
	configPath string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader reading configPath (may be empty) and the process environment.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath, lookupEnv: os.LookupEnv}
}

// Load returns the validated configuration.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes the YAML file over cfg, rejecting unknown fields.
func (l *Loader) loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- the config path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *Config) {
	cfg.TimeStep = l.envFloat("TIME_STEP", cfg.TimeStep)
	cfg.SightDistance = l.envFloat("SIGHT_DISTANCE", cfg.SightDistance)
	cfg.MaxSimulatedTime = l.envFloat("MAX_SIMULATED_TIME", cfg.MaxSimulatedTime)
	cfg.StallPollInterval = l.envFloat("STALL_POLL_INTERVAL", cfg.StallPollInterval)
	if v, ok := l.lookupEnv(EnvPrefix + "LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
}

// envFloat reads EnvPrefix+key, keeping current when unset, empty or malformed.
func (l *Loader) envFloat(key string, current float64) float64 {
	logger := log.WithComponent("config")
	key = EnvPrefix + key
	v, ok := l.lookupEnv(key)
	if !ok || v == "" {
		return current
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Float64("default", current).
			Msg("invalid float in environment variable, using default")
		return current
	}
	logger.Debug().
		Str("key", key).
		Float64("value", f).
		Str("source", "environment").
		Msg("using environment variable")
	return f
}

// Validate checks that every parameter is usable by the simulator.
func (c Config) Validate() error {
	positive := []struct {
		name string
		v    float64
	}{
		{"time_step", c.TimeStep},
		{"sight_distance", c.SightDistance},
		{"max_simulated_time", c.MaxSimulatedTime},
		{"stall_poll_interval", c.StallPollInterval},
	}
	for _, p := range positive {
		if !(p.v > 0) || math.IsInf(p.v, 0) {
			return fmt.Errorf("%w: %s must be a positive number, got %v", ErrInvalidConfig, p.name, p.v)
		}
	}
	return nil
}
