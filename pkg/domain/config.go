package domain

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the single configuration value supplied at bridge construction.
// Zero fields are filled from DefaultConfig by Normalize.
type Config struct {
	// ObjectCacheSize caps entries per accessor cache.
	ObjectCacheSize int `yaml:"object_cache_size" mapstructure:"object_cache_size"`
	// ModuleCacheSize caps the imported-module cache.
	ModuleCacheSize int `yaml:"module_cache_size" mapstructure:"module_cache_size"`
	// CacheTTL bounds the age of any cached host value.
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	// SweepInterval is the period of the background cache sweep.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	// MaxConcurrentOps gates batch fan-out. Zero means GOMAXPROCS.
	MaxConcurrentOps int `yaml:"max_concurrent_ops" mapstructure:"max_concurrent_ops"`
	// MemoryOptimization enables the background cache sweep. When false,
	// expired entries linger until the next access or an explicit
	// OptimizeMemory call evicts them.
	MemoryOptimization bool `yaml:"memory_optimization" mapstructure:"memory_optimization"`
	// FailureMode is the transaction failure-handling policy.
	FailureMode FailureMode `yaml:"failure_mode" mapstructure:"failure_mode"`
	// PreloadModules are imported during Initialize.
	PreloadModules []string `yaml:"preload_modules" mapstructure:"preload_modules"`
}

// DefaultConfig returns the configuration used when callers pass a zero
// Config.
func DefaultConfig() Config {
	return Config{
		ObjectCacheSize:    4096,
		ModuleCacheSize:    64,
		CacheTTL:           5 * time.Minute,
		SweepInterval:      30 * time.Second,
		MaxConcurrentOps:   runtime.GOMAXPROCS(0),
		MemoryOptimization: true,
		FailureMode:        FailureAutoRollback,
	}
}

// Normalize fills zero fields with defaults and clamps nonsense values.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.ObjectCacheSize <= 0 {
		c.ObjectCacheSize = def.ObjectCacheSize
	}
	if c.ModuleCacheSize <= 0 {
		c.ModuleCacheSize = def.ModuleCacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.MaxConcurrentOps <= 0 {
		c.MaxConcurrentOps = def.MaxConcurrentOps
	}
	return c
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg.Normalize(), nil
}

// ConfigFromMap decodes a dynamic options map (e.g. handed over by a host
// plugin) into a Config. Duration fields accept Go duration strings.
func ConfigFromMap(raw map[string]any) (Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     &cfg,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("failed to decode config map: %w", err)
	}
	return cfg.Normalize(), nil
}
