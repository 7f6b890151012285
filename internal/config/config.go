package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/cfa/internal/progress"
	"github.com/ligustah/cfa/pkg/filecache"
	"github.com/ligustah/cfa/pkg/objstore"
)

// Config defines configuration for the cfa tools.
type Config struct {
	Hosts      map[string]HostConfig `yaml:"hosts"`
	Workers    int                   `yaml:"workers"`
	CFAVersion string                `yaml:"cfa_version"`
	Progress   bool                  `yaml:"progress"`
	Pool       PoolConfig            `yaml:"pool"`
	Stream     StreamConfig          `yaml:"stream"`
	Cache      CacheConfig           `yaml:"cache"`
}

// HostConfig describes one object-store host alias.
type HostConfig struct {
	URL       string `yaml:"url"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// PoolConfig bounds sessions per endpoint.
type PoolConfig struct {
	MaxSessions int `yaml:"max_sessions"`
}

// StreamConfig tunes object streams.
type StreamConfig struct {
	PartSize  int64 `yaml:"part_size"`
	ReadAhead int64 `yaml:"read_ahead"`
}

// CacheConfig configures the local file cache.
type CacheConfig struct {
	Dir      string `yaml:"dir"`
	MaxSize  int64  `yaml:"max_size"`
	Diskless bool   `yaml:"diskless"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Hosts:      map[string]HostConfig{},
		Workers:    8,
		CFAVersion: "0.4",
		Pool:       PoolConfig{MaxSessions: 16},
		Stream: StreamConfig{
			PartSize:  50 * 1024 * 1024, // 50MiB
			ReadAhead: 1024 * 1024,
		},
		Cache: CacheConfig{
			Dir:     filepath.Join(os.TempDir(), "cfa-cache"),
			MaxSize: 10 * 1024 * 1024 * 1024,
		},
	}
}

// DefaultPath is the configuration file read when no other is named.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cfa.yaml")
}

// yamlConfig is used for YAML unmarshaling with string sizes.
type yamlConfig struct {
	Hosts      map[string]HostConfig `yaml:"hosts"`
	Workers    int                   `yaml:"workers"`
	CFAVersion string                `yaml:"cfa_version"`
	Progress   bool                  `yaml:"progress"`
	Pool       PoolConfig            `yaml:"pool"`
	Stream     struct {
		PartSize  string `yaml:"part_size"`
		ReadAhead string `yaml:"read_ahead"`
	} `yaml:"stream"`
	Cache struct {
		Dir      string `yaml:"dir"`
		MaxSize  string `yaml:"max_size"`
		Diskless bool   `yaml:"diskless"`
	} `yaml:"cache"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	for alias, h := range yc.Hosts {
		cfg.Hosts[alias] = h
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.CFAVersion != "" {
		cfg.CFAVersion = yc.CFAVersion
	}
	cfg.Progress = yc.Progress
	if yc.Pool.MaxSessions != 0 {
		cfg.Pool.MaxSessions = yc.Pool.MaxSessions
	}
	if err := parseSize(yc.Stream.PartSize, "stream.part_size", &cfg.Stream.PartSize); err != nil {
		return Config{}, err
	}
	if err := parseSize(yc.Stream.ReadAhead, "stream.read_ahead", &cfg.Stream.ReadAhead); err != nil {
		return Config{}, err
	}
	if yc.Cache.Dir != "" {
		cfg.Cache.Dir = yc.Cache.Dir
	}
	if err := parseSize(yc.Cache.MaxSize, "cache.max_size", &cfg.Cache.MaxSize); err != nil {
		return Config{}, err
	}
	cfg.Cache.Diskless = yc.Cache.Diskless

	return cfg, nil
}

func parseSize(s, name string, dst *int64) error {
	if s == "" {
		return nil
	}
	size, err := progress.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = size
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CFA_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("CFA_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CFA_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("CFA_MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CFA_MAX_SESSIONS: %w", err)
		}
		c.Pool.MaxSessions = n
	}
	for env, dst := range map[string]*int64{
		"CFA_PART_SIZE":      &c.Stream.PartSize,
		"CFA_READ_AHEAD":     &c.Stream.ReadAhead,
		"CFA_CACHE_MAX_SIZE": &c.Cache.MaxSize,
	} {
		if err := parseSize(os.Getenv(env), env, dst); err != nil {
			return err
		}
	}
	if v := os.Getenv("CFA_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("CFA_DISKLESS"); v != "" {
		c.Cache.Diskless = v == "true" || v == "1"
	}
	if v := os.Getenv("CFA_VERSION"); v != "" {
		c.CFAVersion = v
	}
	if v := os.Getenv("CFA_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.Pool.MaxSessions <= 0 {
		return errors.New("config: pool.max_sessions must be positive")
	}
	if c.Stream.PartSize <= 0 {
		return errors.New("config: stream.part_size must be positive")
	}
	if c.Stream.ReadAhead < 0 {
		return errors.New("config: stream.read_ahead must not be negative")
	}
	if c.Cache.MaxSize < 0 {
		return errors.New("config: cache.max_size must not be negative")
	}
	if c.CFAVersion != "0.4" && c.CFAVersion != "0.5" {
		return fmt.Errorf("config: cfa_version %q is not 0.4 or 0.5", c.CFAVersion)
	}
	for alias, h := range c.Hosts {
		if h.URL == "" {
			return fmt.Errorf("config: host %q has no url", alias)
		}
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if len(override.Hosts) > 0 {
		hosts := make(map[string]HostConfig, len(c.Hosts)+len(override.Hosts))
		for k, v := range c.Hosts {
			hosts[k] = v
		}
		for k, v := range override.Hosts {
			hosts[k] = v
		}
		c.Hosts = hosts
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.CFAVersion != "" {
		c.CFAVersion = override.CFAVersion
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Pool.MaxSessions != 0 {
		c.Pool.MaxSessions = override.Pool.MaxSessions
	}
	if override.Stream.PartSize != 0 {
		c.Stream.PartSize = override.Stream.PartSize
	}
	if override.Stream.ReadAhead != 0 {
		c.Stream.ReadAhead = override.Stream.ReadAhead
	}
	if override.Cache.Dir != "" {
		c.Cache.Dir = override.Cache.Dir
	}
	if override.Cache.MaxSize != 0 {
		c.Cache.MaxSize = override.Cache.MaxSize
	}
	if override.Cache.Diskless {
		c.Cache.Diskless = override.Cache.Diskless
	}
	return c
}

// PoolOptions converts the host and pool settings for objstore.NewPool.
func (c *Config) PoolOptions() objstore.PoolOptions {
	eps := make(map[string]objstore.Endpoint, len(c.Hosts))
	for alias, h := range c.Hosts {
		eps[alias] = objstore.Endpoint{
			Host:      alias,
			URL:       h.URL,
			Region:    h.Region,
			AccessKey: h.AccessKey,
			SecretKey: h.SecretKey,
			PathStyle: h.PathStyle,
		}
	}
	return objstore.PoolOptions{MaxSessionsPerKey: c.Pool.MaxSessions, Endpoints: eps}
}

// StreamOptions converts the stream settings.
func (c *Config) StreamOptions() *objstore.StreamOptions {
	return &objstore.StreamOptions{PartSize: int(c.Stream.PartSize), ReadAhead: int(c.Stream.ReadAhead)}
}

// CacheOptions converts the cache settings for filecache.New.
func (c *Config) CacheOptions() filecache.Options {
	return filecache.Options{Dir: c.Cache.Dir, MaxSize: c.Cache.MaxSize, Stream: c.StreamOptions()}
}
