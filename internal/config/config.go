// Package config holds the engine and infrastructure settings of the portal:
// defaults, overlaid by an optional YAML file, overlaid by PORTAL_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	SampleN int    `yaml:"sampleN"`
}

// ClickConfig tunes click resolution. Zero values select the engine defaults.
type ClickConfig struct {
	Margin        float64 `yaml:"margin"`
	DragThreshold float64 `yaml:"dragThreshold"`
	PickTolerance float64 `yaml:"pickTolerance"`
}

type FetchConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxBytes    int64         `yaml:"maxBytes"`
	LRUSize     int           `yaml:"lruSize"`
	CacheTTL    time.Duration `yaml:"cacheTTL"`
	RedisAddr   string        `yaml:"redisAddr"`
	RedisPrefix string        `yaml:"redisPrefix"`
	OpTimeout   time.Duration `yaml:"opTimeout"`
}

type CatalogConfig struct {
	// Path is the DuckDB file; empty means <dataDir>/duckdb/catalog.duckdb.
	Path string `yaml:"path"`
	// Seed is a YAML catalog loaded at start-up.
	Seed string `yaml:"seed"`
	// Extensions are DuckDB extensions installed and loaded on open.
	Extensions []string `yaml:"extensions"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Config struct {
	DataDir string        `yaml:"dataDir"`
	Log     LogConfig     `yaml:"log"`
	Click   ClickConfig   `yaml:"click"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Catalog CatalogConfig `yaml:"catalog"`
	Metrics MetricsConfig `yaml:"metrics"`
}

func Default() Config {
	return Config{
		DataDir: ".data",
		Log:     LogConfig{Level: "info"},
		Click:   ClickConfig{Margin: 0.05, DragThreshold: 2, PickTolerance: 3},
		Fetch: FetchConfig{
			Timeout:     30 * time.Second,
			MaxBytes:    32 << 20,
			LRUSize:     256,
			CacheTTL:    5 * time.Minute,
			RedisPrefix: "portal:fetch:",
			OpTimeout:   250 * time.Millisecond,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads path (if not empty) over the defaults and applies the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = filepath.Join(cfg.DataDir, "duckdb", "catalog.duckdb")
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.DataDir = getenv("PORTAL_DATA_DIR", c.DataDir)
	c.Log.Level = getenv("PORTAL_LOG_LEVEL", c.Log.Level)
	c.Log.Console = getbool("PORTAL_LOG_CONSOLE", c.Log.Console)
	c.Log.SampleN = getint("PORTAL_LOG_SAMPLE_N", c.Log.SampleN)
	c.Click.Margin = getfloat("PORTAL_CLICK_MARGIN", c.Click.Margin)
	c.Click.DragThreshold = getfloat("PORTAL_CLICK_DRAG_THRESHOLD", c.Click.DragThreshold)
	c.Click.PickTolerance = getfloat("PORTAL_CLICK_PICK_TOLERANCE", c.Click.PickTolerance)
	c.Fetch.Timeout = getduration("PORTAL_FETCH_TIMEOUT", c.Fetch.Timeout)
	c.Fetch.LRUSize = getint("PORTAL_FETCH_LRU_SIZE", c.Fetch.LRUSize)
	c.Fetch.CacheTTL = getduration("PORTAL_FETCH_CACHE_TTL", c.Fetch.CacheTTL)
	c.Fetch.RedisAddr = getenv("PORTAL_REDIS_ADDR", c.Fetch.RedisAddr)
	c.Catalog.Path = getenv("PORTAL_CATALOG_PATH", c.Catalog.Path)
	c.Catalog.Seed = getenv("PORTAL_CATALOG_SEED", c.Catalog.Seed)
	c.Metrics.Enabled = getbool("PORTAL_METRICS_ENABLED", c.Metrics.Enabled)
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Click.Margin < 0:
		return fmt.Errorf("click.margin must not be negative, got %v", c.Click.Margin)
	case c.Click.DragThreshold < 0:
		return fmt.Errorf("click.dragThreshold must not be negative, got %v", c.Click.DragThreshold)
	case c.Fetch.LRUSize < 0:
		return fmt.Errorf("fetch.lruSize must not be negative, got %d", c.Fetch.LRUSize)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
