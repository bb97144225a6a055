// Package config loads service configuration: built-in defaults, then an
// optional YAML file, then FEATAGG_ environment variables.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mohammed-shakir/feature-aggregator/internal/crs"
	h3mapper "github.com/mohammed-shakir/feature-aggregator/internal/mapper/h3"
)

const EnvPrefix = "FEATAGG_"

type Config struct {
	Addr     string         `koanf:"addr"`
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Dataset  DatasetConfig  `koanf:"dataset"`
	CRS      CRSConfig      `koanf:"crs"`
	Centroid CentroidConfig `koanf:"centroid"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Events   EventsConfig   `koanf:"events"`
}

type ServerConfig struct {
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     string        `koanf:"cors_origins"`
}

type LogConfig struct {
	Level   string `koanf:"level"`
	Console bool   `koanf:"console"`
	SampleN int    `koanf:"sample_n"`
}

type DatasetConfig struct {
	// Path serves every layer without an entry in Layers.
	Path     string        `koanf:"path"`
	Layers   string        `koanf:"layers"` // name=path,name2=path2
	Timeout  time.Duration `koanf:"timeout"`
	MaxBytes int64         `koanf:"max_bytes"`
}

type CRSConfig struct {
	Metric    string `koanf:"metric"`
	Display   string `koanf:"display"`
	CacheSize int    `koanf:"cache_size"`
}

type CentroidConfig struct {
	// H3Res < 0 disables cell enrichment.
	H3Res int `koanf:"h3_res"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type EventsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Brokers   string `koanf:"brokers"`
	Topic     string `koanf:"topic"`
	QueueSize int    `koanf:"queue_size"`
}

func defaults() map[string]any {
	return map[string]any{
		"addr":                    ":8090",
		"server.read_timeout":     "15s",
		"server.write_timeout":    "60s",
		"server.shutdown_timeout": "10s",
		"server.cors_origins":     "*",
		"log.level":               "info",
		"log.console":             false,
		"log.sample_n":            0,
		"dataset.path":            "~/Downloads/upt.json",
		"dataset.layers":          "",
		"dataset.timeout":         "30s",
		"dataset.max_bytes":       int64(512 << 20),
		"crs.metric":              "EPSG:31983",
		"crs.display":             "EPSG:4326",
		"crs.cache_size":          crs.DefaultCacheSize,
		"centroid.h3_res":         8,
		"metrics.enabled":         true,
		"metrics.path":            "/metrics",
		"events.enabled":          false,
		"events.brokers":          "localhost:9092",
		"events.topic":            "feature-queries",
		"events.queue_size":       1024,
	}
}

// Load builds the configuration. An empty path skips the file layer.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return Config{}, fmt.Errorf("config default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// FEATAGG_DATASET__MAX_BYTES overrides dataset.max_bytes
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and normalizes CRS identifiers.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}

	metric, err := crs.Parse(c.CRS.Metric)
	if err != nil {
		errs = append(errs, fmt.Errorf("crs.metric: %w", err))
	} else if !metric.IsProjected() {
		errs = append(errs, fmt.Errorf("crs.metric %s must be a projected crs", metric.ID()))
	} else {
		c.CRS.Metric = metric.ID()
	}
	if display, err := crs.Parse(c.CRS.Display); err != nil {
		errs = append(errs, fmt.Errorf("crs.display: %w", err))
	} else {
		c.CRS.Display = display.ID()
	}

	if c.Centroid.H3Res >= 0 {
		if err := h3mapper.ValidateRes(c.Centroid.H3Res); err != nil {
			errs = append(errs, fmt.Errorf("centroid.h3_res: %w", err))
		}
	}
	if c.Dataset.Path == "" && c.Dataset.Layers == "" {
		errs = append(errs, errors.New("dataset.path or dataset.layers is required"))
	}
	if c.Dataset.Timeout < 0 {
		errs = append(errs, errors.New("dataset.timeout must not be negative"))
	}
	if _, err := parseLayers(c.Dataset.Layers); err != nil {
		errs = append(errs, err)
	}
	for name, d := range map[string]time.Duration{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Events.Enabled {
		if len(c.Events.BrokerList()) == 0 {
			errs = append(errs, errors.New("events.brokers is required when events are enabled"))
		}
		if c.Events.Topic == "" {
			errs = append(errs, errors.New("events.topic is required when events are enabled"))
		}
	}
	return errors.Join(errs...)
}

// LayerPaths returns the explicit layer to dataset mapping.
func (d DatasetConfig) LayerPaths() map[string]string {
	m, _ := parseLayers(d.Layers)
	return m
}

// PathFor resolves a layer to its dataset, falling back to Path.
func (d DatasetConfig) PathFor(layer string) string {
	if p, ok := d.LayerPaths()[layer]; ok {
		return p
	}
	return d.Path
}

// AllPaths lists every configured dataset once, sorted.
func (d DatasetConfig) AllPaths() []string {
	seen := map[string]struct{}{}
	if d.Path != "" {
		seen[d.Path] = struct{}{}
	}
	for _, p := range d.LayerPaths() {
		seen[p] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (e EventsConfig) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (s ServerConfig) CORSOriginList() []string {
	var out []string
	for o := range strings.SplitSeq(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func parseLayers(s string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, path, ok := strings.Cut(part, "=")
		name, path = strings.TrimSpace(name), strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("dataset.layers: bad entry %q (want name=path)", part)
		}
		out[name] = path
	}
	return out, nil
}
