// Package config loads service settings: defaults, then an optional YAML
// file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string `yaml:"port"`
	APIKey   string `yaml:"api_key"`
	Debug    bool   `yaml:"enable_debug_routes"`
	SkipLoad bool   `yaml:"skip_model_load"`

	Cache      CacheConfig      `yaml:"cache"`
	Generation GenerationConfig `yaml:"generation"`
	HTTP       HTTPConfig       `yaml:"http"`
	Models     ModelsConfig     `yaml:"models"`
}

type CacheConfig struct {
	Backend        string        `yaml:"backend"` // redis | file | memory
	RedisAddr      string        `yaml:"redis_addr"`
	Dir            string        `yaml:"dir"`
	Prefix         string        `yaml:"prefix"`
	MemoryCapacity int           `yaml:"memory_capacity"`
	WriteQueue     int           `yaml:"write_queue"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

type GenerationConfig struct {
	MaxPoints              int           `yaml:"max_points"`
	Timeout                time.Duration `yaml:"timeout"`
	FallbackTimeout        time.Duration `yaml:"fallback_timeout"`
	RateLimitPerMinute     int           `yaml:"rate_limit_per_minute"`
	VRAMOffloadThresholdGB float64       `yaml:"vram_offload_threshold_gb"`
	Workers                int           `yaml:"workers"`
	RenderResolution       int           `yaml:"render_resolution"`
	MaxTextLength          int           `yaml:"max_text_length"`
}

type HTTPConfig struct {
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// ModelsConfig points at the collaborator model servers. An empty URL leaves
// that model unavailable.
type ModelsConfig struct {
	ImageURL     string        `yaml:"image_url"`
	PartsURL     string        `yaml:"parts_url"`
	MeshURL      string        `yaml:"mesh_url"`
	SegmenterURL string        `yaml:"segmenter_url"`
	DeviceURL    string        `yaml:"device_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
}

func Default() Config {
	return Config{
		Port: "8080",
		Cache: CacheConfig{
			Backend:        "memory",
			RedisAddr:      "127.0.0.1:6379",
			Dir:            "./data/shapes",
			Prefix:         "lumen",
			MemoryCapacity: 100,
			WriteQueue:     64,
			WriteTimeout:   5 * time.Second,
		},
		Generation: GenerationConfig{
			MaxPoints:              2048,
			Timeout:                15 * time.Second,
			FallbackTimeout:        15 * time.Second,
			RateLimitPerMinute:     30,
			VRAMOffloadThresholdGB: 18,
			Workers:                4,
			RenderResolution:       512,
			MaxTextLength:          200,
		},
		HTTP: HTTPConfig{
			RateLimitRPS:   5,
			RateLimitBurst: 10,
			RequestTimeout: 30 * time.Second,
			MaxBodyBytes:   16 * 1024,
		},
		Models: ModelsConfig{
			Timeout: 60 * time.Second,
		},
	}
}

// Load reads path (when non-empty) over the defaults, applies the
// environment and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("PORT", &c.Port)
	e.str("API_KEY", &c.APIKey)
	e.boolean("ENABLE_DEBUG_ROUTES", &c.Debug)
	e.boolean("SKIP_MODEL_LOAD", &c.SkipLoad)

	e.str("CACHE_BACKEND", &c.Cache.Backend)
	e.str("REDIS_ADDR", &c.Cache.RedisAddr)
	e.str("CACHE_DIR", &c.Cache.Dir)
	e.str("CACHE_PREFIX", &c.Cache.Prefix)
	e.integer("CACHE_MEMORY_CAPACITY", &c.Cache.MemoryCapacity)
	e.integer("CACHE_WRITE_QUEUE", &c.Cache.WriteQueue)

	e.integer("MAX_POINTS", &c.Generation.MaxPoints)
	e.duration("GENERATION_TIMEOUT", &c.Generation.Timeout)
	e.duration("FALLBACK_TIMEOUT", &c.Generation.FallbackTimeout)
	e.integer("GENERATION_RATE_LIMIT_PER_MINUTE", &c.Generation.RateLimitPerMinute)
	e.float("VRAM_OFFLOAD_THRESHOLD_GB", &c.Generation.VRAMOffloadThresholdGB)
	e.integer("GENERATION_WORKERS", &c.Generation.Workers)
	e.integer("RENDER_RESOLUTION", &c.Generation.RenderResolution)
	e.integer("MAX_REQUEST_TEXT_LENGTH", &c.Generation.MaxTextLength)

	e.float("HTTP_RATE_LIMIT_RPS", &c.HTTP.RateLimitRPS)
	e.integer("HTTP_RATE_LIMIT_BURST", &c.HTTP.RateLimitBurst)

	e.str("IMAGE_MODEL_URL", &c.Models.ImageURL)
	e.str("PARTS_MODEL_URL", &c.Models.PartsURL)
	e.str("MESH_MODEL_URL", &c.Models.MeshURL)
	e.str("SEGMENTER_MODEL_URL", &c.Models.SegmenterURL)
	e.str("DEVICE_URL", &c.Models.DeviceURL)
	e.str("MODEL_API_KEY", &c.Models.APIKey)

	return errors.Join(e.errs...)
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Cache.Backend {
	case "redis", "file", "memory":
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q must be redis, file or memory", c.Cache.Backend))
	}
	if c.Generation.MaxPoints <= 0 {
		errs = append(errs, errors.New("generation.max_points must be positive"))
	}
	if c.Generation.Timeout <= 0 {
		errs = append(errs, errors.New("generation.timeout must be positive"))
	}
	if c.Generation.FallbackTimeout <= 0 {
		errs = append(errs, errors.New("generation.fallback_timeout must be positive"))
	}
	if c.Generation.MaxTextLength <= 0 {
		errs = append(errs, errors.New("generation.max_text_length must be positive"))
	}
	if c.Generation.RenderResolution <= 0 {
		errs = append(errs, errors.New("generation.render_resolution must be positive"))
	}
	if c.Generation.VRAMOffloadThresholdGB < 0 {
		errs = append(errs, errors.New("generation.vram_offload_threshold_gb must not be negative"))
	}
	if c.HTTP.RateLimitRPS < 0 || c.HTTP.RateLimitBurst < 0 {
		errs = append(errs, errors.New("http rate limit must not be negative"))
	}
	return errors.Join(errs...)
}

// OffloadThresholdBytes converts the GB threshold for the orchestrator.
func (g GenerationConfig) OffloadThresholdBytes() uint64 {
	return uint64(g.VRAMOffloadThresholdGB * 1e9)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

// duration accepts Go durations ("15s") or plain seconds ("15").
func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}
