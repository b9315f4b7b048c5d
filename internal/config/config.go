package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/wetdry-service/internal/models"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	ClimateAPIKey     string
	ClimateAPIURL     string
	ClimateAPITimeout time.Duration
	ClimateDataLag    time.Duration // requests ending after today minus this are rejected

	RequestTimeout time.Duration
	MaxRangeDays   int
	CacheTTL       time.Duration
	CacheBackend   string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration
	DegradedErrorPct        int // /health reports degraded above this error rate

	ZoneGridPath string
	SoilGridPath string // empty disables soil lookup

	AccumulatorWorkers int

	HistoryEnabled bool
	HistoryPath    string

	EventsEnabled bool
	KafkaBrokers  []string
	EventsTopic   string

	ShutdownTimeout time.Duration

	TrafficWindow time.Duration
	TrackedSites  []models.Site

	WarmingEnabled  bool
	WarmingInterval time.Duration
	WarmingLookback time.Duration
	WarmingLag      time.Duration
	WarmingWorkers  int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	ClimateAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
		DataLag string `yaml:"data_lag"`
	} `yaml:"climate_api"`

	Request struct {
		Timeout      string `yaml:"timeout"`
		MaxRangeDays int    `yaml:"max_range_days"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts        int     `yaml:"retry_max_attempts"`
		RetryBaseDelay          string  `yaml:"retry_base_delay"`
		RetryMaxDelay           string  `yaml:"retry_max_delay"`
		RateLimitRPS            int     `yaml:"rate_limit_rps"`
		RateLimitBurst          int     `yaml:"rate_limit_burst"`
		BreakerFailureThreshold int     `yaml:"breaker_failure_threshold"`
		BreakerSuccessThreshold int     `yaml:"breaker_success_threshold"`
		BreakerTimeout          string  `yaml:"breaker_timeout"`
		DegradedErrorPct        int     `yaml:"degraded_error_pct"`
	} `yaml:"reliability"`

	Lookup struct {
		ZoneGrid string `yaml:"zone_grid"`
		SoilGrid string `yaml:"soil_grid"`
	} `yaml:"lookup"`

	Accumulator struct {
		Workers int `yaml:"workers"`
	} `yaml:"accumulator"`

	History struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"history"`

	Events struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"events"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Metrics struct {
		TrafficWindow string        `yaml:"traffic_window"`
		TrackedSites  []models.Site `yaml:"tracked_sites"`
	} `yaml:"metrics"`

	Warming struct {
		Enabled  bool   `yaml:"enabled"`
		Interval string `yaml:"interval"`
		Lookback string `yaml:"lookback"`
		Lag      string `yaml:"lag"`
		Workers  int    `yaml:"workers"`
	} `yaml:"warming"`
}

type secretsFile struct {
	ClimateAPIKey string `yaml:"climate_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and the optional
// config/secrets.yaml. The API key comes from CLIMATE_API_KEY env or the secrets file and
// may be empty for the free archive tier. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.ClimateAPIKey, err = loadAPIKey(cwd)
	if err != nil {
		return nil, err
	}

	cfg.ClimateAPIURL = strings.TrimSpace(os.Getenv("CLIMATE_API_URL"))
	if cfg.ClimateAPIURL == "" {
		cfg.ClimateAPIURL = fc.ClimateAPI.URL
	}
	if cfg.ClimateAPIURL == "" {
		cfg.ClimateAPIURL = "https://archive-api.open-meteo.com/v1/archive"
	}
	cfg.ClimateAPITimeout = parseDurationOrZero(fc.ClimateAPI.Timeout, 5*time.Second)
	cfg.ClimateDataLag = parseDurationOrZero(fc.ClimateAPI.DataLag, 5*24*time.Hour)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)
	cfg.MaxRangeDays = positiveOr(fc.Request.MaxRangeDays, 366)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 24*time.Hour)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)

	cfg.RetryAttempts = positiveOr(fc.Reliability.RetryMaxAttempts, 3)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 5*time.Second)
	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 20)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 40)
	cfg.BreakerFailureThreshold = positiveOr(fc.Reliability.BreakerFailureThreshold, 5)
	cfg.BreakerSuccessThreshold = positiveOr(fc.Reliability.BreakerSuccessThreshold, 1)
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)
	cfg.DegradedErrorPct = fc.Reliability.DegradedErrorPct
	if cfg.DegradedErrorPct == 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.ZoneGridPath = strings.TrimSpace(fc.Lookup.ZoneGrid)
	cfg.SoilGridPath = strings.TrimSpace(fc.Lookup.SoilGrid)

	cfg.AccumulatorWorkers = positiveOr(fc.Accumulator.Workers, 8)

	cfg.HistoryEnabled = fc.History.Enabled
	cfg.HistoryPath = fc.History.Path
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = "data/history.db"
	}

	cfg.EventsEnabled = fc.Events.Enabled
	cfg.KafkaBrokers = fc.Events.Brokers
	if env := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); env != "" {
		cfg.KafkaBrokers = splitList(env)
	}
	cfg.EventsTopic = fc.Events.Topic
	if cfg.EventsTopic == "" {
		cfg.EventsTopic = "wetdry.decisions"
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.TrafficWindow = parseDuration(fc.Metrics.TrafficWindow, 60*time.Second)
	cfg.TrackedSites = fc.Metrics.TrackedSites

	cfg.WarmingEnabled = fc.Warming.Enabled
	cfg.WarmingInterval = parseDuration(fc.Warming.Interval, 6*time.Hour)
	cfg.WarmingLookback = parseDuration(fc.Warming.Lookback, 30*24*time.Hour)
	cfg.WarmingLag = parseDurationOrZero(fc.Warming.Lag, 5*24*time.Hour)
	cfg.WarmingWorkers = positiveOr(fc.Warming.Workers, 4)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAPIKey prefers CLIMATE_API_KEY and falls back to config/secrets.yaml.
func loadAPIKey(cwd string) (string, error) {
	if key := os.Getenv("CLIMATE_API_KEY"); key != "" {
		return key, nil
	}
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	data, err := os.ReadFile(secretsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return sec.ClimateAPIKey, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func positiveOr(v, defaultVal int) int {
	if v <= 0 {
		return defaultVal
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validate performs post-load validation of configuration values.
// RequestTimeout is raised above ClimateAPITimeout when needed.
func validate(cfg *Config) error {
	if cfg.ClimateAPITimeout <= 0 {
		return fmt.Errorf("climate_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.ClimateAPITimeout {
		cfg.RequestTimeout = cfg.ClimateAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.DegradedErrorPct < 0 || cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("reliability.degraded_error_pct must be within [0, 100], got %d", cfg.DegradedErrorPct)
	}
	if cfg.ZoneGridPath == "" {
		return fmt.Errorf("lookup.zone_grid is required")
	}
	if cfg.EventsEnabled && len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("events.brokers required when events are enabled (or set KAFKA_BROKERS)")
	}
	if cfg.ClimateDataLag < 0 {
		return fmt.Errorf("climate_api.data_lag must not be negative")
	}
	if cfg.WarmingLag < 0 {
		return fmt.Errorf("warming.lag must not be negative")
	}
	for i, s := range cfg.TrackedSites {
		if s.Name == "" {
			return fmt.Errorf("metrics.tracked_sites[%d]: name is required", i)
		}
	}
	return nil
}
