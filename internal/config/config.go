package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to run the incident pipeline, either as
// a gRPC service or from the CLI.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Detectors DetectorsConfig `yaml:"detectors"`
	Rules     RulesConfig     `yaml:"rules"`
	Playbooks PlaybooksConfig `yaml:"playbooks"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// PipelineConfig controls the merge step and the event columns every detector reads.
type PipelineConfig struct {
	MergeFrequency time.Duration `yaml:"mergeFrequency"`
	Concurrency    int           `yaml:"concurrency"`
	Fields         FieldsConfig  `yaml:"fields"`
}

// FieldsConfig names the event table columns.
type FieldsConfig struct {
	Timestamp    string `yaml:"timestamp"`
	Status       string `yaml:"status"`
	SuccessValue string `yaml:"successValue"`
	Amount       string `yaml:"amount"`
	Country      string `yaml:"country"`
	Latency      string `yaml:"latency"`
}

// DetectorsConfig holds one block per detector variant.
type DetectorsConfig struct {
	EWMA           DetectorConfig `yaml:"ewma"`
	SeasonalZScore DetectorConfig `yaml:"seasonalZScore"`
	Latency        DetectorConfig `yaml:"latency"`
	Revenue        DetectorConfig `yaml:"revenue"`
	Geo            DetectorConfig `yaml:"geo"`
}

// DetectorConfig is the recognised option set for a detector. Each variant
// reads only the options it needs.
type DetectorConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Frequency  time.Duration `yaml:"frequency"`
	Window     int           `yaml:"window"`
	Span       int           `yaml:"span"`
	K          float64       `yaml:"k"`
	ZThresh    float64       `yaml:"zThresh"`
	MinFailed  int           `yaml:"minFailed"`
	MinCount   int           `yaml:"minCount"`
	MinRevenue float64       `yaml:"minRevenue"`
	Factor     float64       `yaml:"factor"`
	Threshold  int           `yaml:"threshold"`
}

// RulesConfig controls rule-pack loading for the root-cause engine.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// PlaybooksConfig points at the remediation table.
type PlaybooksConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Redis/Valkey-backed caching of pipeline reports.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	ResultTTL    time.Duration `yaml:"resultTTL"`
	// LockTTL bounds how long one run holds the lock for an identical batch.
	LockTTL time.Duration `yaml:"lockTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_INCIDENTS_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Pipeline: PipelineConfig{
			MergeFrequency: 5 * time.Minute,
			Concurrency:    0,
			Fields: FieldsConfig{
				Timestamp:    "timestamp",
				Status:       "status",
				SuccessValue: "success",
				Amount:       "amount",
				Country:      "country",
				Latency:      "latency_ms",
			},
		},
		Detectors: DetectorsConfig{
			EWMA: DetectorConfig{
				Enabled:   true,
				Frequency: 5 * time.Minute,
				Span:      6,
				K:         3,
				MinFailed: 5,
			},
			SeasonalZScore: DetectorConfig{
				Enabled:   true,
				Frequency: 5 * time.Minute,
				Window:    6,
				ZThresh:   1,
				MinFailed: 5,
			},
			Latency: DetectorConfig{
				Enabled:   true,
				Frequency: 5 * time.Minute,
				Window:    6,
				Factor:    2,
				MinCount:  10,
			},
			Revenue: DetectorConfig{
				Enabled:    true,
				Frequency:  time.Hour,
				Window:     6,
				Factor:     0.7,
				MinRevenue: 1,
			},
			Geo: DetectorConfig{
				Enabled:   true,
				Frequency: 5 * time.Minute,
				Threshold: 5,
			},
		},
		Rules:     RulesConfig{Path: "configs/rules/default.yaml"},
		Playbooks: PlaybooksConfig{Path: "configs/playbooks/default.yaml"},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			ResultTTL:    10 * time.Minute,
			LockTTL:      30 * time.Second,
		},
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.MergeFrequency <= 0 {
		return fmt.Errorf("pipeline.mergeFrequency must be positive")
	}
	if c.Pipeline.Fields.Timestamp == "" {
		return fmt.Errorf("pipeline.fields.timestamp is required")
	}
	detectors := map[string]DetectorConfig{
		"ewma":           c.Detectors.EWMA,
		"seasonalZScore": c.Detectors.SeasonalZScore,
		"latency":        c.Detectors.Latency,
		"revenue":        c.Detectors.Revenue,
		"geo":            c.Detectors.Geo,
	}
	for name, d := range detectors {
		if d.Enabled && d.Frequency <= 0 {
			return fmt.Errorf("detectors.%s.frequency must be positive", name)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_INCIDENTS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_MERGE_FREQUENCY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.MergeFrequency = d
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Concurrency = n
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_PLAYBOOKS_PATH"); v != "" {
		cfg.Playbooks.Path = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_RESULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ResultTTL = d
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENTS_CACHE_LOCK_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.LockTTL = d
		}
	}
}
