// Package config loads the engine's YAML configuration with defaults and
// environment overrides, plus the separate metric-parameters file.
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

// Config captures the settings required to boot the alerts engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Detection DetectionConfig `yaml:"detection"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// WarehouseConfig configures the SQL warehouse the metric queries run against
// and the tables the run output is written back to.
type WarehouseConfig struct {
	Driver        string        `yaml:"driver"`
	DSN           string        `yaml:"dsn"`
	AlertsTable   string        `yaml:"alertsTable"`
	ForecastTable string        `yaml:"forecastTable"`
	QueryTimeout  time.Duration `yaml:"queryTimeout"`
}

// DetectionConfig carries the run-level detection policy.
type DetectionConfig struct {
	ParamsPath          string        `yaml:"paramsPath"`
	PastDays            int           `yaml:"pastDays"`
	FuturePredictions   bool          `yaml:"futurePredictions"`
	EvaluatePredictions bool          `yaml:"evaluatePredictions"`
	LimSupAlert         bool          `yaml:"limSupAlert"`
	Workers             int           `yaml:"workers"`
	FitTimeout          time.Duration `yaml:"fitTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Redis-backed caching of the latest run result.
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
	LatestRunTTL time.Duration `yaml:"latestRunTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("KPIWATCH_CONFIG")
	}

	cfg := defaultConfig()

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
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Warehouse: WarehouseConfig{
			Driver:        "postgres",
			AlertsTable:   "kpi_alerts",
			ForecastTable: "kpi_forecasts",
			QueryTimeout:  30 * time.Second,
		},
		Detection: DetectionConfig{
			ParamsPath: "configs/metrics.yaml",
			PastDays:   60,
			Workers:    4,
			FitTimeout: 2 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			LatestRunTTL: 24 * time.Hour,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KPIWATCH_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("KPIWATCH_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("KPIWATCH_WAREHOUSE_DRIVER"); v != "" {
		cfg.Warehouse.Driver = v
	}
	if v := os.Getenv("KPIWATCH_WAREHOUSE_DSN"); v != "" {
		cfg.Warehouse.DSN = v
	}
	if v := os.Getenv("KPIWATCH_ALERTS_TABLE"); v != "" {
		cfg.Warehouse.AlertsTable = v
	}
	if v := os.Getenv("KPIWATCH_FORECAST_TABLE"); v != "" {
		cfg.Warehouse.ForecastTable = v
	}
	if v := os.Getenv("KPIWATCH_PARAMS_PATH"); v != "" {
		cfg.Detection.ParamsPath = v
	}
	if v := os.Getenv("KPIWATCH_PAST_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.PastDays = n
		}
	}
	if v := os.Getenv("KPIWATCH_LIMSUP_ALERT"); v != "" {
		cfg.Detection.LimSupAlert = envBool(v)
	}
	if v := os.Getenv("KPIWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KPIWATCH_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("KPIWATCH_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = envBool(v)
	}
	if v := os.Getenv("KPIWATCH_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("KPIWATCH_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("KPIWATCH_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("KPIWATCH_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("KPIWATCH_CACHE_TLS"); envBool(v) {
		cfg.Cache.TLS = true
	}
}

func envBool(v string) bool {
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
}
