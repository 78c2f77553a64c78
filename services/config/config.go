// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the service configuration.
//
// Settings come from an optional YAML file, then LROT_* environment
// overrides, then defaults for anything still unset. Secrets are never
// read from here; see package secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxFileSize caps the configuration document.
const MaxFileSize = 1 << 20

// Cluster metrics backends.
const (
	MetricsYARN   = "yarn"
	MetricsInflux = "influx"
	MetricsNone   = "none"
)

// PasswordPlaceholder in a DSN is replaced by the database password secret.
const PasswordPlaceholder = "{password}"

// Config is the full service configuration.
//
// Thread Safety: Value type; safe to share after Load.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Cache          CacheConfig          `yaml:"cache"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	Variance       VarianceConfig       `yaml:"variance"`
	Prediction     PredictionConfig     `yaml:"prediction"`
	ClusterMetrics ClusterMetricsConfig `yaml:"cluster_metrics"`
	Adjustments    AdjustmentsConfig    `yaml:"adjustments"`
	EOD            EODConfig            `yaml:"eod"`
	Secrets        SecretsConfig        `yaml:"secrets"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	// Addr is the listen address. Env: LROT_SERVER_ADDR (default ":8080").
	Addr string `yaml:"addr" validate:"required"`

	// RatePerSecond is the per-client request rate. Env: LROT_RATE_PER_SECOND
	// (default 5). Zero disables limiting.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`

	// RateBurst is the per-client burst. Default 10.
	RateBurst int `yaml:"rate_burst" validate:"gte=0"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig locates the warehouse behind the status, history and
// variance queries.
type DatabaseConfig struct {
	// Name labels metrics and spans. Default "warehouse".
	Name string `yaml:"name"`

	// Driver is the database/sql driver name. Env: LROT_DB_DRIVER.
	Driver string `yaml:"driver" validate:"required_with=DSN"`

	// DSN may contain {password}. Env: LROT_DB_DSN.
	DSN string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Configured reports whether a database is set up.
func (d DatabaseConfig) Configured() bool {
	return d.DSN != ""
}

// ResolveDSN substitutes the password into the DSN.
func (d DatabaseConfig) ResolveDSN(password string) string {
	return strings.ReplaceAll(d.DSN, PasswordPlaceholder, password)
}

// CacheConfig configures the badger query cache for history queries.
type CacheConfig struct {
	// Enabled turns the cache on. Env: LROT_CACHE_ENABLED.
	Enabled bool `yaml:"enabled"`

	// Dir is the badger directory. Empty keeps the cache in memory.
	// Env: LROT_CACHE_DIR.
	Dir string `yaml:"dir"`

	// TTL of cached result sets. Default 15m.
	TTL time.Duration `yaml:"ttl"`
}

// CatalogConfig locates the TableSpec catalog.
type CatalogConfig struct {
	// Path to a catalog document. Empty uses the embedded catalog.
	// Env: LROT_CATALOG_PATH.
	Path string `yaml:"path"`

	// Watch reloads the catalog when the file changes.
	Watch bool `yaml:"watch"`
}

// VarianceConfig locates the variance table definitions.
type VarianceConfig struct {
	// TablesPath overrides the embedded definitions. Env: LROT_VARIANCE_TABLES.
	TablesPath string `yaml:"tables_path"`
}

// PredictionConfig tunes the prediction engine.
type PredictionConfig struct {
	HistoryDays int    `yaml:"history_days" validate:"gte=1"`
	Timezone    string `yaml:"timezone" validate:"required"`
}

// ClusterMetricsConfig selects the cluster metrics backend.
type ClusterMetricsConfig struct {
	// Backend is yarn, influx or none. Env: LROT_CLUSTER_METRICS.
	Backend string        `yaml:"backend" validate:"oneof=yarn influx none"`
	Timeout time.Duration `yaml:"timeout"`

	// YARNURL is the ResourceManager base URL. Env: LROT_YARN_URL.
	YARNURL string `yaml:"yarn_url" validate:"required_if=Backend yarn"`

	Influx InfluxConfig `yaml:"influx"`
}

// InfluxConfig locates scraped YARN metrics. The token is a secret.
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// AdjustmentsConfig locates the adjustment services. The user SID is a
// secret.
type AdjustmentsConfig struct {
	Enabled     bool          `yaml:"enabled"`
	TokenURL    string        `yaml:"token_url" validate:"required_if=Enabled true"`
	CallbackURL string        `yaml:"callback_url" validate:"required_if=Enabled true"`
	AppID       string        `yaml:"app_id"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EODConfig sets the business end of day. Hour 0 takes the default 17.
type EODConfig struct {
	Timezone string `yaml:"timezone" validate:"required"`
	Hour     int    `yaml:"hour" validate:"gte=0,lte=23"`
}

// SecretsConfig tunes secret caching.
type SecretsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Default returns the configuration with every default applied.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load reads path (optional), applies environment overrides and defaults,
// and validates.
//
// Inputs:
//
//	path - YAML file. Empty skips the file.
//
// Outputs:
//
//	Config - The validated configuration.
//	error - Non-nil if the file cannot be read or parsed, or validation fails.
func Load(path string) (Config, error) {
	var c Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := c.parse(data); err != nil {
			return Config{}, err
		}
	}
	c.applyEnv()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Parse parses a YAML document without reading the environment.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := c.parse(data); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) parse(data []byte) error {
	if len(data) > MaxFileSize {
		return fmt.Errorf("config: document exceeds maximum size (%d > %d)", len(data), MaxFileSize)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing YAML: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RatePerSecond == 0 && c.Server.RateBurst == 0 {
		c.Server.RatePerSecond = 5
		c.Server.RateBurst = 10
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 2 * time.Minute
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Database.Name == "" {
		c.Database.Name = "warehouse"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 4
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 15 * time.Minute
	}
	if c.Prediction.HistoryDays == 0 {
		c.Prediction.HistoryDays = 30
	}
	if c.Prediction.Timezone == "" {
		c.Prediction.Timezone = "America/New_York"
	}
	if c.ClusterMetrics.Backend == "" {
		c.ClusterMetrics.Backend = MetricsNone
	}
	if c.ClusterMetrics.Timeout <= 0 {
		c.ClusterMetrics.Timeout = 10 * time.Second
	}
	if c.EOD.Timezone == "" {
		c.EOD.Timezone = "America/New_York"
	}
	if c.EOD.Hour == 0 {
		c.EOD.Hour = 17
	}
	if c.Secrets.CacheTTL == 0 {
		c.Secrets.CacheTTL = 5 * time.Minute
	}
}

func (c *Config) applyEnv() {
	c.Server.Addr = envString("LROT_SERVER_ADDR", c.Server.Addr)
	c.Server.RatePerSecond = envFloat("LROT_RATE_PER_SECOND", c.Server.RatePerSecond)
	c.Database.Driver = envString("LROT_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = envString("LROT_DB_DSN", c.Database.DSN)
	c.Cache.Enabled = envBool("LROT_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.Dir = envString("LROT_CACHE_DIR", c.Cache.Dir)
	c.Catalog.Path = envString("LROT_CATALOG_PATH", c.Catalog.Path)
	c.Variance.TablesPath = envString("LROT_VARIANCE_TABLES", c.Variance.TablesPath)
	c.ClusterMetrics.Backend = envString("LROT_CLUSTER_METRICS", c.ClusterMetrics.Backend)
	c.ClusterMetrics.YARNURL = envString("LROT_YARN_URL", c.ClusterMetrics.YARNURL)
	c.ClusterMetrics.Influx.URL = envString("LROT_INFLUX_URL", c.ClusterMetrics.Influx.URL)
	c.EOD.Timezone = envString("LROT_EOD_TIMEZONE", c.EOD.Timezone)
	c.EOD.Hour = envInt("LROT_EOD_HOUR", c.EOD.Hour)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: invalid: %w", err)
	}
	if _, err := time.LoadLocation(c.Prediction.Timezone); err != nil {
		return fmt.Errorf("config: prediction.timezone: %w", err)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func envInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
