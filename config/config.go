package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Global Variables
const SCHEMA_NAME string = "fis"
const CACHE_KEY_TICKERS_PENDING string = "FIS_TICKERS_PENDING"
const CACHE_KEY_TICKERS_ERROR string = "FIS_TICKERS_ERROR"

const TABLE_STOCKS = "stocks"
const TABLE_EXTRACTED_FUNDAMENTALS = "extracted_fundamental_data"
const TABLE_EPS_LAST_5_QS = "eps_last_5_qs"
const TABLE_RAW_API_RESPONSES = "raw_api_responses"
const TABLE_LOGS = "logs"

// Local endpoint keys. "Earnings" is deliberately mixed-case, the
// database rows and the complete-session query both use these values.
const ENDPOINT_INCOME_STATEMENT = "INCOME_STATEMENT"
const ENDPOINT_BALANCE_SHEET = "BALANCE_SHEET"
const ENDPOINT_CASH_FLOW = "CASH_FLOW"
const ENDPOINT_EARNINGS = "Earnings"
const ENDPOINT_OVERVIEW = "Overview"

// DataEndpointKeys are the endpoints that must all succeed for a ticker
// fetch to count as a complete session.
func DataEndpointKeys() []string {
	return []string{
		ENDPOINT_INCOME_STATEMENT,
		ENDPOINT_BALANCE_SHEET,
		ENDPOINT_CASH_FLOW,
		ENDPOINT_EARNINGS,
	}
}

type FetchConfig struct {
	BaseURL            string  `yaml:"base_url"`
	MinIntervalSeconds float64 `yaml:"min_interval_seconds"`
	MaxBackoffSeconds  float64 `yaml:"max_backoff_seconds"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	MaxAttempts        int     `yaml:"max_attempts"`
	RateLimitWaitBase  float64 `yaml:"rate_limit_wait_base_seconds"`
	RateLimitWaitMax   float64 `yaml:"rate_limit_wait_max_seconds"`
	ServerErrWaitBase  float64 `yaml:"server_error_wait_base_seconds"`
	ServerErrWaitMax   float64 `yaml:"server_error_wait_max_seconds"`
	MinRequiredFields  int     `yaml:"min_required_fields"`
	WithOverview       bool    `yaml:"with_overview"`
}

type FreshnessConfig struct {
	MinRefreshDays   int `yaml:"min_refresh_days"`
	ForceRefreshDays int `yaml:"force_refresh_days"`
}

type StagingConfig struct {
	ExpiryHours            float64 `yaml:"expiry_hours"`
	CleanupIntervalMinutes float64 `yaml:"cleanup_interval_minutes"`
}

type Config struct {
	APIKey    string          `yaml:"api_key"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Freshness FreshnessConfig `yaml:"freshness"`
	Staging   StagingConfig   `yaml:"staging"`
}

// Default returns the configuration the original deployment ran with.
// Alpha Vantage free keys allow roughly 5 calls per minute, hence the
// 12 second floor between outbound calls.
func Default() Config {
	return Config{
		Fetch: FetchConfig{
			BaseURL:            "https://www.alphavantage.co/query",
			MinIntervalSeconds: 12.0,
			MaxBackoffSeconds:  300.0,
			TimeoutSeconds:     15,
			MaxAttempts:        3,
			RateLimitWaitBase:  60.0,
			RateLimitWaitMax:   300.0,
			ServerErrWaitBase:  5.0,
			ServerErrWaitMax:   30.0,
			MinRequiredFields:  10,
			WithOverview:       false,
		},
		Freshness: FreshnessConfig{
			MinRefreshDays:   90,
			ForceRefreshDays: 365,
		},
		Staging: StagingConfig{
			ExpiryHours:            24.0,
			CleanupIntervalMinutes: 5.0,
		},
	}
}

// Load reads the optional YAML config file and applies environment
// overrides on top of the defaults. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		text, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(text, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %v", path, err)
		}
	}

	if key := os.Getenv("ALPHAVANTAGE_API_KEY"); key != "" {
		cfg.APIKey = key
	}

	return cfg, nil
}

func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c FetchConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSeconds * float64(time.Second))
}

func (c FetchConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds * float64(time.Second))
}
