// Package config holds the explicit application configuration. Provider
// availability is visible here as enumerated credential fields rather than
// runtime environment lookups scattered through the adapters.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix for all environment variables.
const EnvPrefix = "SILVERPULSE"

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Schedule  ScheduleConfig  `yaml:"schedule" envconfig:"SCHEDULE"`
	Sources   SourcesConfig   `yaml:"sources" envconfig:"SOURCES"`
	Analytics AnalyticsConfig `yaml:"analytics" envconfig:"ANALYTICS"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig contains the persistence configuration.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" envconfig:"DSN" validate:"required"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/silverpulse.log"`
}

// ScheduleConfig controls the built-in cron trigger.
type ScheduleConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	// Spec is a cron expression in the server's local time. The default
	// runs after the exchange publishes the daily stock report.
	Spec string `yaml:"spec" envconfig:"SPEC" default:"30 18 * * 1-5"`
}

// SourcesConfig groups the per-source adapter configuration.
type SourcesConfig struct {
	Stock     StockSourceConfig     `yaml:"stock" envconfig:"STOCK"`
	FX        FXSourceConfig        `yaml:"fx" envconfig:"FX"`
	Spot      SpotSourceConfig      `yaml:"spot" envconfig:"SPOT"`
	Benchmark BenchmarkSourceConfig `yaml:"benchmark" envconfig:"BENCHMARK"`
	Retail    RetailSourceConfig    `yaml:"retail" envconfig:"RETAIL"`

	// FetchTimeout bounds each individual provider call.
	FetchTimeout time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT" default:"8s"`
	// RetryAttempts is the per-adapter retry count with exponential backoff.
	RetryAttempts int `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS" default:"2" validate:"min=1,max=5"`
	// StaleMaxAge is how old a previously stored value may be before the
	// stale-fallback path refuses to reuse it.
	StaleMaxAge time.Duration `yaml:"stale_max_age" envconfig:"STALE_MAX_AGE" default:"168h"`
}

// StockSourceConfig configures the exchange stock report adapter.
type StockSourceConfig struct {
	ReportURL     string        `yaml:"report_url" envconfig:"REPORT_URL" default:"https://www.cmegroup.com/delivery_reports/Silver_stocks.xls" validate:"required,url"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"30s"`
	MinRegistered float64       `yaml:"min_registered" envconfig:"MIN_REGISTERED" default:"1000000"`
	MaxRegistered float64       `yaml:"max_registered" envconfig:"MAX_REGISTERED" default:"1000000000"`
	MinEligible   float64       `yaml:"min_eligible" envconfig:"MIN_ELIGIBLE" default:"1000000"`
	MaxEligible   float64       `yaml:"max_eligible" envconfig:"MAX_ELIGIBLE" default:"1000000000"`
}

// FXSourceConfig configures the FX rate chain.
type FXSourceConfig struct {
	RateHostURL    string `yaml:"rate_host_url" envconfig:"RATE_HOST_URL" default:"https://api.exchangerate.host/latest"`
	FrankfurterURL string `yaml:"frankfurter_url" envconfig:"FRANKFURTER_URL" default:"https://api.frankfurter.app/latest"`
	ECBURL         string `yaml:"ecb_url" envconfig:"ECB_URL" default:"https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"`
}

// SpotSourceConfig configures the spot price chain. ManualUsdPerOz, when
// set, short-circuits the chain; MetalsAPIKey being empty makes that
// provider silently unavailable.
type SpotSourceConfig struct {
	ManualUsdPerOz float64 `yaml:"manual_usd_per_oz" envconfig:"MANUAL_USD_PER_OZ"`
	MetalsAPIKey   string  `yaml:"metals_api_key" envconfig:"METALS_API_KEY"`
	MetalsAPIURL   string  `yaml:"metals_api_url" envconfig:"METALS_API_URL" default:"https://metals-api.com/api/latest"`
	MetalsDevURL   string  `yaml:"metals_dev_url" envconfig:"METALS_DEV_URL" default:"https://api.metals.dev/v1/latest"`
	MetalsDevKey   string  `yaml:"metals_dev_key" envconfig:"METALS_DEV_KEY" default:"demo"`
	YahooChartURL  string  `yaml:"yahoo_chart_url" envconfig:"YAHOO_CHART_URL" default:"https://query1.finance.yahoo.com/v8/finance/chart/SI=F"`
	MinUsdPerOz    float64 `yaml:"min_usd_per_oz" envconfig:"MIN_USD_PER_OZ" default:"10"`
	MaxUsdPerOz    float64 `yaml:"max_usd_per_oz" envconfig:"MAX_USD_PER_OZ" default:"200"`
}

// BenchmarkSourceConfig configures the Shanghai benchmark chain.
type BenchmarkSourceConfig struct {
	MetalsAPIKey     string  `yaml:"metals_api_key" envconfig:"METALS_API_KEY"`
	MetalsAPIURL     string  `yaml:"metals_api_url" envconfig:"METALS_API_URL" default:"https://metals-api.com/api/latest"`
	TwelveDataKey    string  `yaml:"twelve_data_key" envconfig:"TWELVE_DATA_KEY"`
	TwelveDataURL    string  `yaml:"twelve_data_url" envconfig:"TWELVE_DATA_URL" default:"https://api.twelvedata.com/price"`
	ManualCnyPerGram float64 `yaml:"manual_cny_per_gram" envconfig:"MANUAL_CNY_PER_GRAM"`
	// PremiumPercent is the typical Shanghai premium over spot used by the
	// last-resort estimation provider.
	PremiumPercent float64 `yaml:"premium_percent" envconfig:"PREMIUM_PERCENT" default:"3"`
	MinUsdPerOz    float64 `yaml:"min_usd_per_oz" envconfig:"MIN_USD_PER_OZ" default:"10"`
	MaxUsdPerOz    float64 `yaml:"max_usd_per_oz" envconfig:"MAX_USD_PER_OZ" default:"200"`
}

// RetailSourceConfig configures the retail dealer scrapers.
type RetailSourceConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	// RequestsPerSecond throttles page fetches per provider host.
	RequestsPerSecond float64       `yaml:"requests_per_second" envconfig:"REQUESTS_PER_SECOND" default:"1"`
	Timeout           time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"10s"`
}

// AnalyticsConfig holds thresholds for the derived metrics calculator.
type AnalyticsConfig struct {
	ExtremeZScore    float64 `yaml:"extreme_z_score" envconfig:"EXTREME_Z_SCORE" default:"2.5" validate:"gt=0"`
	ZScoreWindowDays int     `yaml:"z_score_window_days" envconfig:"Z_SCORE_WINDOW_DAYS" default:"90" validate:"min=10"`
	RegimeWindowDays int     `yaml:"regime_window_days" envconfig:"REGIME_WINDOW_DAYS" default:"7" validate:"min=2"`
	TrendWindowDays  int     `yaml:"trend_window_days" envconfig:"TREND_WINDOW_DAYS" default:"30" validate:"min=2"`
}

// Load loads configuration from environment variables, overlaid on an
// optional YAML file named by SILVERPULSE_CONFIG_FILE.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
