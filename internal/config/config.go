// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Build     BuildConfig     `yaml:"build" mapstructure:"build"`
	SpotCheck SpotCheckConfig `yaml:"spotcheck" mapstructure:"spotcheck"`
	Gazetteer GazetteerConfig `yaml:"gazetteer" mapstructure:"gazetteer"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SourceConfig configures the quote source API client.
type SourceConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	TokenURL    string  `yaml:"token_url" mapstructure:"token_url"`
	TokenFile   string  `yaml:"token_file" mapstructure:"token_file"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst   int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// DiscoveryConfig configures region discovery probing.
type DiscoveryConfig struct {
	OverlapThreshold    float64 `yaml:"overlap_threshold" mapstructure:"overlap_threshold"`
	MaxConsecutiveEmpty int     `yaml:"max_consecutive_empty" mapstructure:"max_consecutive_empty"`
	MaxProbeErrors      int     `yaml:"max_probe_errors" mapstructure:"max_probe_errors"`
	MaxEmptyGroups      int     `yaml:"max_empty_groups" mapstructure:"max_empty_groups"`
	MinCoveragePct      float64 `yaml:"min_coverage_pct" mapstructure:"min_coverage_pct"`
	OverridesFile       string  `yaml:"overrides_file" mapstructure:"overrides_file"`
	ProbeShuffle        bool    `yaml:"probe_shuffle" mapstructure:"probe_shuffle"`
}

// BuildConfig configures the batch build orchestrator.
type BuildConfig struct {
	MaxConcurrentStates   int `yaml:"max_concurrent_states" mapstructure:"max_concurrent_states"`
	MaxConcurrentCarriers int `yaml:"max_concurrent_carriers" mapstructure:"max_concurrent_carriers"`
	MaxConcurrentFetches  int `yaml:"max_concurrent_fetches" mapstructure:"max_concurrent_fetches"`
	EffectiveDates        int `yaml:"effective_dates" mapstructure:"effective_dates"`
	FlushBatchSize        int `yaml:"flush_batch_size" mapstructure:"flush_batch_size"`
	AgeMin                int `yaml:"age_min" mapstructure:"age_min"`
	AgeMax                int `yaml:"age_max" mapstructure:"age_max"`
}

// SpotCheckConfig configures the delta detector sampling.
type SpotCheckConfig struct {
	MaxRegions      int `yaml:"max_regions" mapstructure:"max_regions"`
	MaxDemographics int `yaml:"max_demographics" mapstructure:"max_demographics"`
}

// GazetteerConfig configures the geographic reference data.
type GazetteerConfig struct {
	ZipCountyFile string `yaml:"zip_county_file" mapstructure:"zip_county_file"`
}

// ServerConfig configures the quote lookup server.
type ServerConfig struct {
	Port                  int `yaml:"port" mapstructure:"port"`
	IntegrityIntervalMins int `yaml:"integrity_interval_mins" mapstructure:"integrity_interval_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RATEENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.integrity_interval_mins", 60)
	v.SetDefault("source.base_url", "https://csgapi.appspot.com/v1")
	v.SetDefault("source.token_file", ".csg_token")
	v.SetDefault("source.rate_per_sec", 10)
	v.SetDefault("source.rate_burst", 10)
	v.SetDefault("source.timeout_secs", 60)
	v.SetDefault("source.max_retries", 4)
	v.SetDefault("discovery.overlap_threshold", 0.8)
	v.SetDefault("discovery.max_consecutive_empty", 5)
	v.SetDefault("discovery.max_probe_errors", 10)
	v.SetDefault("discovery.max_empty_groups", 10)
	v.SetDefault("discovery.min_coverage_pct", 95)
	v.SetDefault("discovery.overrides_file", "data/overrides.yaml")
	v.SetDefault("discovery.probe_shuffle", true)
	v.SetDefault("build.max_concurrent_states", 4)
	v.SetDefault("build.max_concurrent_carriers", 3)
	v.SetDefault("build.max_concurrent_fetches", 4)
	v.SetDefault("build.effective_dates", 2)
	v.SetDefault("build.flush_batch_size", 500)
	v.SetDefault("build.age_min", 65)
	v.SetDefault("build.age_max", 99)
	v.SetDefault("spotcheck.max_regions", 2)
	v.SetDefault("spotcheck.max_demographics", 6)
	v.SetDefault("gazetteer.zip_county_file", "data/zip_county.csv")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
