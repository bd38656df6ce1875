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
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Throttle  ThrottleConfig  `yaml:"throttle" mapstructure:"throttle"`
	Radar     RadarConfig     `yaml:"radar" mapstructure:"radar"`
	Resolver  ResolverConfig  `yaml:"resolver" mapstructure:"resolver"`
	Extractor ExtractorConfig `yaml:"extractor" mapstructure:"extractor"`
	Enricher  EnricherConfig  `yaml:"enricher" mapstructure:"enricher"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// EngineConfig configures the mission orchestrator: per-stage worker
// counts, per-stage retry caps, and the shared backoff curve. Every knob
// is configurable; the defaults below are starting points, not policy.
type EngineConfig struct {
	RadarWorkers     int `yaml:"radar_workers" mapstructure:"radar_workers"`
	ResolverWorkers  int `yaml:"resolver_workers" mapstructure:"resolver_workers"`
	ExtractorWorkers int `yaml:"extractor_workers" mapstructure:"extractor_workers"`
	EnricherWorkers  int `yaml:"enricher_workers" mapstructure:"enricher_workers"`

	MaxAttempts map[string]int `yaml:"max_attempts" mapstructure:"max_attempts"`

	BackoffBaseMillis int     `yaml:"backoff_base_millis" mapstructure:"backoff_base_millis"`
	BackoffMaxMillis  int     `yaml:"backoff_max_millis" mapstructure:"backoff_max_millis"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	BackoffJitter     float64 `yaml:"backoff_jitter" mapstructure:"backoff_jitter"`

	// PollIntervalMillis bounds how long idle dispatch workers sleep
	// before re-checking their queue for newly eligible items.
	PollIntervalMillis int `yaml:"poll_interval_millis" mapstructure:"poll_interval_millis"`
}

// StageAttempts returns the configured attempt cap for a stage name,
// falling back to 3.
func (e EngineConfig) StageAttempts(stage string) int {
	if n, ok := e.MaxAttempts[stage]; ok && n > 0 {
		return n
	}
	return 3
}

// ThrottleConfig configures per-domain rate budgets.
type ThrottleConfig struct {
	Capacity      int     `yaml:"capacity" mapstructure:"capacity"`
	RefillPerSec  float64 `yaml:"refill_per_sec" mapstructure:"refill_per_sec"`
	PenaltyFactor float64 `yaml:"penalty_factor" mapstructure:"penalty_factor"`
}

// RadarConfig configures the OpenStreetMap discovery stage.
type RadarConfig struct {
	Endpoints     []string `yaml:"endpoints" mapstructure:"endpoints"`
	TimeoutSecs   int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinNameLength int      `yaml:"min_name_length" mapstructure:"min_name_length"`
	MaxCandidates int      `yaml:"max_candidates" mapstructure:"max_candidates"`
}

// ResolverConfig configures SERP URL resolution.
type ResolverConfig struct {
	SearchBaseURL    string   `yaml:"search_base_url" mapstructure:"search_base_url"`
	SearchKey        string   `yaml:"search_key" mapstructure:"search_key"`
	MaxResults       int      `yaml:"max_results" mapstructure:"max_results"`
	MaxURLLength     int      `yaml:"max_url_length" mapstructure:"max_url_length"`
	ProbeTimeoutSecs int      `yaml:"probe_timeout_secs" mapstructure:"probe_timeout_secs"`
	DomainBlacklist  []string `yaml:"domain_blacklist" mapstructure:"domain_blacklist"`
}

// ExtractorConfig configures the stealth browser extraction stage.
type ExtractorConfig struct {
	ServiceURL     string `yaml:"service_url" mapstructure:"service_url"`
	Key            string `yaml:"key" mapstructure:"key"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxContentSize int    `yaml:"max_content_size" mapstructure:"max_content_size"`
}

// EnricherConfig configures the AI enrichment stage.
type EnricherConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`

	// SchemaRetries is how many schema-invalid responses are absorbed as
	// retryable before the item is failed.
	SchemaRetries int `yaml:"schema_retries" mapstructure:"schema_retries"`
}

// NotionConfig holds the optional Notion lead-mirror settings.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
}

// ServerConfig configures the mission API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("LEADSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadscout.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("engine.radar_workers", 2)
	v.SetDefault("engine.resolver_workers", 4)
	v.SetDefault("engine.extractor_workers", 3)
	v.SetDefault("engine.enricher_workers", 2)
	v.SetDefault("engine.max_attempts", map[string]int{
		"radar":   3,
		"resolve": 3,
		"extract": 3,
		"enrich":  2,
	})
	v.SetDefault("engine.backoff_base_millis", 500)
	v.SetDefault("engine.backoff_max_millis", 60000)
	v.SetDefault("engine.backoff_multiplier", 2.0)
	v.SetDefault("engine.backoff_jitter", 0.25)
	v.SetDefault("engine.poll_interval_millis", 50)

	v.SetDefault("throttle.capacity", 2)
	v.SetDefault("throttle.refill_per_sec", 0.5)
	v.SetDefault("throttle.penalty_factor", 0.25)

	v.SetDefault("radar.endpoints", []string{
		"https://overpass-api.de/api/interpreter",
		"https://lz4.overpass-api.de/api/interpreter",
		"https://overpass.kumi.systems/api/interpreter",
	})
	v.SetDefault("radar.timeout_secs", 90)
	v.SetDefault("radar.min_name_length", 4)
	v.SetDefault("radar.max_candidates", 500)

	v.SetDefault("resolver.search_base_url", "https://s.jina.ai")
	v.SetDefault("resolver.max_results", 5)
	v.SetDefault("resolver.max_url_length", 125)
	v.SetDefault("resolver.probe_timeout_secs", 7)
	v.SetDefault("resolver.domain_blacklist", []string{
		"facebook", "instagram", "linkedin", "twitter", "x.com", "youtube",
		"tiktok", "wikipedia", "tripadvisor", "foursquare", "yelp",
		"scribd", "issuu",
	})

	v.SetDefault("extractor.timeout_secs", 45)
	v.SetDefault("extractor.max_content_size", 512*1024)

	v.SetDefault("enricher.model", "claude-haiku-4-5-20251001")
	v.SetDefault("enricher.max_tokens", 1024)
	v.SetDefault("enricher.schema_retries", 1)

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
