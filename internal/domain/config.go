package domain

import "time"

// Config holds the complete service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server"`

	// Tier determines feature availability
	Tier Tier `koanf:"tier"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository"`
	Cache      CacheConfig      `koanf:"cache"`
	EventBus   EventBusConfig   `koanf:"eventbus"`
	ModelStore ModelStoreConfig `koanf:"modelstore"`
	Narrative  NarrativeConfig  `koanf:"narrative"`
	Market     MarketConfig     `koanf:"market"`
	Training   TrainingConfig   `koanf:"training"`
	Worker     WorkerConfig     `koanf:"worker"`

	// Observability
	Logging LoggingConfig `koanf:"logging"`
	Tracing TracingConfig `koanf:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	ReadTimeout  int    `koanf:"read_timeout"`  // seconds
	WriteTimeout int    `koanf:"write_timeout"` // seconds
}

// NarrativeConfig configures the narrative completion service.
type NarrativeConfig struct {
	// Provider is "openai", "stub" (canned answers, tests only) or "none".
	// With "none" every listing gets the rule-based analysis.
	Provider string        `koanf:"provider"`
	Endpoint string        `koanf:"endpoint"`
	APIKey   string        `koanf:"api_key"`
	Model    string        `koanf:"model"`
	Timeout  time.Duration `koanf:"timeout"`

	// MaxConcurrency bounds concurrent narrative calls in batch assessment.
	MaxConcurrency int `koanf:"max_concurrency"`
}

// MarketConfig configures the market baseline table.
type MarketConfig struct {
	// BaselinesFile overrides the embedded baseline table when set.
	BaselinesFile string `koanf:"baselines_file"`
}

// TrainingConfig configures classifier training.
type TrainingConfig struct {
	// Seed for the train/test shuffle. Zero means derive from the clock.
	Seed int64 `koanf:"seed"`

	// Schedule is an optional cron expression for periodic retraining.
	Schedule string `koanf:"schedule"`

	// Version is the semantic version stamped on new models.
	Version string `koanf:"version"`
}

// WorkerConfig configures the asynchronous assessment worker.
type WorkerConfig struct {
	Enabled     bool `koanf:"enabled"`
	WorkerCount int  `koanf:"worker_count"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ServiceName  string `koanf:"service_name"`
	ExporterType string `koanf:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `koanf:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./listingrisk.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			AnalysisTTL:  24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		ModelStore: ModelStoreConfig{
			Type: "file",
			Dir:  "./models",
		},
		Narrative: NarrativeConfig{
			Provider:       "none",
			Endpoint:       "https://api.openai.com/v1/chat/completions",
			Model:          "gpt-4o-mini",
			Timeout:        20 * time.Second,
			MaxConcurrency: 8,
		},
		Training: TrainingConfig{
			Version: "1.0.0",
		},
		Worker: WorkerConfig{
			WorkerCount: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "listingrisk",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "listingrisk",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		AnalysisTTL:    24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.ModelStore.Type = "sql"
	cfg.Narrative.Provider = "openai"
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
