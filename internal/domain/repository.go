// Package domain defines the core interfaces and types for listing risk assessment.
package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Repository defines the interface for data persistence.
// It is the listing source/sink plus storage for assessments, training
// examples, rule configuration and classifier models.
type Repository interface {
	// Listing operations
	SaveListing(ctx context.Context, listing *Listing) error
	GetListing(ctx context.Context, listingID string) (*Listing, error)
	ListListings(ctx context.Context, limit int) ([]*Listing, error)
	ListAllListings(ctx context.Context) ([]*Listing, error)
	CountListingsByOwner(ctx context.Context, ownerID string, since time.Time) (int64, error)
	UpdateListingStatus(ctx context.Context, listingID string, status VerificationStatus, aiResults json.RawMessage) error

	// Assessment results
	SaveAssessment(ctx context.Context, assessment *RiskAssessment) error
	GetAssessment(ctx context.Context, assessmentID string) (*RiskAssessment, error)

	// Training dataset
	SaveTrainingExample(ctx context.Context, example *TrainingExample) error
	ListTrainingExamples(ctx context.Context) ([]*TrainingExample, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Classifier models
	ModelStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`

	// ModelRetain is the number of superseded model generations kept by the SQL model store.
	ModelRetain int `koanf:"model_retain"`
}
