// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All user-owned data requires userID for strict isolation.
type Repository interface {
	// Card history
	SaveCard(ctx context.Context, userID string, card *UserCard) error
	GetCard(ctx context.Context, userID string, cardID string) (*UserCard, error)
	ListCards(ctx context.Context, userID string) ([]UserCard, error)
	DeleteCard(ctx context.Context, userID string, cardID string) error

	// Benefit usage for the current card year
	SaveBenefitUsage(ctx context.Context, userID string, usage *BenefitUsage) error
	ListBenefitUsage(ctx context.Context, userID string, cardID string) ([]BenefitUsage, error)

	// Catalog snapshots, versioned as a whole
	SaveCatalogSnapshot(ctx context.Context, version string, raw []byte) error
	LatestCatalogSnapshot(ctx context.Context) (version string, raw []byte, err error)

	// Evaluation log
	SaveEvaluation(ctx context.Context, userID string, eval *EvaluationRecord) error
	GetEvaluation(ctx context.Context, userID string, evalID string) (*EvaluationRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitepath" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgreshost" json:"postgresHost"`
	PostgresPort     int    `mapstructure:"postgresport" json:"postgresPort"`
	PostgresUser     string `mapstructure:"postgresuser" json:"postgresUser"`
	PostgresPassword string `mapstructure:"postgrespassword" json:"-"`
	PostgresDB       string `mapstructure:"postgresdb" json:"postgresDb"`
	PostgresSSLMode  string `mapstructure:"postgressslmode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxopenconns" json:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxidleconns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connmaxlifetime" json:"connMaxLifetime"`
}
