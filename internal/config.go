package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Blob backends.
const (
	BackendAzure    = "azure"
	BackendSupabase = "supabase"
	BackendFS       = "fs"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Database DatabaseConfig    `yaml:"database"`
	Blob     BlobConfig        `yaml:"blob"`
	Cleanup  CleanupConfig     `yaml:"cleanup"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Blob.Validate(); err != nil {
		return err
	}
	return c.Cleanup.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	Pretty   bool       `yaml:"pretty" env:"APP_PRETTY"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" env:"HTTP_PORT"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DatabaseConfig holds relational store configuration.
type DatabaseConfig struct {
	Driver       string `yaml:"driver" env:"DB_DRIVER"`
	DSN          string `yaml:"dsn" env:"DB_DSN"`
	PingAttempts uint   `yaml:"ping_attempts"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.PingAttempts, validation.Max(uint(10))),
	)
}

// BlobConfig holds object storage configuration.
//
// Backend selects the provider:
//   - "azure" (default): Account, AccountKey and Container are required.
//   - "supabase": SupabaseURL, SupabaseKey and Container (bucket) are required.
//   - "fs": blobs are kept under Path and served from PublicBaseURL.
type BlobConfig struct {
	Backend       string `yaml:"backend" env:"BLOB_BACKEND"`
	Account       string `yaml:"account" env:"BLOB_ACCOUNT_NAME"`
	AccountKey    string `yaml:"account_key" env:"BLOB_ACCOUNT_KEY"`
	Container     string `yaml:"container" env:"BLOB_CONTAINER"`
	SupabaseURL   string `yaml:"supabase_url" env:"SUPABASE_URL"`
	SupabaseKey   string `yaml:"supabase_key" env:"SUPABASE_KEY"`
	Path          string `yaml:"path" env:"BLOB_PATH"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// Validate validates the blob configuration.
func (c *BlobConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendAzure
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendAzure, BackendSupabase, BackendFS)),
	); err != nil {
		return err
	}
	switch c.Backend {
	case BackendAzure:
		return validation.ValidateStruct(c,
			validation.Field(&c.Account, validation.Required),
			validation.Field(&c.AccountKey, validation.Required),
			validation.Field(&c.Container, validation.Required),
		)
	case BackendSupabase:
		return validation.ValidateStruct(c,
			validation.Field(&c.SupabaseURL, validation.Required),
			validation.Field(&c.SupabaseKey, validation.Required),
			validation.Field(&c.Container, validation.Required),
		)
	default:
		return validation.ValidateStruct(c,
			validation.Field(&c.Path, validation.Required),
			validation.Field(&c.PublicBaseURL, validation.Required),
		)
	}
}

// CleanupConfig controls the background blob cleanup worker.
type CleanupConfig struct {
	Interval      time.Duration `yaml:"interval" env:"CLEANUP_INTERVAL"`
	BatchSize     int           `yaml:"batch_size"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryAttempts uint          `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// Validate validates the cleanup configuration.
func (c *CleanupConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.RetryAttempts, validation.Required, validation.Max(uint(10))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Database: DatabaseConfig{
			Driver:       DriverSQLite,
			DSN:          "./notes.db",
			PingAttempts: 3,
		},
		Blob: BlobConfig{
			Backend:       BackendAzure,
			Container:     "notes",
			Path:          "./blobs",
			PublicBaseURL: "/files",
		},
		Cleanup: CleanupConfig{
			Interval:      time.Minute,
			BatchSize:     50,
			MaxAttempts:   5,
			RetryAttempts: 3,
			RetryDelay:    200 * time.Millisecond,
		},
	}
}
