package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the order service configuration.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Logger      LoggerConfig
	Auth        AuthConfig
	Inventory   InventoryClientConfig
	Idempotency IdempotencyConfig
	Orders      OrdersConfig
	Enrichment  EnrichmentConfig
	S3          S3Config
}

// InventoryConfig holds the inventory (stock ledger) service configuration.
type InventoryConfig struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logger   LoggerConfig
	Auth     AuthConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	MinConnections  int
	MaxConnLifetime int // seconds
}

// LoggerConfig holds logger-related configuration.
type LoggerConfig struct {
	Level  string
	Format string // "json" or "console"
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// APIKey guards service-to-service calls into the inventory service.
	APIKey string
	// JWTSecret verifies caller bearer tokens (HS256).
	JWTSecret string
}

// InventoryClientConfig configures the order service's client for the stock ledger.
type InventoryClientConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// IdempotencyConfig selects and configures the idempotency store.
type IdempotencyConfig struct {
	Backend       string // "postgres" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// TTL bounds how long a Redis record lives. Zero keeps records forever.
	TTL time.Duration
}

// OrdersConfig holds order workflow policy.
type OrdersConfig struct {
	// PartialFailurePolicy decides the status of an order whose stock
	// deductions could not all be applied: "confirm", "hold" or "cancel".
	PartialFailurePolicy string
	EnforceTransitions   bool
	ReconcileInterval    time.Duration
	ReconcileMaxAttempts int
	ReconcileBatchSize   int
	// ReconcilePendingAfter is how long a PENDING reservation may sit
	// untouched before the reconciler resumes it.
	ReconcilePendingAfter time.Duration
}

// EnrichmentConfig sizes the fire-and-forget enrichment queue.
type EnrichmentConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// S3Config holds AWS S3 configuration for order snapshot archiving.
type S3Config struct {
	Enabled bool
	Bucket  string
	Region  string
	Prefix  string // Key prefix within bucket (e.g., "orders/")
}

// Load loads the order service configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server:   loadServer(),
		Database: loadDatabase("orders"),
		Logger:   loadLogger(),
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Inventory: InventoryClientConfig{
			BaseURL:       getEnv("INVENTORY_SERVICE_URL", "http://inventory-service:8000"),
			APIKey:        getEnv("INTERNAL_API_KEY", ""),
			Timeout:       getEnvAsDuration("INVENTORY_TIMEOUT", 5*time.Second),
			MaxRetries:    getEnvAsInt("INVENTORY_MAX_RETRIES", 3),
			RetryInterval: getEnvAsDuration("INVENTORY_RETRY_INTERVAL", 200*time.Millisecond),
		},
		Idempotency: IdempotencyConfig{
			Backend:       getEnv("IDEMPOTENCY_BACKEND", "postgres"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			TTL:           getEnvAsDuration("IDEMPOTENCY_TTL", 0),
		},
		Orders: OrdersConfig{
			PartialFailurePolicy:  getEnv("ORDER_PARTIAL_FAILURE_POLICY", "hold"),
			EnforceTransitions:    getEnvAsBool("ORDER_ENFORCE_TRANSITIONS", true),
			ReconcileInterval:     getEnvAsDuration("ORDER_RECONCILE_INTERVAL", 30*time.Second),
			ReconcileMaxAttempts:  getEnvAsInt("ORDER_RECONCILE_MAX_ATTEMPTS", 10),
			ReconcileBatchSize:    getEnvAsInt("ORDER_RECONCILE_BATCH_SIZE", 50),
			ReconcilePendingAfter: getEnvAsDuration("ORDER_RECONCILE_PENDING_AFTER", 5*time.Minute),
		},
		Enrichment: EnrichmentConfig{
			Workers:    getEnvAsInt("ENRICHMENT_WORKERS", 2),
			QueueSize:  getEnvAsInt("ENRICHMENT_QUEUE_SIZE", 256),
			JobTimeout: getEnvAsDuration("ENRICHMENT_JOB_TIMEOUT", 30*time.Second),
		},
		S3: S3Config{
			Enabled: getEnvAsBool("S3_ENABLED", false),
			Bucket:  getEnv("S3_BUCKET", ""),
			Region:  getEnv("S3_REGION", "us-east-1"),
			Prefix:  getEnv("S3_PREFIX", "orders/"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadInventory loads the inventory service configuration from environment variables.
func LoadInventory() (*InventoryConfig, error) {
	cfg := &InventoryConfig{
		Server:   loadServer(),
		Database: loadDatabase("inventory"),
		Logger:   loadLogger(),
		Auth: AuthConfig{
			APIKey: getEnv("INTERNAL_API_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the order service configuration.
func (c *Config) Validate() error {
	if err := validateCommon(c.Server, c.Database, c.Logger); err != nil {
		return err
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.Inventory.BaseURL == "" {
		return fmt.Errorf("inventory service URL is required")
	}

	if c.Inventory.Timeout <= 0 {
		return fmt.Errorf("inventory timeout must be positive")
	}

	if c.Inventory.MaxRetries < 0 {
		return fmt.Errorf("inventory max retries cannot be negative")
	}

	switch c.Idempotency.Backend {
	case "postgres":
	case "redis":
		if c.Idempotency.RedisAddr == "" {
			return fmt.Errorf("redis address is required when idempotency backend is redis")
		}
	default:
		return fmt.Errorf("invalid idempotency backend: %s (must be postgres or redis)", c.Idempotency.Backend)
	}

	switch c.Orders.PartialFailurePolicy {
	case "confirm", "hold", "cancel":
	default:
		return fmt.Errorf("invalid partial failure policy: %s (must be confirm, hold, or cancel)", c.Orders.PartialFailurePolicy)
	}

	if c.Orders.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}

	if c.Orders.ReconcileMaxAttempts < 1 {
		return fmt.Errorf("reconcile max attempts must be at least 1")
	}

	if c.Orders.ReconcileBatchSize < 1 {
		return fmt.Errorf("reconcile batch size must be at least 1")
	}

	if c.Orders.ReconcilePendingAfter <= 0 {
		return fmt.Errorf("reconcile pending-after must be positive")
	}

	if c.Enrichment.Workers < 1 {
		return fmt.Errorf("enrichment workers must be at least 1")
	}

	if c.Enrichment.QueueSize < 1 {
		return fmt.Errorf("enrichment queue size must be at least 1")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required when S3 is enabled")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("S3 region is required when S3 is enabled")
		}
	}

	return nil
}

// Validate validates the inventory service configuration.
func (c *InventoryConfig) Validate() error {
	if err := validateCommon(c.Server, c.Database, c.Logger); err != nil {
		return err
	}

	if c.Auth.APIKey == "" {
		return fmt.Errorf("API key is required")
	}

	return nil
}

func validateCommon(server ServerConfig, db DatabaseConfig, logger LoggerConfig) error {
	if err := server.validate(); err != nil {
		return err
	}

	if db.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if db.Port < 1 || db.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", db.Port)
	}

	if db.User == "" {
		return fmt.Errorf("database user is required")
	}

	if db.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if db.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	if db.MinConnections < 1 {
		return fmt.Errorf("database min connections must be at least 1")
	}

	if db.MinConnections > db.MaxConnections {
		return fmt.Errorf("database min connections cannot exceed max connections")
	}

	return logger.validate()
}

func (c ServerConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Port)
	}
	return nil
}

func (c LoggerConfig) validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Level)
	}

	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Format)
	}

	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// Address returns the server address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func loadServer() ServerConfig {
	return ServerConfig{
		Host: getEnv("SERVER_HOST", "0.0.0.0"),
		Port: getEnvAsInt("SERVER_PORT", 8000),
	}
}

func loadDatabase(defaultName string) DatabaseConfig {
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", defaultName),
		MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
		MinConnections:  getEnvAsInt("DB_MIN_CONNECTIONS", 5),
		MaxConnLifetime: getEnvAsInt("DB_MAX_CONN_LIFETIME", 300),
	}
}

func loadLogger() LoggerConfig {
	return LoggerConfig{
		Level:  getEnv("LOG_LEVEL", "info"),
		Format: getEnv("LOG_FORMAT", "json"),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration retrieves an environment variable as a time.Duration
// (e.g. "5s", "250ms") or returns a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
