package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/observability"
	"github.com/platinummonkey/accessgate/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      postgres.ConnectionConfig
	Redis         postgres.RedisConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	RBAC          RBACConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Development relaxes the security header middleware (no HSTS, no SSL redirect)
	Development bool

	// TrustedProxies lists the CIDR blocks or addresses whose forwarding
	// headers are honored when resolving the client address
	TrustedProxies []string
}

// AuthConfig configures bearer token verification
type AuthConfig struct {
	// Secret is the HMAC-SHA256 key shared with the identity provider
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration

	// When OIDCIssuerURL is set tokens are verified against the provider's
	// published keys instead of Secret
	OIDCIssuerURL string
	OIDCClientID  string
	OIDCRoleClaim string
}

// RateLimitConfig configures the request gate
type RateLimitConfig struct {
	Enabled     bool
	MaxRequests int
	Window      time.Duration
	MaxKeys     int
	// PrincipalMaxRequests adds a per-principal limit after authentication
	// when positive
	PrincipalMaxRequests int
	// SweepSchedule is a cron spec for dropping idle keys
	SweepSchedule string
	Distributed   bool
	FailOpen      bool
}

// AuditConfig configures the audit pipeline
type AuditConfig struct {
	BufferSize  int
	Workers     int
	FilePath    string
	MaxFileSize int64
	MaxFiles    int
	DBEnabled   bool
	DBTimeout   time.Duration

	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	// FlushSchedule is a cron spec for uploading buffered records to S3
	FlushSchedule string
}

// RBACConfig configures role resolution and authorization
type RBACConfig struct {
	// ElevatedRoles pass every requirement and are trusted from the token
	ElevatedRoles []string
	// RegistryElevatedRoles pass every requirement while the role registry
	// says the user holds them
	RegistryElevatedRoles []string
	AuthorizationTimeout  time.Duration
	StoreTimeout          time.Duration
	SeedDefaults          bool
	SeedFile              string
	WatchSeedFile         bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
	Environment    string

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		RateLimit:     loadRateLimitConfig(),
		Audit:         loadAuditConfig(),
		RBAC:          loadRBACConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ACCESSGATE_HOST", "0.0.0.0"),
		Port:            getEnv("ACCESSGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ACCESSGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ACCESSGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ACCESSGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ACCESSGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("ACCESSGATE_HEALTH_PORT", "9090"),
		Development:     getEnvBool("ACCESSGATE_DEVELOPMENT", false),
		TrustedProxies:  getEnvList("ACCESSGATE_TRUSTED_PROXIES", nil),
	}
}

func loadDatabaseConfig() postgres.ConnectionConfig {
	cfg := postgres.DefaultConnectionConfig()

	cfg.Driver = getEnv("ACCESSGATE_DATABASE_DRIVER", cfg.Driver)
	cfg.URL = getEnv("ACCESSGATE_DATABASE_URL", "")
	if maxConns := getEnvInt("ACCESSGATE_DATABASE_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("ACCESSGATE_DATABASE_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("ACCESSGATE_DATABASE_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	cfg.MaxLifetime = getEnvDuration("ACCESSGATE_DATABASE_MAX_LIFETIME", cfg.MaxLifetime)
	cfg.MaxIdleTime = getEnvDuration("ACCESSGATE_DATABASE_MAX_IDLE_TIME", cfg.MaxIdleTime)
	cfg.SlowCheckoutThreshold = getEnvDuration("ACCESSGATE_DATABASE_SLOW_CHECKOUT", cfg.SlowCheckoutThreshold)

	return cfg
}

func loadRedisConfig() postgres.RedisConfig {
	cfg := postgres.RedisConfig{
		URL:      getEnv("ACCESSGATE_REDIS_URL", ""),
		Password: getEnv("ACCESSGATE_REDIS_PASSWORD", ""),
	}
	if redisDB := getEnvInt("ACCESSGATE_REDIS_DB", -1); redisDB >= 0 {
		cfg.DB = redisDB
	}
	cfg.MaxRetries = getEnvInt("ACCESSGATE_REDIS_MAX_RETRIES", 3)
	cfg.PoolSize = getEnvInt("ACCESSGATE_REDIS_POOL_SIZE", 10)
	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Secret:        getEnv("ACCESSGATE_AUTH_SECRET", ""),
		Issuer:        getEnv("ACCESSGATE_AUTH_ISSUER", ""),
		Audience:      getEnv("ACCESSGATE_AUTH_AUDIENCE", ""),
		Leeway:        getEnvDuration("ACCESSGATE_AUTH_LEEWAY", 0),
		OIDCIssuerURL: getEnv("ACCESSGATE_OIDC_ISSUER_URL", ""),
		OIDCClientID:  getEnv("ACCESSGATE_OIDC_CLIENT_ID", ""),
		OIDCRoleClaim: getEnv("ACCESSGATE_OIDC_ROLE_CLAIM", "roles"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:              getEnvBool("ACCESSGATE_RATE_LIMIT_ENABLED", true),
		MaxRequests:          getEnvInt("ACCESSGATE_RATE_LIMIT_MAX_REQUESTS", 100),
		Window:               getEnvDuration("ACCESSGATE_RATE_LIMIT_WINDOW", time.Minute),
		MaxKeys:              getEnvInt("ACCESSGATE_RATE_LIMIT_MAX_KEYS", 10000),
		PrincipalMaxRequests: getEnvInt("ACCESSGATE_RATE_LIMIT_PRINCIPAL_MAX_REQUESTS", 0),
		SweepSchedule:        getEnv("ACCESSGATE_RATE_LIMIT_SWEEP_SCHEDULE", "@every 1m"),
		Distributed:          getEnvBool("ACCESSGATE_RATE_LIMIT_DISTRIBUTED", false),
		FailOpen:             getEnvBool("ACCESSGATE_RATE_LIMIT_FAIL_OPEN", false),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		BufferSize:     getEnvInt("ACCESSGATE_AUDIT_BUFFER_SIZE", 1024),
		Workers:        getEnvInt("ACCESSGATE_AUDIT_WORKERS", 2),
		FilePath:       getEnv("ACCESSGATE_AUDIT_FILE_PATH", ""),
		MaxFileSize:    getEnvInt64("ACCESSGATE_AUDIT_MAX_FILE_SIZE", 100*1024*1024),
		MaxFiles:       getEnvInt("ACCESSGATE_AUDIT_MAX_FILES", 10),
		DBEnabled:      getEnvBool("ACCESSGATE_AUDIT_DB_ENABLED", true),
		DBTimeout:      getEnvDuration("ACCESSGATE_AUDIT_DB_TIMEOUT", 2*time.Second),
		S3Bucket:       getEnv("ACCESSGATE_AUDIT_S3_BUCKET", ""),
		S3Prefix:       getEnv("ACCESSGATE_AUDIT_S3_PREFIX", "audit"),
		S3Region:       getEnv("ACCESSGATE_AUDIT_S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("ACCESSGATE_AUDIT_S3_ENDPOINT", ""),
		S3AccessKey:    getEnv("ACCESSGATE_AUDIT_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("ACCESSGATE_AUDIT_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("ACCESSGATE_AUDIT_S3_USE_PATH_STYLE", false),
		FlushSchedule:  getEnv("ACCESSGATE_AUDIT_FLUSH_SCHEDULE", "@every 5m"),
	}
}

func loadRBACConfig() RBACConfig {
	return RBACConfig{
		ElevatedRoles:         getEnvList("ACCESSGATE_ELEVATED_ROLES", []string{"superadmin"}),
		RegistryElevatedRoles: getEnvList("ACCESSGATE_REGISTRY_ELEVATED_ROLES", []string{"Administrator"}),
		AuthorizationTimeout:  getEnvDuration("ACCESSGATE_AUTHZ_TIMEOUT", 2*time.Second),
		StoreTimeout:          getEnvDuration("ACCESSGATE_STORE_TIMEOUT", 5*time.Second),
		SeedDefaults:          getEnvBool("ACCESSGATE_SEED_DEFAULT_ROLES", true),
		SeedFile:              getEnv("ACCESSGATE_SEED_FILE", ""),
		WatchSeedFile:         getEnvBool("ACCESSGATE_WATCH_SEED_FILE", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("ACCESSGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ACCESSGATE_METRICS_ENABLED", true),
		Environment:        getEnv("ACCESSGATE_ENVIRONMENT", "production"),
		OTelEnabled:        getEnvBool("ACCESSGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ACCESSGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ACCESSGATE_OTEL_SERVICE_NAME", "accessgate"),
		OTelServiceVersion: getEnv("ACCESSGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ACCESSGATE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("ACCESSGATE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if _, err := httputil.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return err
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Auth.OIDCIssuerURL != "" {
		if c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC client id is required when an OIDC issuer is configured")
		}
	} else if len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth secret must be at least 32 bytes")
	}
	if c.Auth.Leeway < 0 {
		return fmt.Errorf("auth leeway must not be negative")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.MaxRequests <= 0 {
			return fmt.Errorf("rate limit max requests must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
		if c.RateLimit.MaxKeys <= 0 {
			return fmt.Errorf("rate limit max keys must be positive")
		}
		if c.RateLimit.PrincipalMaxRequests < 0 {
			return fmt.Errorf("rate limit principal max requests must not be negative")
		}
		if c.RateLimit.Distributed && c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for distributed rate limiting")
		}
	}

	if c.Audit.BufferSize <= 0 {
		return fmt.Errorf("audit buffer size must be positive")
	}
	if c.Audit.Workers <= 0 {
		return fmt.Errorf("audit workers must be positive")
	}

	if c.RBAC.AuthorizationTimeout <= 0 {
		return fmt.Errorf("authorization timeout must be positive")
	}
	if c.RBAC.WatchSeedFile && c.RBAC.SeedFile == "" {
		return fmt.Errorf("seed file is required when watching is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
