// Package config provides application configuration management from environment variables.
//
// # Overview
//
// LoadConfig reads every setting from ACCESSGATE_* environment variables, applies
// defaults and validates the result before any component is constructed.
//
// # Configuration Structure
//
// Server settings:
//
//	ACCESSGATE_HOST="0.0.0.0"
//	ACCESSGATE_PORT="8080"
//	ACCESSGATE_HEALTH_PORT="9090"
//	ACCESSGATE_SHUTDOWN_TIMEOUT="30s"
//
// Database settings:
//
//	ACCESSGATE_DATABASE_DRIVER="postgres"  # postgres or sqlite3
//	ACCESSGATE_DATABASE_URL="postgres://localhost/accessgate?sslmode=disable"
//	ACCESSGATE_DATABASE_MAX_CONNS="20"
//	ACCESSGATE_DATABASE_SLOW_CHECKOUT="2s"
//
// Authentication settings:
//
//	ACCESSGATE_AUTH_SECRET="<at least 32 bytes>"
//	ACCESSGATE_AUTH_ISSUER="https://id.example.com"
//	ACCESSGATE_AUTH_LEEWAY="0s"
//	ACCESSGATE_OIDC_ISSUER_URL=""          # switches to OIDC verification
//
// Rate limiting:
//
//	ACCESSGATE_RATE_LIMIT_MAX_REQUESTS="100"
//	ACCESSGATE_RATE_LIMIT_WINDOW="1m"
//	ACCESSGATE_RATE_LIMIT_MAX_KEYS="10000"
//	ACCESSGATE_RATE_LIMIT_DISTRIBUTED="false"  # requires ACCESSGATE_REDIS_URL
//
// Audit:
//
//	ACCESSGATE_AUDIT_BUFFER_SIZE="1024"
//	ACCESSGATE_AUDIT_FILE_PATH="/var/log/accessgate"
//	ACCESSGATE_AUDIT_S3_BUCKET=""
//
// Roles:
//
//	ACCESSGATE_ELEVATED_ROLES="superadmin,Administrator"
//	ACCESSGATE_SEED_FILE="/etc/accessgate/roles.yaml"
//
// Observability settings:
//
//	ACCESSGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	ACCESSGATE_METRICS_ENABLED="true"
//	ACCESSGATE_OTEL_ENABLED="true"
//	ACCESSGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatalf("Failed to load config: %v", err)
//	}
package config
