// Package config provides configuration management for CostQ.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	ListenAddr  string

	// Connection and query admission ceilings.
	MaxConnections        int
	MaxConnectionsPerUser int
	MaxQueries            int
	MaxQueriesPerUser     int

	// Lifecycle timeouts.
	HeartbeatTimeout time.Duration
	IdleTimeout      time.Duration
	ReaperInterval   time.Duration
	CancelGrace      time.Duration

	// Per-user query rate limiting (sliding window).
	RateLimitMax    int
	RateLimitWindow time.Duration

	// REST API rate limiting (ulule/limiter).
	APIRateLimitRequests int64
	APIRateLimitPeriod   string

	// RedisAddr enables a shared rate-limit store when set.
	RedisAddr string

	// JWTSecret signs access tokens. Required outside development.
	JWTSecret string
	// TokenTTL is the access token lifetime.
	TokenTTL time.Duration

	// Transcript archival. Disabled when ArchiveBucket is empty.
	ArchiveBucket string
	ArchiveRegion string

	// MCPServersFile points at the YAML tool-server definitions.
	MCPServersFile string
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	return ServerConfig{
		Environment: env,
		ListenAddr:  getEnvStr("COSTQ_LISTEN_ADDR", ":8080"),

		MaxConnections:        getEnvInt("COSTQ_MAX_CONNECTIONS", 100),
		MaxConnectionsPerUser: getEnvInt("COSTQ_MAX_CONNECTIONS_PER_USER", 1),
		MaxQueries:            getEnvInt("COSTQ_MAX_QUERIES", 20),
		MaxQueriesPerUser:     getEnvInt("COSTQ_MAX_QUERIES_PER_USER", 3),

		HeartbeatTimeout: getEnvDuration("COSTQ_HEARTBEAT_TIMEOUT", 120*time.Second),
		IdleTimeout:      getEnvDuration("COSTQ_IDLE_TIMEOUT", 900*time.Second),
		ReaperInterval:   getEnvDuration("COSTQ_REAPER_INTERVAL", 60*time.Second),
		CancelGrace:      getEnvDuration("COSTQ_CANCEL_GRACE", 5*time.Second),

		RateLimitMax:    getEnvInt("COSTQ_RATE_LIMIT_MAX", 60),
		RateLimitWindow: getEnvDuration("COSTQ_RATE_LIMIT_WINDOW", 60*time.Second),

		APIRateLimitRequests: int64(getEnvInt("COSTQ_API_RATE_LIMIT_REQUESTS", 100)),
		APIRateLimitPeriod:   getEnvStr("COSTQ_API_RATE_LIMIT_PERIOD", "1m"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		JWTSecret: os.Getenv("COSTQ_JWT_SECRET"),
		TokenTTL:  getEnvDuration("COSTQ_TOKEN_TTL", 24*time.Hour),

		ArchiveBucket: os.Getenv("COSTQ_ARCHIVE_BUCKET"),
		ArchiveRegion: getEnvStr("COSTQ_ARCHIVE_REGION", "us-east-1"),

		MCPServersFile: getEnvStr("COSTQ_MCP_SERVERS_FILE", "mcp-servers.yaml"),
	}
}

// getEnvStr reads a string from an environment variable, returning the default if unset.
func getEnvStr(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a duration from an environment variable. Bare integers
// are treated as seconds for compatibility with older deployments.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(val); err == nil {
		if n < 0 {
			return defaultVal
		}
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		return defaultVal
	}
	return d
}
