// Package config loads vaultd settings from the environment and the vault
// bootstrap document from YAML.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds server configuration.
type Config struct {
	Port           string
	LogLevel       string
	LogFormat      string
	StoreDriver    string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	OTelEnabled    bool
	OTLPEndpoint   string
	JWTSecret      string
	JWTIssuer      string
	RateLimitRPS   float64
	RateLimitBurst int
	// GenesisUnix anchors the ledger sequence derived from wall time.
	GenesisUnix int64
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	if logFormat == "" {
		logFormat = "json"
	}

	driver := strings.ToLower(os.Getenv("STORE_DRIVER"))
	if driver == "" {
		// Lite mode: single-file sqlite, no external services.
		driver = "sqlite"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		if driver == "postgres" {
			dbURL = "postgres://vault@localhost:5432/vault?sslmode=disable"
		} else {
			dbURL = "file:vault.db?_pragma=busy_timeout(5000)"
		}
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = "vaultd"
	}

	otlp := os.Getenv("OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	return &Config{
		Port:           port,
		LogLevel:       logLevel,
		LogFormat:      logFormat,
		StoreDriver:    driver,
		DatabaseURL:    dbURL,
		RedisAddr:      redisAddr,
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		OTelEnabled:    os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:   otlp,
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      issuer,
		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),
		GenesisUnix:    int64(envInt("GENESIS_UNIX", 0)),
	}
}

func envFloat(name string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(name), 64); err == nil {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(name)); err == nil {
		return v
	}
	return def
}
