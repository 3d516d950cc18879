package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds the service settings read from the environment.
type ServerConfig struct {
	Port           string
	RegistryFile   string
	AdminAccounts  []string
	LogDevelopment bool
	// Price cache backend; empty means in-memory
	RedisAddr string
	// Audit journal sinks
	AuditDSN     string
	AuditDialect string // "postgres" or "mysql"
	KafkaBrokers []string
	KafkaTopic   string
	// WebSocket configuration
	WSEnabled        bool
	WSStreamInterval time.Duration
	// Keeper loop configuration
	KeeperEnabled  bool
	KeeperInterval time.Duration
	UpdateWorkers  int
}

// LoadServerConfig reads ServerConfig from environment variables with defaults.
func LoadServerConfig() (*ServerConfig, error) {
	wsInterval, err := time.ParseDuration(getEnvOrDefault("WS_STREAM_INTERVAL", "1s"))
	if err != nil {
		wsInterval = time.Second
	}

	keeperInterval, err := time.ParseDuration(getEnvOrDefault("KEEPER_INTERVAL", "15s"))
	if err != nil {
		keeperInterval = 15 * time.Second
	}

	workers, err := strconv.Atoi(getEnvOrDefault("UPDATE_WORKERS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid UPDATE_WORKERS: %w", err)
	}

	cfg := &ServerConfig{
		Port:             getEnvOrDefault("PORT", "8080"),
		RegistryFile:     getEnvOrDefault("REGISTRY_FILE", ""),
		AdminAccounts:    splitList(os.Getenv("ADMIN_ACCOUNTS")),
		LogDevelopment:   getEnvOrDefault("LOG_DEVELOPMENT", "false") == "true",
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		AuditDSN:         os.Getenv("AUDIT_DSN"),
		AuditDialect:     getEnvOrDefault("AUDIT_DIALECT", "postgres"),
		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:       getEnvOrDefault("KAFKA_TOPIC", "optionvault.audit"),
		WSEnabled:        getEnvOrDefault("WS_ENABLED", "true") == "true",
		WSStreamInterval: wsInterval,
		KeeperEnabled:    getEnvOrDefault("KEEPER_ENABLED", "true") == "true",
		KeeperInterval:   keeperInterval,
		UpdateWorkers:    workers,
	}

	if cfg.AuditDialect != "postgres" && cfg.AuditDialect != "mysql" {
		return nil, fmt.Errorf("invalid AUDIT_DIALECT: %s (must be 'postgres' or 'mysql')", cfg.AuditDialect)
	}
	if cfg.UpdateWorkers < 1 {
		return nil, fmt.Errorf("invalid UPDATE_WORKERS: %d (must be >= 1)", cfg.UpdateWorkers)
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
