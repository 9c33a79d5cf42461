/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/voxqueue/internal/assistant"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string

	// Settings cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Call engine
	NATSURL             string
	EngineSubjectPrefix string
	EngineTimeout       time.Duration
	Assistants          []assistant.SlotConfig // only slots with a credential

	// Session behaviour
	AutoEndGrace         time.Duration
	AutoEndSweep         string // cron spec
	AutoEndDefault       bool
	AutoCleanupDownloads bool
	RemediationDelay     time.Duration

	// Media
	MediaRoot         string
	ResolverURL       string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Messaging
	DiscordToken  string // empty means log-only notifications
	TemplatesPath string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"VOXQUEUE_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"VOXQUEUE_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"VOXQUEUE_HTTP_PORT"}, 8080),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"VOXQUEUE_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:         getEnvAny([]string{"VOXQUEUE_DB_DSN"}, "file:voxqueue.db"),
		JWTSigningKey: getEnvAny([]string{"VOXQUEUE_JWT_SIGNING_KEY"}, ""),

		RedisAddr:     getEnvAny([]string{"VOXQUEUE_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"VOXQUEUE_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"VOXQUEUE_REDIS_DB", "REDIS_DB"}, 0),

		NATSURL:             getEnvAny([]string{"VOXQUEUE_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		EngineSubjectPrefix: getEnvAny([]string{"VOXQUEUE_ENGINE_SUBJECT"}, "voxqueue.engine"),
		EngineTimeout:       time.Duration(getEnvIntAny([]string{"VOXQUEUE_ENGINE_TIMEOUT_SECONDS"}, 15)) * time.Second,

		AutoEndGrace:         time.Duration(getEnvIntAny([]string{"VOXQUEUE_AUTOEND_MINUTES", "AUTO_END_TIME"}, 3)) * time.Minute,
		AutoEndSweep:         getEnvAny([]string{"VOXQUEUE_AUTOEND_SWEEP"}, "@every 15s"),
		AutoEndDefault:       getEnvBoolAny([]string{"VOXQUEUE_AUTOEND_ENABLED"}, false),
		AutoCleanupDownloads: getEnvBoolAny([]string{"VOXQUEUE_AUTO_DOWNLOADS_CLEAR", "AUTO_DOWNLOADS_CLEAR"}, false),
		RemediationDelay:     time.Duration(getEnvIntAny([]string{"VOXQUEUE_REMEDIATION_DELAY_MS"}, 4000)) * time.Millisecond,

		MediaRoot:         getEnvAny([]string{"VOXQUEUE_MEDIA_ROOT"}, "./downloads"),
		ResolverURL:       getEnvAny([]string{"VOXQUEUE_RESOLVER_URL"}, ""),
		S3AccessKeyID:     getEnvAny([]string{"VOXQUEUE_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"VOXQUEUE_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"VOXQUEUE_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Endpoint:        getEnvAny([]string{"VOXQUEUE_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"VOXQUEUE_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		DiscordToken:  getEnvAny([]string{"VOXQUEUE_DISCORD_TOKEN", "DISCORD_TOKEN"}, ""),
		TemplatesPath: getEnvAny([]string{"VOXQUEUE_TEMPLATES"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"VOXQUEUE_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"VOXQUEUE_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"VOXQUEUE_TRACING_SAMPLE_RATE"}, 1.0),
	}

	for slot := 1; slot <= assistant.MaxSlots; slot++ {
		cred := getEnvAny([]string{
			fmt.Sprintf("VOXQUEUE_ASSISTANT_%d", slot),
			fmt.Sprintf("STRING%d", slot),
		}, "")
		if cred != "" {
			cfg.Assistants = append(cfg.Assistants, assistant.SlotConfig{Slot: slot, Credential: cred})
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("VOXQUEUE_DB_DSN must be provided")
	}
	if c.JWTSigningKey == "" {
		return fmt.Errorf("VOXQUEUE_JWT_SIGNING_KEY must be provided")
	}
	if len(c.Assistants) == 0 {
		return fmt.Errorf("set VOXQUEUE_ASSISTANT_1..%d: %w", assistant.MaxSlots, assistant.ErrNoAssistants)
	}
	if c.AutoEndGrace <= 0 {
		return fmt.Errorf("VOXQUEUE_AUTOEND_MINUTES must be positive")
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("VOXQUEUE_TRACING_SAMPLE_RATE must be between 0 and 1")
	}

	if strings.EqualFold(c.Environment, "production") && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("VOXQUEUE_JWT_SIGNING_KEY must be at least 32 bytes in production")
	}
	return nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"STRING_SESSION":  "use VOXQUEUE_ASSISTANT_1 (or STRING1)",
		"JWT_SIGNING_KEY": "use VOXQUEUE_JWT_SIGNING_KEY",
		"AUTO_LEAVE_TIME": "use VOXQUEUE_AUTOEND_MINUTES",
		"TRACING_ENABLED": "use VOXQUEUE_TRACING_ENABLED",
		"OTLP_ENDPOINT":   "use VOXQUEUE_OTLP_ENDPOINT",
		"DATABASE_URL":    "use VOXQUEUE_DB_DSN with VOXQUEUE_DB_BACKEND",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
