/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-backed read-through layer for settings lookups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/voxqueue/internal/telemetry"
)

// Default TTL values for different cache types
const (
	DefaultChatSettingsTTL = 10 * time.Minute
	DefaultSystemTTL       = 1 * time.Minute
)

// Key prefixes for Redis cache
const (
	keyPrefix       = "voxqueue:cache:"
	KeyChatSettings = keyPrefix + "chat:" // + chat_id
	KeySystem       = keyPrefix + "system"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ChatSettingsTTL time.Duration
	SystemTTL       time.Duration

	// If true, disable caching after the first Redis error.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:       "localhost:6379",
		ChatSettingsTTL: DefaultChatSettingsTTL,
		SystemTTL:       DefaultSystemTTL,
		DisableOnError:  true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. A nil *Cache is
// valid and behaves as a permanently disabled cache.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // circuit breaker
}

// New creates a cache. An unreachable Redis yields a disabled cache, not an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.ChatSettingsTTL <= 0 {
		cfg.ChatSettingsTTL = DefaultChatSettingsTTL
	}
	if cfg.SystemTTL <= 0 {
		cfg.SystemTTL = DefaultSystemTTL
	}
	logger = logger.With().Str("component", "cache").Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, settings reads go straight to the database")
		_ = client.Close()
		return &Cache{logger: logger, config: cfg, disabled: true}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("redis cache initialized")
	return &Cache{client: client, logger: logger, config: cfg}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsAvailable reports whether the cache is operational.
func (c *Cache) IsAvailable() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	telemetry.CacheOperationsTotal.WithLabelValues(operation, "error").Inc()
	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		telemetry.CacheOperationsTotal.WithLabelValues("get", "miss").Inc()
		return false
	}
	if err != nil {
		c.handleError(err, "get")
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false
	}

	telemetry.CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	telemetry.CacheOperationsTotal.WithLabelValues("set", "ok").Inc()
	return nil
}

func (c *Cache) delete(ctx context.Context, keys ...string) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}

// ChatSettings is the cached form of a chat's playback configuration.
type ChatSettings struct {
	ChatID       string `json:"chat_id"`
	AudioBitrate int    `json:"audio_bitrate"`
	VideoBitrate int    `json:"video_bitrate"`
	Loop         int    `json:"loop"`
}

// GetChatSettings returns cached settings for a chat.
func (c *Cache) GetChatSettings(ctx context.Context, chatID string) (*ChatSettings, bool) {
	var s ChatSettings
	if !c.get(ctx, KeyChatSettings+chatID, &s) {
		return nil, false
	}
	return &s, true
}

// SetChatSettings stores settings for a chat.
func (c *Cache) SetChatSettings(ctx context.Context, s *ChatSettings) error {
	return c.set(ctx, KeyChatSettings+s.ChatID, s, c.config.ChatSettingsTTL)
}

// InvalidateChat drops a chat's cached settings.
func (c *Cache) InvalidateChat(ctx context.Context, chatID string) error {
	return c.delete(ctx, KeyChatSettings+chatID)
}

// System is the cached form of the process-wide toggles.
type System struct {
	AutoEndEnabled   bool `json:"autoend_enabled"`
	CleanupDownloads bool `json:"cleanup_downloads"`
}

// GetSystem returns the cached system toggles.
func (c *Cache) GetSystem(ctx context.Context) (*System, bool) {
	var s System
	if !c.get(ctx, KeySystem, &s) {
		return nil, false
	}
	return &s, true
}

// SetSystem stores the system toggles.
func (c *Cache) SetSystem(ctx context.Context, s *System) error {
	return c.set(ctx, KeySystem, s, c.config.SystemTTL)
}

// InvalidateSystem drops the cached system toggles.
func (c *Cache) InvalidateSystem(ctx context.Context) error {
	return c.delete(ctx, KeySystem)
}

// FlushAll removes every voxqueue cache key.
func (c *Cache) FlushAll(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}
	c.logger.Warn().Msg("flushing all cache data")

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}
		if len(keys) > 0 {
			if err := c.delete(ctx, keys...); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
