/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package settings persists per-chat playback configuration and the
// process-wide toggles, with a Redis read-through cache in front of reads.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/voxqueue/internal/cache"
	"github.com/friendsincode/voxqueue/internal/models"
)

// Quality is the negotiated bitrate pair for a chat.
type Quality struct {
	AudioBitrate int `json:"audio_bitrate"`
	VideoBitrate int `json:"video_bitrate"`
}

// Defaults seeds the singleton system row on first use.
type Defaults struct {
	AutoEndEnabled   bool
	CleanupDownloads bool
}

// Store is the gorm-backed settings store.
type Store struct {
	db       *gorm.DB
	cache    *cache.Cache
	defaults Defaults
	logger   zerolog.Logger
}

// NewStore creates a settings store. c may be nil.
func NewStore(db *gorm.DB, c *cache.Cache, defaults Defaults, logger zerolog.Logger) *Store {
	return &Store{
		db:       db,
		cache:    c,
		defaults: defaults,
		logger:   logger.With().Str("component", "settings").Logger(),
	}
}

func (s *Store) chat(ctx context.Context, chatID string) (*cache.ChatSettings, error) {
	if cached, ok := s.cache.GetChatSettings(ctx, chatID); ok {
		return cached, nil
	}

	row := models.ChatSettings{
		ChatID:       chatID,
		AudioBitrate: models.DefaultAudioBitrate,
		VideoBitrate: models.DefaultVideoBitrate,
	}
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load chat settings: %w", err)
	}

	out := &cache.ChatSettings{
		ChatID:       chatID,
		AudioBitrate: row.AudioBitrate,
		VideoBitrate: row.VideoBitrate,
		Loop:         row.Loop,
	}
	if err := s.cache.SetChatSettings(ctx, out); err != nil {
		s.logger.Debug().Err(err).Str("chat_id", chatID).Msg("cache chat settings")
	}
	return out, nil
}

// upsertChat writes the named columns of row, creating it with defaults first.
func (s *Store) upsertChat(ctx context.Context, row *models.ChatSettings, columns ...string) error {
	if row.AudioBitrate == 0 {
		row.AudioBitrate = models.DefaultAudioBitrate
	}
	if row.VideoBitrate == 0 {
		row.VideoBitrate = models.DefaultVideoBitrate
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns(append(columns, "updated_at")),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("save chat settings: %w", err)
	}
	if err := s.cache.InvalidateChat(ctx, row.ChatID); err != nil {
		s.logger.Debug().Err(err).Str("chat_id", row.ChatID).Msg("invalidate chat settings")
	}
	return nil
}

// GetQuality returns the chat's bitrates, falling back to the defaults.
func (s *Store) GetQuality(ctx context.Context, chatID string) (Quality, error) {
	c, err := s.chat(ctx, chatID)
	if err != nil {
		return Quality{AudioBitrate: models.DefaultAudioBitrate, VideoBitrate: models.DefaultVideoBitrate}, err
	}
	return Quality{AudioBitrate: c.AudioBitrate, VideoBitrate: c.VideoBitrate}, nil
}

// SetQuality stores the chat's bitrates.
func (s *Store) SetQuality(ctx context.Context, chatID string, q Quality) error {
	if q.AudioBitrate <= 0 || q.VideoBitrate <= 0 {
		return fmt.Errorf("bitrates must be positive")
	}
	return s.upsertChat(ctx, &models.ChatSettings{
		ChatID:       chatID,
		AudioBitrate: q.AudioBitrate,
		VideoBitrate: q.VideoBitrate,
	}, "audio_bitrate", "video_bitrate")
}

// GetLoop returns the remaining repeats of the current track.
func (s *Store) GetLoop(ctx context.Context, chatID string) (int, error) {
	c, err := s.chat(ctx, chatID)
	if err != nil {
		return 0, err
	}
	return c.Loop, nil
}

// SetLoop persists the loop counter; negative values store 0.
func (s *Store) SetLoop(ctx context.Context, chatID string, n int) error {
	if n < 0 {
		n = 0
	}
	return s.upsertChat(ctx, &models.ChatSettings{ChatID: chatID, Loop: n}, "loop_count")
}

func (s *Store) system(ctx context.Context) (*cache.System, error) {
	if cached, ok := s.cache.GetSystem(ctx); ok {
		return cached, nil
	}
	row, err := models.GetSystemSettings(s.db.WithContext(ctx), models.SystemSettings{
		AutoEndEnabled:   s.defaults.AutoEndEnabled,
		CleanupDownloads: s.defaults.CleanupDownloads,
	})
	if err != nil {
		return nil, fmt.Errorf("load system settings: %w", err)
	}
	out := &cache.System{AutoEndEnabled: row.AutoEndEnabled, CleanupDownloads: row.CleanupDownloads}
	if err := s.cache.SetSystem(ctx, out); err != nil {
		s.logger.Debug().Err(err).Msg("cache system settings")
	}
	return out, nil
}

func (s *Store) setSystem(ctx context.Context, column string, value bool) error {
	if _, err := s.system(ctx); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&models.SystemSettings{}).
		Where("id = ?", 1).
		Updates(map[string]any{column: value, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("update system settings: %w", err)
	}
	if err := s.cache.InvalidateSystem(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("invalidate system settings")
	}
	return nil
}

// IsAutoEndEnabled reports the process-wide auto-end toggle.
func (s *Store) IsAutoEndEnabled(ctx context.Context) (bool, error) {
	sys, err := s.system(ctx)
	if err != nil {
		return s.defaults.AutoEndEnabled, err
	}
	return sys.AutoEndEnabled, nil
}

// SetAutoEnd flips the auto-end toggle.
func (s *Store) SetAutoEnd(ctx context.Context, enabled bool) error {
	return s.setSystem(ctx, "auto_end_enabled", enabled)
}

// IsCleanupEnabled reports whether downloaded files are removed after playback.
func (s *Store) IsCleanupEnabled(ctx context.Context) (bool, error) {
	sys, err := s.system(ctx)
	if err != nil {
		return s.defaults.CleanupDownloads, err
	}
	return sys.CleanupDownloads, nil
}

// SetCleanup flips the download cleanup toggle.
func (s *Store) SetCleanup(ctx context.Context, enabled bool) error {
	return s.setSystem(ctx, "cleanup_downloads", enabled)
}
