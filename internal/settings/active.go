/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/voxqueue/internal/models"
)

// AddActiveChat marks chatID as being served by slot.
func (s *Store) AddActiveChat(ctx context.Context, chatID string, slot int, video bool) error {
	row := models.ActiveChat{ChatID: chatID, Slot: slot, Video: video}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"slot", "video", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("add active chat: %w", err)
	}
	return nil
}

// RemoveActiveChat clears the active and video-active markers for chatID.
func (s *Store) RemoveActiveChat(ctx context.Context, chatID string) error {
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&models.ActiveChat{}).Error
	if err != nil {
		return fmt.Errorf("remove active chat: %w", err)
	}
	return nil
}

// SetVideo records whether the chat's active call carries video.
func (s *Store) SetVideo(ctx context.Context, chatID string, video bool) error {
	return s.updateActive(ctx, chatID, "video", video)
}

// SetMuted records the mute flag for an active chat.
func (s *Store) SetMuted(ctx context.Context, chatID string, muted bool) error {
	return s.updateActive(ctx, chatID, "muted", muted)
}

// SetMusicOn records whether playback is running (not paused).
func (s *Store) SetMusicOn(ctx context.Context, chatID string, on bool) error {
	return s.updateActive(ctx, chatID, "music_on", on)
}

func (s *Store) updateActive(ctx context.Context, chatID, column string, value bool) error {
	err := s.db.WithContext(ctx).Model(&models.ActiveChat{}).
		Where("chat_id = ?", chatID).
		Updates(map[string]any{column: value, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("update active chat %s: %w", column, err)
	}
	return nil
}

// ActiveChat returns the active marker for chatID.
func (s *Store) ActiveChat(ctx context.Context, chatID string) (models.ActiveChat, bool, error) {
	var row models.ActiveChat
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ActiveChat{}, false, nil
	}
	if err != nil {
		return models.ActiveChat{}, false, fmt.Errorf("load active chat: %w", err)
	}
	return row, true, nil
}

// IsActive reports whether an assistant is in chatID's call.
func (s *Store) IsActive(ctx context.Context, chatID string) (bool, error) {
	_, ok, err := s.ActiveChat(ctx, chatID)
	return ok, err
}

// ActiveChats lists every active chat ordered by chat id.
func (s *Store) ActiveChats(ctx context.Context) ([]models.ActiveChat, error) {
	var rows []models.ActiveChat
	if err := s.db.WithContext(ctx).Order("chat_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list active chats: %w", err)
	}
	return rows, nil
}

// RecordPlay appends a history row.
func (s *Store) RecordPlay(ctx context.Context, entry models.PlayHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("record play: %w", err)
	}
	return nil
}

// History returns the most recent plays for chatID, newest first.
func (s *Store) History(ctx context.Context, chatID string, limit int) ([]models.PlayHistory, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []models.PlayHistory
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return rows, nil
}
