/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Default stream quality, matching what most clients negotiate.
const (
	DefaultAudioBitrate = 128
	DefaultVideoBitrate = 720
)

// ChatSettings holds per-chat playback configuration.
type ChatSettings struct {
	ChatID       string `gorm:"type:varchar(64);primaryKey"`
	AudioBitrate int    `gorm:"default:128"`
	VideoBitrate int    `gorm:"default:720"`
	Loop         int    `gorm:"column:loop_count;default:0"` // remaining repeats of the current track
	Language     string `gorm:"type:varchar(8);default:'en'"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName returns the table name for GORM.
func (ChatSettings) TableName() string {
	return "chat_settings"
}

// ActiveChat marks a chat whose assistant is currently in a voice chat.
type ActiveChat struct {
	ChatID    string `gorm:"type:varchar(64);primaryKey"`
	Slot      int
	Video     bool
	Muted     bool
	MusicOn   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (ActiveChat) TableName() string {
	return "active_chats"
}

// PlayHistory records every item that started playing.
type PlayHistory struct {
	ID          string `gorm:"type:varchar(36);primaryKey"`
	ChatID      string `gorm:"type:varchar(64);index"`
	Slot        int
	Title       string
	Ref         string
	SourceTag   string `gorm:"type:varchar(16)"`
	Kind        string `gorm:"type:varchar(8)"`
	RequestedBy string
	StartedAt   time.Time `gorm:"index"`
}

// TableName returns the table name for GORM.
func (PlayHistory) TableName() string {
	return "play_history"
}
