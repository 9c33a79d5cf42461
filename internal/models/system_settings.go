/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"gorm.io/gorm"
)

// SystemSettings stores process-wide toggles.
// Uses singleton pattern with a fixed ID=1 row.
type SystemSettings struct {
	ID               int  `gorm:"primaryKey"`
	AutoEndEnabled   bool `gorm:"default:false"`
	CleanupDownloads bool `gorm:"default:false"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName returns the table name for GORM.
func (SystemSettings) TableName() string {
	return "system_settings"
}

// GetSystemSettings retrieves the singleton settings row, creating it from
// defaults if it doesn't exist.
func GetSystemSettings(db *gorm.DB, defaults SystemSettings) (*SystemSettings, error) {
	defaults.ID = 1
	var settings SystemSettings
	result := db.Where(SystemSettings{ID: 1}).Attrs(defaults).FirstOrCreate(&settings)
	if result.Error != nil {
		return nil, result.Error
	}
	return &settings, nil
}
