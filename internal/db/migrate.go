/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"gorm.io/gorm"

	"github.com/friendsincode/voxqueue/internal/models"
)

// Migrate applies the schema with GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.SystemSettings{},
		&models.ChatSettings{},
		&models.ActiveChat{},
		&models.PlayHistory{},
	); err != nil {
		return err
	}

	return resetActiveChats(database)
}

// resetActiveChats drops active markers left by a previous process; no
// assistant is in a call right after startup.
func resetActiveChats(database *gorm.DB) error {
	return database.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.ActiveChat{}).Error
}
