/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/voxqueue/internal/telemetry"
)

const startTimeKey = "voxqueue:start_time"

// RegisterCallbacks instruments every CRUD operation with query metrics.
func RegisterCallbacks(database *gorm.DB) error {
	cb := database.Callback()
	hooks := []struct {
		op       string
		register func(before, after func(*gorm.DB)) error
	}{
		{"query", func(before, after func(*gorm.DB)) error {
			if err := cb.Query().Before("gorm:query").Register("telemetry:before_query", before); err != nil {
				return err
			}
			return cb.Query().After("gorm:query").Register("telemetry:after_query", after)
		}},
		{"create", func(before, after func(*gorm.DB)) error {
			if err := cb.Create().Before("gorm:create").Register("telemetry:before_create", before); err != nil {
				return err
			}
			return cb.Create().After("gorm:create").Register("telemetry:after_create", after)
		}},
		{"update", func(before, after func(*gorm.DB)) error {
			if err := cb.Update().Before("gorm:update").Register("telemetry:before_update", before); err != nil {
				return err
			}
			return cb.Update().After("gorm:update").Register("telemetry:after_update", after)
		}},
		{"delete", func(before, after func(*gorm.DB)) error {
			if err := cb.Delete().Before("gorm:delete").Register("telemetry:before_delete", before); err != nil {
				return err
			}
			return cb.Delete().After("gorm:delete").Register("telemetry:after_delete", after)
		}},
	}

	for _, h := range hooks {
		if err := h.register(markStart, observe(h.op)); err != nil {
			return fmt.Errorf("register %s callbacks: %w", h.op, err)
		}
	}
	return nil
}

func markStart(tx *gorm.DB) {
	tx.InstanceSet(startTimeKey, time.Now())
}

func observe(op string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		v, ok := tx.InstanceGet(startTimeKey)
		if !ok {
			return
		}
		started, ok := v.(time.Time)
		if !ok {
			return
		}

		table := tx.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DatabaseQueryDuration.WithLabelValues(op, table).Observe(time.Since(started).Seconds())

		if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(op, "query_error").Inc()
		}
	}
}

// UpdateConnectionMetrics publishes connection pool stats.
func UpdateConnectionMetrics(database *gorm.DB) {
	sqlDB, err := database.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
