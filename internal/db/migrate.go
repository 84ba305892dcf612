/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"gorm.io/gorm"

	"github.com/friendsincode/veriscan/internal/models"
)

// Migrate applies schema migrations for all persistent models.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.StateEntry{},
		&models.Report{},
		&models.APIKey{},
	)
}
