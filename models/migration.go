package models

import (
	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&LineItem{}, &SubmissionSnapshot{},
		&Request{}, &AuditEntry{},
		&Notification{},
		&Shipment{},
	)
}
