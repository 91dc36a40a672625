package app

import (
	"gorm.io/gorm"

	"github.com/hts-platform/hts-account/internal/model"
)

// AutoMigrate 自动执行数据库迁移
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Account{},
		&model.AccountLedger{},
		&model.Position{},
		&model.PositionLedger{},
		&model.OutboxEvent{},
		&model.ProcessedEvent{},
	)
}
