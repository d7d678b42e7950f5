package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/labtrace-backend/internal/domain/reports"
)

func AutoMigrateAll(db *gorm.DB) error {
	models := []any{
		&reports.Report{},
		&reports.ReportMedia{},
		&reports.ExtractionQuarantine{},
	}
	models = append(models, reports.FacetModels()...)
	return db.AutoMigrate(models...)
}
