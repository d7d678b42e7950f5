package app

import (
	"gorm.io/gorm"

	reportsrepo "github.com/yungbote/labtrace-backend/internal/data/repos/reports"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

type Repos struct {
	Reports reportsrepo.ReportRepo
	Facets  reportsrepo.FacetRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Reports: reportsrepo.NewReportRepo(db, log),
		Facets:  reportsrepo.NewFacetRepo(db, log),
	}
}
