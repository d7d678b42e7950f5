package reports

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/labtrace-backend/internal/domain/reports"
	"github.com/yungbote/labtrace-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

type FacetRepo interface {
	// Persist writes the facet rows of one report in fixed order and returns one record per
	// row with searchable attributes.
	Persist(dbc dbctx.Context, reportID uuid.UUID, set types.FacetSet) ([]types.Record, error)
	// Lookup rehydrates a facet row, enforcing that it belongs to a live report of ownerID.
	Lookup(dbc dbctx.Context, ownerID uuid.UUID, collection string, id uuid.UUID) (map[string]any, error)
	Quarantine(dbc dbctx.Context, reportID uuid.UUID, attempt int, completion string, parseErr error, details map[string]any) error
	CountForReport(dbc dbctx.Context, reportID uuid.UUID) (int64, error)
}

type facetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFacetRepo(db *gorm.DB, baseLog *logger.Logger) FacetRepo {
	return &facetRepo{
		db:  db,
		log: baseLog.With("repo", "FacetRepo"),
	}
}

func (r *facetRepo) Persist(dbc dbctx.Context, reportID uuid.UUID, set types.FacetSet) ([]types.Record, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if reportID == uuid.Nil {
		return nil, fmt.Errorf("%w: report id required", pkgerrors.ErrInvalidArgument)
	}
	records := make([]types.Record, 0, 2+len(set.TestResults)+len(set.Screening)+len(set.Confirmations)+len(set.Medications))
	tx := transaction.WithContext(dbc.Ctx)

	create := func(collection string, row any, id func() uuid.UUID) error {
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("persist %s: %w", collection, err)
		}
		attrs, err := types.Attributes(row)
		if err != nil {
			return err
		}
		if len(attrs) == 0 {
			return nil
		}
		records = append(records, types.Record{Collection: collection, CollectionID: id(), Data: attrs})
		return nil
	}

	if m := set.Metadata; m != nil {
		m.ReportID = reportID
		if err := create(types.CollectionMetadata, m, func() uuid.UUID { return m.ID }); err != nil {
			return nil, err
		}
	}
	if s := set.Specimen; s != nil {
		s.ReportID = reportID
		if err := create(types.CollectionSpecimenValidity, s, func() uuid.UUID { return s.ID }); err != nil {
			return nil, err
		}
	}
	for i := range set.TestResults {
		row := &set.TestResults[i]
		row.ReportID = reportID
		if err := create(types.CollectionTestResults, row, func() uuid.UUID { return row.ID }); err != nil {
			return nil, err
		}
	}
	for i := range set.Screening {
		row := &set.Screening[i]
		row.ReportID = reportID
		if err := create(types.CollectionScreeningTests, row, func() uuid.UUID { return row.ID }); err != nil {
			return nil, err
		}
	}
	for i := range set.Confirmations {
		row := &set.Confirmations[i]
		row.ReportID = reportID
		if err := create(types.CollectionConfirmation, row, func() uuid.UUID { return row.ID }); err != nil {
			return nil, err
		}
	}
	for i := range set.Medications {
		row := &set.Medications[i]
		row.ReportID = reportID
		if err := create(types.CollectionMedications, row, func() uuid.UUID { return row.ID }); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (r *facetRepo) Lookup(dbc dbctx.Context, ownerID uuid.UUID, collection string, id uuid.UUID) (map[string]any, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	model := types.NewFacet(collection)
	if model == nil {
		return nil, fmt.Errorf("%w: unknown collection %q", pkgerrors.ErrInvalidArgument, collection)
	}
	err := transaction.WithContext(dbc.Ctx).
		Model(model).
		Select(collection+".*").
		Joins("JOIN reports ON reports.id = "+collection+".report_id").
		Where(collection+".id = ? AND reports.owner_id = ? AND reports.deleted = ?", id, ownerID, false).
		Take(model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return types.Attributes(model)
}

func (r *facetRepo) Quarantine(dbc dbctx.Context, reportID uuid.UUID, attempt int, completion string, parseErr error, details map[string]any) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	raw, err := json.Marshal(details)
	if err != nil {
		raw = []byte("{}")
	}
	row := &types.ExtractionQuarantine{
		ReportID:   reportID,
		Attempt:    attempt,
		Completion: completion,
		Details:    datatypes.JSON(raw),
	}
	if parseErr != nil {
		row.ParseError = parseErr.Error()
	}
	return transaction.WithContext(dbc.Ctx).Create(row).Error
}

func (r *facetRepo) CountForReport(dbc dbctx.Context, reportID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var total int64
	for _, model := range types.FacetModels() {
		var n int64
		if err := transaction.WithContext(dbc.Ctx).Model(model).Where("report_id = ?", reportID).Count(&n).Error; err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
