package reports

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/labtrace-backend/internal/domain/reports"
	"github.com/yungbote/labtrace-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

type ReportRepo interface {
	Create(dbc dbctx.Context, ownerID uuid.UUID, url string, mediaURLs []string) (*types.Report, error)
	Get(dbc dbctx.Context, id uuid.UUID) (*types.Report, error)
	GetForProcessing(dbc dbctx.Context, id uuid.UUID) (*types.Report, error)
	ClaimPending(dbc dbctx.Context, limit int) ([]uuid.UUID, error)
	Transition(dbc dbctx.Context, id uuid.UUID, from, to types.Status, extra map[string]interface{}) error
	MarkCompleted(dbc dbctx.Context, id uuid.UUID) error
	MarkErrored(dbc dbctx.Context, id uuid.UUID, message string) error
	RevertToPending(dbc dbctx.Context, ids []uuid.UUID) (int64, error)
	RevertStale(dbc dbctx.Context, before time.Time, limit int) ([]uuid.UUID, error)
	IncrementAttempts(dbc dbctx.Context, id uuid.UUID) (int, error)
	SoftDelete(dbc dbctx.Context, ownerID, id uuid.UUID) error
	ListDeletedIDs(dbc dbctx.Context, limit int) ([]uuid.UUID, error)
	HardDeleteGraph(dbc dbctx.Context, ids []uuid.UUID) (int64, error)
	CountByStatus(dbc dbctx.Context) (map[types.Status]int64, error)
}

type reportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReportRepo(db *gorm.DB, baseLog *logger.Logger) ReportRepo {
	return &reportRepo{
		db:  db,
		log: baseLog.With("repo", "ReportRepo"),
	}
}

func (r *reportRepo) Create(dbc dbctx.Context, ownerID uuid.UUID, url string, mediaURLs []string) (*types.Report, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	url = strings.TrimSpace(url)
	if ownerID == uuid.Nil || url == "" {
		return nil, fmt.Errorf("%w: owner and url are required", pkgerrors.ErrInvalidArgument)
	}
	report := &types.Report{
		OwnerID: ownerID,
		URL:     url,
		Status:  types.StatusPending,
	}
	for i, u := range mediaURLs {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		report.Media = append(report.Media, types.ReportMedia{URL: u, Position: i})
	}
	if err := transaction.WithContext(dbc.Ctx).Create(report).Error; err != nil {
		return nil, err
	}
	return report, nil
}

func (r *reportRepo) Get(dbc dbctx.Context, id uuid.UUID) (*types.Report, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var report types.Report
	err := transaction.WithContext(dbc.Ctx).
		Preload("Media", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ?", id).
		Take(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// GetForProcessing returns nil without error when the report is missing or soft-deleted.
func (r *reportRepo) GetForProcessing(dbc dbctx.Context, id uuid.UUID) (*types.Report, error) {
	report, err := r.Get(dbc, id)
	if errors.Is(err, pkgerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if report.Deleted {
		return nil, nil
	}
	return report, nil
}

// ClaimPending moves up to limit pending reports to enqueued and returns the ids it won.
// Rows locked by a concurrent claimer are skipped; each row is flipped with a conditional
// update so only rows still pending at write time are returned.
func (r *reportRepo) ClaimPending(dbc dbctx.Context, limit int) ([]uuid.UUID, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		return nil, nil
	}
	claimed := make([]uuid.UUID, 0, limit)
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var candidates []uuid.UUID
		if err := txx.Model(&types.Report{}).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND deleted = ?", types.StatusPending, false).
			Order("created_at ASC").
			Limit(limit).
			Pluck("id", &candidates).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, id := range candidates {
			res := txx.Model(&types.Report{}).
				Where("id = ? AND status = ?", id, types.StatusPending).
				Updates(map[string]interface{}{
					"status":     types.StatusEnqueued,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				claimed = append(claimed, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *reportRepo) Transition(dbc dbctx.Context, id uuid.UUID, from, to types.Status, extra map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if err := types.CheckTransition(from, to); err != nil {
		return err
	}
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Report{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: report %s is not %s", pkgerrors.ErrIllegalTransition, id, from)
	}
	return nil
}

func (r *reportRepo) MarkCompleted(dbc dbctx.Context, id uuid.UUID) error {
	return r.Transition(dbc, id, types.StatusEnqueued, types.StatusCompleted, map[string]interface{}{
		"error_message": "",
	})
}

func (r *reportRepo) MarkErrored(dbc dbctx.Context, id uuid.UUID, message string) error {
	return r.Transition(dbc, id, types.StatusEnqueued, types.StatusErrored, map[string]interface{}{
		"error_message": truncate(message, 2000),
	})
}

func (r *reportRepo) RevertToPending(dbc dbctx.Context, ids []uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Report{}).
		Where("id IN ? AND status = ?", ids, types.StatusEnqueued).
		Updates(map[string]interface{}{
			"status":     types.StatusPending,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Info("reports reverted to pending", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// RevertStale puts back to pending up to limit reports that have sat in
// enqueued since before the cutoff, oldest first.
func (r *reportRepo) RevertStale(dbc dbctx.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var ids []uuid.UUID
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Report{}).
		Where("status = ? AND updated_at < ?", types.StatusEnqueued, before.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Report{}).
		Where("id IN ? AND status = ? AND updated_at < ?", ids, types.StatusEnqueued, before.UTC()).
		Updates(map[string]interface{}{
			"status":     types.StatusPending,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Warn("stale enqueued reports reverted to pending", "count", res.RowsAffected)
	}
	return ids, nil
}

func (r *reportRepo) IncrementAttempts(dbc dbctx.Context, id uuid.UUID) (int, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Report{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
		return 0, err
	}
	var attempts int
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Report{}).
		Select("attempts").
		Where("id = ?", id).
		Scan(&attempts).Error; err != nil {
		return 0, err
	}
	return attempts, nil
}

func (r *reportRepo) SoftDelete(dbc dbctx.Context, ownerID, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Report{}).
		Where("id = ? AND owner_id = ? AND deleted = ?", id, ownerID, false).
		Updates(map[string]interface{}{
			"deleted":    true,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}

func (r *reportRepo) ListDeletedIDs(dbc dbctx.Context, limit int) ([]uuid.UUID, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	if limit <= 0 {
		return ids, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Report{}).
		Where("deleted = ?", true).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// HardDeleteGraph removes soft-deleted reports together with every dependent row.
func (r *reportRepo) HardDeleteGraph(dbc dbctx.Context, ids []uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return 0, nil
	}
	var removed int64
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		dependents := append(types.FacetModels(), &types.ReportMedia{}, &types.ExtractionQuarantine{})
		for _, model := range dependents {
			if err := txx.Where("report_id IN ?", ids).Delete(model).Error; err != nil {
				return fmt.Errorf("delete %T: %w", model, err)
			}
		}
		res := txx.Where("id IN ? AND deleted = ?", ids, true).Delete(&types.Report{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (r *reportRepo) CountByStatus(dbc dbctx.Context) (map[types.Status]int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []struct {
		Status types.Status
		Count  int64
	}
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Report{}).
		Select("status, count(*) as count").
		Where("deleted = ?", false).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[types.Status]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
