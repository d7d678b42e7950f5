package jobs

import (
	"context"

	"github.com/google/uuid"

	types "github.com/yungbote/labtrace-backend/internal/domain/reports"
)

const (
	QueueReportTasks   = "report_tasks"
	QueueVectorization = "raw_data_vectorization"
)

// Queues lists every queue consumed by a worker.
var Queues = []string{QueueReportTasks, QueueVectorization}

// ReportTask is the admission batch handed to the report worker.
type ReportTask struct {
	ReportIDs []uuid.UUID `json:"report_ids"`
}

// VectorizationJob carries the cleaned facet records of one completed report.
type VectorizationJob struct {
	ReportID uuid.UUID      `json:"report_id"`
	OwnerID  uuid.UUID      `json:"owner_id"`
	Records  []types.Record `json:"records"`
	// RawText is the full OCR text, embedded as one point in the raw collection.
	RawText string `json:"raw_text,omitempty"`
}

// Publisher pushes a JSON payload onto a named queue.
type Publisher interface {
	Push(ctx context.Context, queue string, v any) (string, error)
}
