package reports

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Report struct {
	ID           uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID      uuid.UUID     `gorm:"type:uuid;not null;index" json:"owner_id"`
	URL          string        `gorm:"column:url;not null" json:"url"`
	Status       Status        `gorm:"column:status;type:varchar(16);not null;default:'pending';index:idx_report_status_deleted,priority:1" json:"status"`
	ErrorMessage string        `gorm:"column:error_message" json:"error_message,omitempty"`
	Attempts     int           `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Deleted      bool          `gorm:"column:deleted;not null;default:false;index:idx_report_status_deleted,priority:2" json:"deleted"`
	Media        []ReportMedia `gorm:"foreignKey:ReportID" json:"media,omitempty"`
	CreatedAt    time.Time     `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Report) TableName() string { return "reports" }

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	return nil
}

// DataExtracted, Enqueued and Errored expose the legacy flag view of Status.
func (r *Report) DataExtracted() bool { return r.Status == StatusCompleted }
func (r *Report) Enqueued() bool      { return r.Status == StatusEnqueued }
func (r *Report) Errored() bool       { return r.Status == StatusErrored }

// ImageRefs returns the primary url followed by any attached media, without duplicates.
func (r *Report) ImageRefs() []string {
	out := make([]string, 0, 1+len(r.Media))
	seen := map[string]struct{}{}
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	add(r.URL)
	for _, m := range r.Media {
		add(m.URL)
	}
	return out
}

type ReportMedia struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID  uuid.UUID `gorm:"type:uuid;not null;index" json:"report_id"`
	URL       string    `gorm:"column:url;not null" json:"url"`
	Position  int       `gorm:"column:position;not null;default:0" json:"position"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (ReportMedia) TableName() string { return "reports_media" }

func (m *ReportMedia) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
