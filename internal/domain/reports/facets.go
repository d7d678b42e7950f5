package reports

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Collection names double as table names and as the collection_name payload of vector points.
const (
	CollectionMetadata         = "report_metadata"
	CollectionSpecimenValidity = "specimen_validity"
	CollectionTestResults      = "test_results"
	CollectionScreeningTests   = "screening_tests"
	CollectionConfirmation     = "confirmation_tests"
	CollectionMedications      = "reported_medications"
)

// Collections lists facet collections in persistence order.
var Collections = []string{
	CollectionMetadata,
	CollectionSpecimenValidity,
	CollectionTestResults,
	CollectionScreeningTests,
	CollectionConfirmation,
	CollectionMedications,
}

type ReportMetadata struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"report_id"`
	PatientName     *string   `json:"patient_name,omitempty"`
	ReportType      *string   `gorm:"size:100" json:"report_type,omitempty"`
	AccessionNumber *string   `gorm:"size:100" json:"accession_number,omitempty"`
	CollectionDate  *string   `gorm:"size:64" json:"collection_date,omitempty"`
	ReceivedDate    *string   `gorm:"size:64" json:"received_date,omitempty"`
	ReportDate      *string   `gorm:"size:64" json:"report_date,omitempty"`
	LabName         *string   `gorm:"size:255" json:"lab_name,omitempty"`
	LabDirector     *string   `gorm:"size:255" json:"lab_director,omitempty"`
	CLIANumber      *string   `gorm:"column:clia_number;size:50" json:"clia_number,omitempty"`
	CAPNumber       *string   `gorm:"column:cap_number;size:50" json:"cap_number,omitempty"`
	SampleType      *string   `gorm:"size:100" json:"sample_type,omitempty"`
	RawOCRText      *string   `gorm:"column:raw_ocr_text;type:text" json:"-"`
	Notes           *string   `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt       time.Time `gorm:"not null;autoCreateTime" json:"-"`
}

func (ReportMetadata) TableName() string { return CollectionMetadata }

type SpecimenValidity struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID              uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"report_id"`
	SpecificGravity       *float64  `json:"specific_gravity,omitempty"`
	SpecificGravityStatus *string   `gorm:"size:20" json:"specific_gravity_status,omitempty"`
	PHLevel               *float64  `gorm:"column:ph_level" json:"ph_level,omitempty"`
	PHStatus              *string   `gorm:"column:ph_status;size:20" json:"ph_status,omitempty"`
	Creatinine            *float64  `json:"creatinine,omitempty"`
	CreatinineUnit        *string   `gorm:"size:20" json:"creatinine_unit,omitempty"`
	CreatinineStatus      *string   `gorm:"size:20" json:"creatinine_status,omitempty"`
	Oxidants              *string   `gorm:"size:50" json:"oxidants,omitempty"`
	OxidantsStatus        *string   `gorm:"size:20" json:"oxidants_status,omitempty"`
	IsValid               *bool     `json:"is_valid,omitempty"`
	CreatedAt             time.Time `gorm:"not null;autoCreateTime" json:"-"`
}

func (SpecimenValidity) TableName() string { return CollectionSpecimenValidity }

type TestResult struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID        uuid.UUID `gorm:"type:uuid;not null;index" json:"report_id"`
	TestName        *string   `gorm:"size:255" json:"test_name,omitempty"`
	TestCategory    *string   `gorm:"size:100" json:"test_category,omitempty"`
	Outcome         *string   `gorm:"size:255" json:"outcome,omitempty"`
	ResultValue     *string   `gorm:"size:100" json:"result_value,omitempty"`
	ResultNumeric   *float64  `json:"result_numeric,omitempty"`
	Unit            *string   `gorm:"size:50" json:"unit,omitempty"`
	CutoffValue     *string   `gorm:"size:50" json:"cutoff_value,omitempty"`
	ReferenceRange  *string   `gorm:"size:100" json:"reference_range,omitempty"`
	DetectionWindow *string   `gorm:"size:100" json:"detection_window,omitempty"`
	IsAbnormal      *bool     `json:"is_abnormal,omitempty"`
	IsCritical      *bool     `json:"is_critical,omitempty"`
	CreatedAt       time.Time `gorm:"not null;autoCreateTime" json:"-"`
}

func (TestResult) TableName() string { return CollectionTestResults }

type ScreeningTest struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID    uuid.UUID `gorm:"type:uuid;not null;index" json:"report_id"`
	TestName    *string   `gorm:"size:255" json:"test_name,omitempty"`
	Outcome     *string   `gorm:"size:32" json:"outcome,omitempty"`
	ResultValue *string   `gorm:"size:100" json:"result_value,omitempty"`
	CutoffValue *string   `gorm:"size:50" json:"cutoff_value,omitempty"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime" json:"-"`
}

func (ScreeningTest) TableName() string { return CollectionScreeningTests }

type ConfirmationTest struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID        uuid.UUID `gorm:"type:uuid;not null;index" json:"report_id"`
	TestName        *string   `gorm:"size:255" json:"test_name,omitempty"`
	Method          *string   `gorm:"size:100" json:"method,omitempty"`
	Outcome         *string   `gorm:"size:255" json:"outcome,omitempty"`
	ResultValue     *string   `gorm:"size:100" json:"result_value,omitempty"`
	ResultNumeric   *float64  `json:"result_numeric,omitempty"`
	Unit            *string   `gorm:"size:50" json:"unit,omitempty"`
	CutoffValue     *string   `gorm:"size:50" json:"cutoff_value,omitempty"`
	DetectionWindow *string   `gorm:"size:100" json:"detection_window,omitempty"`
	CreatedAt       time.Time `gorm:"not null;autoCreateTime" json:"-"`
}

func (ConfirmationTest) TableName() string { return CollectionConfirmation }

type ReportedMedication struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID       uuid.UUID `gorm:"type:uuid;not null;index" json:"report_id"`
	MedicationName *string   `gorm:"size:255" json:"medication_name,omitempty"`
	IsTested       *bool     `json:"is_tested,omitempty"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime" json:"-"`
}

func (ReportedMedication) TableName() string { return CollectionMedications }

// ExtractionQuarantine keeps completions that could not be decoded, one row per attempt.
type ExtractionQuarantine struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"report_id"`
	Attempt    int            `gorm:"not null" json:"attempt"`
	Completion string         `gorm:"type:text" json:"completion"`
	ParseError string         `gorm:"type:text" json:"parse_error"`
	Details    datatypes.JSON `gorm:"type:jsonb" json:"details"`
	CreatedAt  time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (ExtractionQuarantine) TableName() string { return "extraction_quarantine" }

func (m *ReportMetadata) BeforeCreate(tx *gorm.DB) error       { m.ID = ensureID(m.ID); return nil }
func (s *SpecimenValidity) BeforeCreate(tx *gorm.DB) error     { s.ID = ensureID(s.ID); return nil }
func (t *TestResult) BeforeCreate(tx *gorm.DB) error           { t.ID = ensureID(t.ID); return nil }
func (t *ScreeningTest) BeforeCreate(tx *gorm.DB) error        { t.ID = ensureID(t.ID); return nil }
func (t *ConfirmationTest) BeforeCreate(tx *gorm.DB) error     { t.ID = ensureID(t.ID); return nil }
func (m *ReportedMedication) BeforeCreate(tx *gorm.DB) error   { m.ID = ensureID(m.ID); return nil }
func (q *ExtractionQuarantine) BeforeCreate(tx *gorm.DB) error { q.ID = ensureID(q.ID); return nil }

func ensureID(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}

// FacetModels returns one zero value per facet table, in persistence order.
func FacetModels() []any {
	return []any{
		&ReportMetadata{},
		&SpecimenValidity{},
		&TestResult{},
		&ScreeningTest{},
		&ConfirmationTest{},
		&ReportedMedication{},
	}
}

// NewFacet returns an empty model for a collection name, or nil if unknown.
func NewFacet(collection string) any {
	switch collection {
	case CollectionMetadata:
		return &ReportMetadata{}
	case CollectionSpecimenValidity:
		return &SpecimenValidity{}
	case CollectionTestResults:
		return &TestResult{}
	case CollectionScreeningTests:
		return &ScreeningTest{}
	case CollectionConfirmation:
		return &ConfirmationTest{}
	case CollectionMedications:
		return &ReportedMedication{}
	default:
		return nil
	}
}
