package reports

import "github.com/google/uuid"

// Record is one persisted facet row in the form handed to vectorization.
type Record struct {
	Collection   string         `json:"collection_name"`
	CollectionID uuid.UUID      `json:"collection_id"`
	Data         map[string]any `json:"record"`
}

// FacetSet holds every facet row produced by one extraction, ready to persist.
type FacetSet struct {
	Metadata      *ReportMetadata
	Specimen      *SpecimenValidity
	TestResults   []TestResult
	Screening     []ScreeningTest
	Confirmations []ConfirmationTest
	Medications   []ReportedMedication
}

func (f FacetSet) Empty() bool {
	return f.Metadata == nil && f.Specimen == nil &&
		len(f.TestResults) == 0 && len(f.Screening) == 0 &&
		len(f.Confirmations) == 0 && len(f.Medications) == 0
}
