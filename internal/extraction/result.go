package extraction

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/labtrace-backend/internal/domain/reports"
)

// Result is the decoded extraction payload. Every field is optional.
type Result struct {
	Metadata     *MetadataResult     `json:"report_metadata"`
	Specimen     *SpecimenResult     `json:"specimen_validity"`
	TestResults  []TestResultEntry   `json:"test_results"`
	Screening    []ScreeningEntry    `json:"screening_tests"`
	Confirmation []ConfirmationEntry `json:"confirmation_analysis"`
	Medications  []MedicationEntry   `json:"reported_medications"`
}

type MetadataResult struct {
	PatientName     *Str `json:"patient_name"`
	ReportType      *Str `json:"report_type"`
	AccessionNumber *Str `json:"accession_number"`
	CollectionDate  *Str `json:"collection_date"`
	ReceivedDate    *Str `json:"received_date"`
	ReportDate      *Str `json:"report_date"`
	SampleType      *Str `json:"sample_type"`
	LabName         *Str `json:"lab_name"`
	LabDirector     *Str `json:"lab_director"`
	CLIANumber      *Str `json:"clia_number"`
	CAPNumber       *Str `json:"cap_number"`
	Notes           *Str `json:"notes"`
}

type Measured struct {
	Value  *Str `json:"value"`
	Unit   *Str `json:"unit"`
	Status *Str `json:"status"`
}

// UnmarshalJSON also accepts a bare scalar in place of {"value": ...}.
func (m *Measured) UnmarshalJSON(b []byte) error {
	type plain Measured
	var p plain
	if err := json.Unmarshal(b, &p); err == nil {
		*m = Measured(p)
		return nil
	}
	var v Str
	if err := v.UnmarshalJSON(b); err != nil {
		return err
	}
	m.Value = &v
	return nil
}

type SpecimenResult struct {
	SpecificGravity *Measured `json:"specific_gravity"`
	PH              *Measured `json:"ph"`
	Creatinine      *Measured `json:"creatinine"`
	Oxidants        *Measured `json:"oxidants"`
	OverallValidity *Flag     `json:"overall_validity"`
}

type TestResultEntry struct {
	TestName        *Str  `json:"test_name"`
	TestCategory    *Str  `json:"test_category"`
	Outcome         *Str  `json:"outcome"`
	ResultValue     *Str  `json:"result_value"`
	CutoffValue     *Str  `json:"cutoff_value"`
	ReferenceRange  *Str  `json:"reference_range"`
	DetectionWindow *Str  `json:"detection_window"`
	Unit            *Str  `json:"unit"`
	IsAbnormal      *Flag `json:"is_abnormal"`
	IsCritical      *Flag `json:"is_critical"`
}

type ScreeningEntry struct {
	TestName    *Str `json:"test_name"`
	Outcome     *Str `json:"outcome"`
	ResultValue *Str `json:"result_value"`
	CutoffValue *Str `json:"cutoff_value"`
}

type ConfirmationEntry struct {
	TestName        *Str `json:"test_name"`
	Outcome         *Str `json:"outcome"`
	Method          *Str `json:"method"`
	ResultValue     *Str `json:"result_value"`
	CutoffValue     *Str `json:"cutoff_value"`
	Unit            *Str `json:"unit"`
	DetectionWindow *Str `json:"detection_window"`
}

type MedicationEntry struct {
	MedicationName *Str  `json:"medication_name"`
	IsTested       *Flag `json:"is_tested"`
}

// UnmarshalJSON also accepts a bare medication name.
func (m *MedicationEntry) UnmarshalJSON(b []byte) error {
	type plain MedicationEntry
	var p plain
	if err := json.Unmarshal(b, &p); err == nil {
		*m = MedicationEntry(p)
		return nil
	}
	var v Str
	if err := v.UnmarshalJSON(b); err != nil {
		return err
	}
	m.MedicationName = &v
	return nil
}

var outcomes = map[string]string{
	"positive":     "positive",
	"pos":          "positive",
	"detected":     "positive",
	"negative":     "negative",
	"neg":          "negative",
	"not detected": "negative",
	"normal":       "normal",
	"abnormal":     "abnormal",
	"inconclusive": "inconclusive",
}

// normalizeOutcome maps known outcome words to the canonical vocabulary and
// keeps anything else verbatim.
func normalizeOutcome(s *Str) *string {
	p := s.Ptr()
	if p == nil {
		return nil
	}
	if v, ok := outcomes[strings.ToLower(*p)]; ok {
		return &v
	}
	return p
}

func numericOf(s *Str) *float64 {
	p := s.Ptr()
	if p == nil {
		return nil
	}
	if v, ok := ParseNumeric(*p); ok {
		return &v
	}
	return nil
}

// Facets maps the result onto facet rows for reportID. rawText is kept on
// the metadata row. Entries without any populated field are dropped.
func (r *Result) Facets(reportID uuid.UUID, rawText string) types.FacetSet {
	var set types.FacetSet
	if r == nil {
		return set
	}
	if md := r.Metadata; md != nil || strings.TrimSpace(rawText) != "" {
		row := &types.ReportMetadata{ReportID: reportID}
		if md != nil {
			row.PatientName = md.PatientName.Ptr()
			row.ReportType = md.ReportType.Ptr()
			row.AccessionNumber = md.AccessionNumber.Ptr()
			row.CollectionDate = md.CollectionDate.Ptr()
			row.ReceivedDate = md.ReceivedDate.Ptr()
			row.ReportDate = md.ReportDate.Ptr()
			row.SampleType = md.SampleType.Ptr()
			row.LabName = md.LabName.Ptr()
			row.LabDirector = md.LabDirector.Ptr()
			row.CLIANumber = md.CLIANumber.Ptr()
			row.CAPNumber = md.CAPNumber.Ptr()
			row.Notes = md.Notes.Ptr()
		}
		if t := strings.TrimSpace(rawText); t != "" {
			row.RawOCRText = &t
		}
		set.Metadata = row
	}
	if sp := r.Specimen; sp != nil {
		row := &types.SpecimenValidity{ReportID: reportID, IsValid: sp.OverallValidity.Ptr()}
		if m := sp.SpecificGravity; m != nil {
			row.SpecificGravity, row.SpecificGravityStatus = numericOf(m.Value), m.Status.Ptr()
		}
		if m := sp.PH; m != nil {
			row.PHLevel, row.PHStatus = numericOf(m.Value), m.Status.Ptr()
		}
		if m := sp.Creatinine; m != nil {
			row.Creatinine, row.CreatinineUnit, row.CreatinineStatus = numericOf(m.Value), m.Unit.Ptr(), m.Status.Ptr()
		}
		if m := sp.Oxidants; m != nil {
			row.Oxidants, row.OxidantsStatus = m.Value.Ptr(), m.Status.Ptr()
		}
		if !specimenEmpty(row) {
			set.Specimen = row
		}
	}
	for _, e := range r.TestResults {
		row := types.TestResult{
			ReportID:        reportID,
			TestName:        e.TestName.Ptr(),
			TestCategory:    e.TestCategory.Ptr(),
			Outcome:         normalizeOutcome(e.Outcome),
			ResultValue:     e.ResultValue.Ptr(),
			ResultNumeric:   numericOf(e.ResultValue),
			Unit:            e.Unit.Ptr(),
			CutoffValue:     e.CutoffValue.Ptr(),
			ReferenceRange:  e.ReferenceRange.Ptr(),
			DetectionWindow: e.DetectionWindow.Ptr(),
			IsAbnormal:      e.IsAbnormal.Ptr(),
			IsCritical:      e.IsCritical.Ptr(),
		}
		if !testResultEmpty(&row) {
			set.TestResults = append(set.TestResults, row)
		}
	}
	for _, e := range r.Screening {
		row := types.ScreeningTest{
			ReportID:    reportID,
			TestName:    e.TestName.Ptr(),
			Outcome:     normalizeOutcome(e.Outcome),
			ResultValue: e.ResultValue.Ptr(),
			CutoffValue: e.CutoffValue.Ptr(),
		}
		if !screeningEmpty(&row) {
			set.Screening = append(set.Screening, row)
		}
	}
	for _, e := range r.Confirmation {
		row := types.ConfirmationTest{
			ReportID:        reportID,
			TestName:        e.TestName.Ptr(),
			Method:          e.Method.Ptr(),
			Outcome:         normalizeOutcome(e.Outcome),
			ResultValue:     e.ResultValue.Ptr(),
			ResultNumeric:   numericOf(e.ResultValue),
			Unit:            e.Unit.Ptr(),
			CutoffValue:     e.CutoffValue.Ptr(),
			DetectionWindow: e.DetectionWindow.Ptr(),
		}
		if !confirmationEmpty(&row) {
			set.Confirmations = append(set.Confirmations, row)
		}
	}
	for _, e := range r.Medications {
		if name := e.MedicationName.Ptr(); name != nil {
			set.Medications = append(set.Medications, types.ReportedMedication{
				ReportID:       reportID,
				MedicationName: name,
				IsTested:       e.IsTested.Ptr(),
			})
		}
	}
	return set
}

func specimenEmpty(s *types.SpecimenValidity) bool {
	return s.SpecificGravity == nil && s.SpecificGravityStatus == nil &&
		s.PHLevel == nil && s.PHStatus == nil &&
		s.Creatinine == nil && s.CreatinineUnit == nil && s.CreatinineStatus == nil &&
		s.Oxidants == nil && s.OxidantsStatus == nil && s.IsValid == nil
}

// Entries with at least one non-null field are kept, even without a name.
func testResultEmpty(t *types.TestResult) bool {
	return t.TestName == nil && t.TestCategory == nil && t.Outcome == nil &&
		t.ResultValue == nil && t.ResultNumeric == nil && t.Unit == nil &&
		t.CutoffValue == nil && t.ReferenceRange == nil && t.DetectionWindow == nil &&
		t.IsAbnormal == nil && t.IsCritical == nil
}

func screeningEmpty(t *types.ScreeningTest) bool {
	return t.TestName == nil && t.Outcome == nil && t.ResultValue == nil && t.CutoffValue == nil
}

func confirmationEmpty(t *types.ConfirmationTest) bool {
	return t.TestName == nil && t.Method == nil && t.Outcome == nil &&
		t.ResultValue == nil && t.ResultNumeric == nil && t.Unit == nil &&
		t.CutoffValue == nil && t.DetectionWindow == nil
}
