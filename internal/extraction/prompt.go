package extraction

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"
)

const reportTextVar = "report_text"

const extractionTemplate = `You are a medical document data extraction assistant. Your task is to extract structured information from health and lab reports.

Extract the following information from the text below and return it in JSON format. If a field is not found, use null as the value.

Report Text:
{{.report_text}}

Instructions:
1. Extract ALL test names and their corresponding results, outcomes, cutoffs, and reference ranges.
2. Extract report metadata (accession number, collection date, lab details).
3. Do NOT extract patient name or patient identifying information; set patient_name to null.
4. For test results, create an array of objects with test_name, result_value, outcome, cutoff_value, reference_range, detection_window.
5. Normalize values (remove extra spaces, standardize formats).
6. If multiple tests have the same name, include all occurrences.
7. outcome is one of: positive, negative, normal, abnormal, inconclusive.
8. If the report uses other names with the same meaning as a field below, keep the key below and map the data onto it.

Required JSON structure:
{
  "report_metadata": {
    "patient_name": "string",
    "report_type": "string",
    "accession_number": "string",
    "collection_date": "YYYY-MM-DD",
    "received_date": "YYYY-MM-DD HH:MM AM/PM",
    "sample_type": "string",
    "lab_name": "string",
    "lab_director": "string",
    "clia_number": "string",
    "cap_number": "string",
    "report_date": "YYYY-MM-DD HH:MM AM/PM",
    "notes": "string or null"
  },
  "specimen_validity": {
    "specific_gravity": {"value": "string", "status": "Normal/Abnormal"},
    "ph": {"value": "string", "status": "Normal/Abnormal"},
    "creatinine": {"value": "string", "unit": "mg/dL", "status": "Normal/Abnormal"},
    "oxidants": {"value": "string", "status": "Normal/Abnormal"},
    "overall_validity": "bool"
  },
  "test_results": [
    {
      "test_name": "string",
      "test_category": "string",
      "outcome": "string",
      "result_value": "string",
      "cutoff_value": "string",
      "reference_range": "string or null",
      "detection_window": "string or null",
      "unit": "string or null",
      "is_abnormal": "bool",
      "is_critical": "bool"
    }
  ],
  "screening_tests": [
    {"test_name": "string", "outcome": "string", "result_value": "string", "cutoff_value": "string"}
  ],
  "confirmation_analysis": [
    {
      "test_name": "string",
      "outcome": "string",
      "method": "string",
      "result_value": "string",
      "cutoff_value": "string",
      "unit": "string or null",
      "detection_window": "string or null"
    }
  ],
  "reported_medications": [
    {"medication_name": "string"}
  ]
}

Return ONLY valid JSON, no additional text or explanation. If the text is not a valid test report, return exactly: NOT A VALID TEST REPORT`

var extractionPrompt = prompts.NewPromptTemplate(extractionTemplate, []string{reportTextVar})

// BuildPrompt renders the extraction prompt around raw OCR text.
func BuildPrompt(reportText string) (string, error) {
	out, err := extractionPrompt.Format(map[string]any{reportTextVar: reportText})
	if err != nil {
		return "", fmt.Errorf("render extraction prompt: %w", err)
	}
	return out, nil
}
