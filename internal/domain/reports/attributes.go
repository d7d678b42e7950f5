package reports

import (
	"encoding/json"
	"fmt"
)

// Attributes returns the non-null attributes of a facet row keyed by column name.
// Keys (id, report_id), timestamps, raw OCR text and patient identity are
// never included, so the result is safe to embed as searchable text.
func Attributes(facet any) (map[string]any, error) {
	raw, err := json.Marshal(facet)
	if err != nil {
		return nil, fmt.Errorf("marshal facet: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal facet: %w", err)
	}
	delete(out, "id")
	delete(out, "report_id")
	delete(out, "patient_name")
	for k, v := range out {
		if v == nil {
			delete(out, k)
		}
	}
	return out, nil
}
