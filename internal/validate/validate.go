// Package validate checks metadata record drafts against basic schema
// rules: required fields, controlled vocabularies, and identifier formats.
package validate

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Controlled vocabularies.
var (
	validSex = map[string]bool{"Male": true, "Female": true, "Unknown": true}

	validSpecies = map[string]bool{
		"Mus musculus":            true,
		"Homo sapiens":            true,
		"Rattus norvegicus":       true,
		"Macaca mulatta":          true,
		"Drosophila melanogaster": true,
		"Danio rerio":             true,
	}

	validModalities = map[string]bool{
		"behavior": true, "behavior-videos": true, "confocal": true,
		"EMG": true, "ecephys": true, "fib": true, "fMOST": true,
		"icephys": true, "ISI": true, "MRI": true, "merfish": true,
		"pophys": true, "slap": true, "SPIM": true,
	}
)

// requiredFields drives the completeness score. Paths are dot-separated and
// relative to the record type they start with.
var requiredFields = []string{
	"subject.subject_id",
	"data_description.modality",
	"data_description.project_name",
}

var subjectIDPattern = regexp.MustCompile(`^\d{4,}$`)

// Issue is a single validation error or warning.
type Issue struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Result aggregates the validation outcome for a record draft.
type Result struct {
	Status            string   `json:"status"`
	CompletenessScore float64  `json:"completeness_score"`
	Errors            []Issue  `json:"errors"`
	Warnings          []Issue  `json:"warnings"`
	MissingRequired   []string `json:"missing_required"`
	ValidFields       []string `json:"valid_fields"`
}

func newResult() *Result {
	return &Result{
		Errors:          []Issue{},
		Warnings:        []Issue{},
		MissingRequired: []string{},
		ValidFields:     []string{},
	}
}

func (r *Result) addError(field, message string) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: message, Severity: "error"})
}

func (r *Result) addWarning(field, message string) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Message: message, Severity: "warning"})
}

func (r *Result) finalize() {
	total := len(r.MissingRequired) + len(r.ValidFields)
	if total == 0 {
		r.CompletenessScore = 1
	} else {
		r.CompletenessScore = float64(len(r.ValidFields)) / float64(total)
	}

	switch {
	case len(r.Errors) > 0:
		r.Status = "errors"
	case len(r.Warnings) > 0 || len(r.MissingRequired) > 0:
		r.Status = "warnings"
	default:
		r.Status = "valid"
	}
}

// JSON renders the result as a JSON document; used for persistence and for
// tool_result stream events.
func (r *Result) JSON() json.RawMessage {
	b, _ := json.Marshal(r)
	return b
}

// Record validates a single record draft of the given type. The data map is
// the record's own fields; the required-field paths are evaluated as if the
// record were nested under its type.
func Record(recordType string, data map[string]any) *Result {
	metadata := map[string]any{recordType: data}
	res := newResult()

	for _, path := range requiredFields {
		// Only the record's own required paths count against it.
		if !strings.HasPrefix(path, recordType+".") {
			continue
		}
		if isEmpty(getNested(metadata, path)) {
			res.MissingRequired = append(res.MissingRequired, path)
		} else {
			res.ValidFields = append(res.ValidFields, path)
		}
	}

	switch recordType {
	case "subject":
		validateSubject(data, res)
	case "data_description":
		validateDataDescription(data, res)
	}

	res.finalize()
	return res
}

func validateSubject(data map[string]any, res *Result) {
	if sid, ok := data["subject_id"].(string); ok && sid != "" {
		if !subjectIDPattern.MatchString(sid) {
			res.addWarning("subject.subject_id", "subject_id should be numeric with at least 4 digits")
		}
	}
	if sex, ok := data["sex"].(string); ok && sex != "" && !validSex[sex] {
		res.addError("subject.sex", "sex must be one of: Male, Female, Unknown")
	}
	if species, ok := data["species"].(map[string]any); ok {
		if name, ok := species["name"].(string); ok && name != "" && !validSpecies[name] {
			res.addWarning("subject.species.name", "species not in the known vocabulary")
		}
	}
}

func validateDataDescription(data map[string]any, res *Result) {
	switch modality := data["modality"].(type) {
	case string:
		checkModality(modality, res)
	case []any:
		for _, m := range modality {
			if s, ok := m.(string); ok {
				checkModality(s, res)
			} else if entry, ok := m.(map[string]any); ok {
				if abbr, ok := entry["abbreviation"].(string); ok {
					checkModality(abbr, res)
				}
			}
		}
	}
}

func checkModality(modality string, res *Result) {
	if modality == "" || validModalities[modality] {
		return
	}
	res.addError("data_description.modality", "unknown modality: "+modality)
}

func getNested(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	}
	return false
}
