package validate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidSubject(t *testing.T) {
	res := Record("subject", map[string]any{
		"subject_id": "764054",
		"sex":        "Female",
		"species":    map[string]any{"name": "Mus musculus"},
	})
	require.Equal(t, "valid", res.Status)
	require.Equal(t, 1.0, res.CompletenessScore)
	require.Empty(t, res.Errors)
	require.Empty(t, res.Warnings)
}

func TestSubjectMissingRequiredID(t *testing.T) {
	res := Record("subject", map[string]any{
		"sex": "Male",
	})
	require.Equal(t, "warnings", res.Status)
	require.Contains(t, res.MissingRequired, "subject.subject_id")
	require.Equal(t, 0.0, res.CompletenessScore)
}

func TestSubjectIDFormatWarning(t *testing.T) {
	res := Record("subject", map[string]any{
		"subject_id": "abc",
	})
	require.Equal(t, "warnings", res.Status)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, "subject.subject_id", res.Warnings[0].Field)
}

func TestSubjectInvalidSexIsError(t *testing.T) {
	res := Record("subject", map[string]any{
		"subject_id": "764054",
		"sex":        "yes",
	})
	require.Equal(t, "errors", res.Status)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "subject.sex", res.Errors[0].Field)
}

func TestUnknownSpeciesWarns(t *testing.T) {
	res := Record("subject", map[string]any{
		"subject_id": "764054",
		"species":    map[string]any{"name": "Canis lupus"},
	})
	require.Equal(t, "warnings", res.Status)
	require.Equal(t, "subject.species.name", res.Warnings[0].Field)
}

func TestDataDescriptionModalities(t *testing.T) {
	res := Record("data_description", map[string]any{
		"project_name": "Thalamus in the middle",
		"modality":     []any{"ecephys", "behavior-videos"},
	})
	require.Equal(t, "valid", res.Status)

	res = Record("data_description", map[string]any{
		"project_name": "Thalamus in the middle",
		"modality":     "telepathy",
	})
	require.Equal(t, "errors", res.Status)
	require.Contains(t, res.Errors[0].Message, "telepathy")
}

func TestDataDescriptionStructuredModality(t *testing.T) {
	res := Record("data_description", map[string]any{
		"project_name": "Mapping",
		"modality":     []any{map[string]any{"abbreviation": "ecephys", "name": "Extracellular electrophysiology"}},
	})
	require.Equal(t, "valid", res.Status)
}

func TestRecordTypeWithoutRequiredFields(t *testing.T) {
	res := Record("instrument", map[string]any{
		"instrument_id": "ephys-1",
	})
	require.Equal(t, "valid", res.Status)
	require.Equal(t, 1.0, res.CompletenessScore)
}

func TestResultJSONCarriesStatus(t *testing.T) {
	res := Record("subject", map[string]any{"subject_id": "764054"})
	require.Contains(t, string(res.JSON()), `"status":"valid"`)
	require.Contains(t, string(res.JSON()), `"completeness_score":1`)
}
