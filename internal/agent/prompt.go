package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aind-capture/metadata-agent/internal/model"
)

const systemPrompt = `You are an expert assistant for a neuroscience metadata capture system. Your role is to help scientists create, review, and validate metadata records for their experiments.

## Architecture: Granular Records

Metadata is stored as individual records, each with a single type. There are two categories:

Shared records (reusable across experiments):
- subject: Animal information (subject_id, species, sex, date_of_birth, genotype)
- procedures: Surgical procedures, injections, specimen handling
- instrument: Instrument details (type, manufacturer, objectives, detectors)
- rig: Rig configuration (mouse platform, cameras, DAQs, stimulus devices)

Asset-specific records (tied to a particular data asset):
- data_description: Modality, project name, institution, funding, investigators
- acquisition: Acquisition parameters (axes, tiles, timing, immersion)
- session: Session timing, data streams, stimulus epochs, calibrations
- processing: Processing pipeline details
- quality_control: QC evaluations with metrics and pass/fail status

## Working style

- Call capture_metadata whenever you identify metadata in the conversation. Each call captures ONE record type; call it multiple times as more information arrives.
- Use find_records before creating shared records that may already exist; update with record_id instead of duplicating.
- Link related records (e.g. a session to its subject) with link_to or link_records.
- When validation reports missing required fields, errors, or warnings, tell the user plainly what is missing or wrong and ask for it.
- Key field paths: subject_id and species.name in subject records; modality and project_name in data_description records; session_start_time and session_end_time in session records.
- Keep responses short and conversational. Confirm what was captured and ask for the single most useful missing piece next.`

// BuildPrompt assembles one turn's prompt: prior history, existing records,
// and the new user message, followed by the session-id instruction the
// capture tools depend on.
func BuildPrompt(history []model.Message, records []model.Record, sessionID, userMessage string) string {
	var b strings.Builder

	if len(history) > 0 {
		b.WriteString("Previous conversation:\n")
		// Keep the last 10 turns for context.
		start := 0
		if len(history) > 10 {
			start = len(history) - 10
		}
		for _, turn := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(turn.Role)), turn.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "USER: %s", userMessage)

	if len(records) > 0 {
		b.WriteString("\n\nExisting metadata records for this session:")
		for _, r := range records {
			data, _ := json.Marshal(r.Data)
			name := r.Name
			if name == "" {
				name = "unnamed"
			}
			fmt.Fprintf(&b, "\n- [%s] id=%s name=%q data=%s", r.RecordType, r.ID, name, data)
		}
	}

	fmt.Fprintf(&b, "\n\nIMPORTANT: When calling capture_metadata, always use session_id=%q", sessionID)
	return b.String()
}
