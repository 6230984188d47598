package feedback

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Format selects an export encoding.
type Format string

const (
	// FormatCSV is the tabular export: one row per event, full fidelity,
	// header always present even for an empty history.
	FormatCSV Format = "csv"

	// FormatJSON is the structured export: a versioned document wrapping
	// the full event array.
	FormatJSON Format = "json"
)

// exportSchemaVersion identifies the structured export layout so future
// format changes stay distinguishable from historical exports.
const exportSchemaVersion = 1

// exportColumns is the tabular column order, matching the persisted
// schema.
var exportColumns = []string{
	"id", "operation_type", "material", "geometry_type",
	"context_snapshot", "suggestion_payload", "user_choice",
	"feedback_type", "feedback_note", "confidence_before", "created_at",
}

// ExportDocument is the envelope for structured exports.
type ExportDocument struct {
	// ExportID uniquely identifies this export run.
	ExportID string `json:"export_id"`

	// SchemaVersion is the layout version of this document.
	SchemaVersion int `json:"schema_version"`

	// ExportedAt is when the export was produced.
	ExportedAt time.Time `json:"exported_at"`

	// EventCount is the number of exported events.
	EventCount int `json:"event_count"`

	// Events is the full history, most recent first.
	Events []Event `json:"events"`
}

// ExportEvents serializes events into the requested format with no field
// omission. An unknown format is a validation error.
func ExportEvents(events []Event, format Format) (string, error) {
	switch format {
	case FormatCSV:
		return exportCSV(events)
	case FormatJSON:
		return exportJSON(events)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func exportCSV(events []Event) (string, error) {
	var buf strings.Builder
	w := csv.NewWriter(&buf)

	if err := w.Write(exportColumns); err != nil {
		return "", fmt.Errorf("writing export header: %w", err)
	}
	for _, e := range events {
		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.OperationType,
			e.Material,
			e.GeometryType,
			string(e.ContextSnapshot),
			string(e.SuggestionPayload),
			string(e.UserChoice),
			string(e.FeedbackType),
			e.FeedbackNote,
			strconv.FormatFloat(e.ConfidenceBefore, 'g', -1, 64),
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("writing export row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flushing export: %w", err)
	}
	return buf.String(), nil
}

func exportJSON(events []Event) (string, error) {
	if events == nil {
		events = []Event{}
	}
	doc := ExportDocument{
		ExportID:      uuid.New().String(),
		SchemaVersion: exportSchemaVersion,
		ExportedAt:    time.Now().UTC(),
		EventCount:    len(events),
		Events:        events,
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding export: %w", err)
	}
	return string(b), nil
}
