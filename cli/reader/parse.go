package reader

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ParseJournalRecord converts a Lode journal record (map[string]any) to a
// HistoryEntry. Numeric fields may arrive as int64 (direct writes) or float64
// (JSON round-trips).
func ParseJournalRecord(record map[string]any) (*HistoryEntry, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}

	e := &HistoryEntry{
		TransferID:   toString(record["transfer_id"]),
		Day:          toString(record["day"]),
		Outcome:      toString(record["outcome"]),
		FailedStage:  toString(record["failed_stage"]),
		Message:      toString(record["message"]),
		SourceURL:    toString(record["source_url"]),
		RequesterID:  toInt64(record["requester_id"]),
		DeliveryKind: toString(record["delivery_kind"]),
		ChunkCount:   int(toInt64(record["chunk_count"])),
		SizeBytes:    toInt64(record["size_bytes"]),
		Files:        toStrings(record["files"]),
		DurationMs:   toInt64(record["duration_ms"]),
	}

	// The write path always sets these.
	var missing []string
	for field, v := range map[string]string{"transfer_id": e.TransferID, "outcome": e.Outcome, "started_at": toString(record["started_at"])} {
		if v == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("journal record missing %s", strings.Join(missing, ", "))
	}
	ts, err := time.Parse(time.RFC3339Nano, toString(record["started_at"]))
	if err != nil {
		return nil, fmt.Errorf("journal record has invalid started_at: %w", err)
	}
	e.StartedAt = ts

	return e, nil
}

// toInt64 converts a value to int64, handling float64 from JSON and int64 from direct writes.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toStrings handles []string (direct) and []any (JSON round-trip).
func toStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
