package reader

import (
	"strings"
	"testing"
	"time"
)

func TestParseJournalRecord(t *testing.T) {
	// Simulate a JSON-round-tripped record (float64 values)
	record := map[string]any{
		"record_kind":   "transfer_journal",
		"transfer_id":   "t-1",
		"source_url":    "https://cdn.example.com/clip.mp4",
		"requester_id":  float64(42),
		"outcome":       "success",
		"failed_stage":  "",
		"message":       "sent 120.0 MiB in 3 parts",
		"delivery_kind": "chunk_set",
		"chunk_count":   float64(3),
		"size_bytes":    float64(125829120),
		"files":         []any{"a.mp4.001", "a.mp4.002", "a.mp4.003"},
		"started_at":    "2026-02-07T10:00:00.5Z",
		"finished_at":   "2026-02-07T10:01:00Z",
		"duration_ms":   float64(59500),
		"day":           "2026-02-07",
	}

	e, err := ParseJournalRecord(record)
	if err != nil {
		t.Fatalf("ParseJournalRecord failed: %v", err)
	}

	if e.TransferID != "t-1" || e.Outcome != "success" || e.Day != "2026-02-07" {
		t.Errorf("unexpected identity fields %+v", e)
	}
	if e.RequesterID != 42 {
		t.Errorf("RequesterID = %d, want 42", e.RequesterID)
	}
	if e.ChunkCount != 3 || e.SizeBytes != 125829120 || e.DurationMs != 59500 {
		t.Errorf("unexpected counters %+v", e)
	}
	if len(e.Files) != 3 || e.Files[2] != "a.mp4.003" {
		t.Errorf("Files = %v", e.Files)
	}
	want := time.Date(2026, 2, 7, 10, 0, 0, 500_000_000, time.UTC)
	if !e.StartedAt.Equal(want) {
		t.Errorf("StartedAt = %v, want %v", e.StartedAt, want)
	}
	if !e.Succeeded() {
		t.Error("Succeeded() = false")
	}
}

func TestParseJournalRecord_DirectWriteTypes(t *testing.T) {
	record := map[string]any{
		"transfer_id":  "t-2",
		"outcome":      "failed",
		"failed_stage": "fetching",
		"requester_id": int64(7),
		"chunk_count":  0,
		"size_bytes":   int64(0),
		"files":        []string{},
		"started_at":   "2026-02-07T10:00:00Z",
	}
	e, err := ParseJournalRecord(record)
	if err != nil {
		t.Fatalf("ParseJournalRecord failed: %v", err)
	}
	if e.RequesterID != 7 || e.FailedStage != "fetching" || e.Succeeded() {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestParseJournalRecord_MissingFields(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{
			"transfer_id": "t-1",
			"outcome":     "success",
			"started_at":  "2026-02-07T10:00:00Z",
		}
	}

	tests := []struct {
		name    string
		mutate  func(map[string]any)
		wantErr string
	}{
		{"missing transfer_id", func(m map[string]any) { delete(m, "transfer_id") }, "transfer_id"},
		{"missing outcome", func(m map[string]any) { delete(m, "outcome") }, "outcome"},
		{"missing started_at", func(m map[string]any) { delete(m, "started_at") }, "started_at"},
		{"bad started_at", func(m map[string]any) { m["started_at"] = "yesterday" }, "invalid started_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base()
			tt.mutate(rec)
			_, err := ParseJournalRecord(rec)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}

	if _, err := ParseJournalRecord(nil); err == nil {
		t.Error("expected error for nil record")
	}
}
