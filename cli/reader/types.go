// Package reader turns transfer journal records into the read-only views
// rendered by the ferry history command and its TUI.
package reader

import "time"

// HistoryEntry is one finished transfer as recorded in the journal.
type HistoryEntry struct {
	TransferID   string    `json:"transfer_id"`
	Day          string    `json:"day"`
	Outcome      string    `json:"outcome"`
	FailedStage  string    `json:"failed_stage,omitempty"`
	Message      string    `json:"message"`
	SourceURL    string    `json:"source_url"`
	RequesterID  int64     `json:"requester_id"`
	DeliveryKind string    `json:"delivery_kind,omitempty"`
	ChunkCount   int       `json:"chunk_count"`
	SizeBytes    int64     `json:"size_bytes" render:"bytes"`
	Files        []string  `json:"files,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
}

// Succeeded reports whether the transfer delivered its unit.
func (e HistoryEntry) Succeeded() bool {
	return e.Outcome == "success"
}

// HistoryStats aggregates a set of history entries.
type HistoryStats struct {
	Total         int              `json:"total"`
	Succeeded     int              `json:"succeeded"`
	Failed        int              `json:"failed"`
	Chunked       int              `json:"chunked"`
	BytesSent     int64            `json:"bytes_sent" render:"bytes"`
	FailedByStage map[string]int64 `json:"failed_by_stage"`
}

// HistoryView is the payload of the history command.
type HistoryView struct {
	Stats   HistoryStats   `json:"stats"`
	Entries []HistoryEntry `json:"entries"`
}
