package reader

import (
	"context"
	"errors"

	lodelib "github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/ferry/lode"
)

// Reader abstracts read-only journal access for CLI commands.
type Reader interface {
	History(ctx context.Context, filter lode.HistoryFilter) ([]HistoryEntry, error)
}

// LodeReader reads the transfer journal from a Lode dataset.
type LodeReader struct {
	dataset lodelib.Dataset
}

// NewLodeReader creates a reader over the journal dataset.
func NewLodeReader(ds lodelib.Dataset) *LodeReader {
	return &LodeReader{dataset: ds}
}

// History returns matching entries newest first. An empty journal is not an
// error. Malformed records are skipped and counted in the returned error only
// when nothing could be parsed.
func (r *LodeReader) History(ctx context.Context, filter lode.HistoryFilter) ([]HistoryEntry, error) {
	records, err := lode.QueryHistory(ctx, r.dataset, filter)
	if errors.Is(err, lode.ErrNoJournalFound) {
		return []HistoryEntry{}, nil
	}
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(records))
	var firstErr error
	for _, rec := range records {
		e, err := ParseJournalRecord(rec)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		entries = append(entries, *e)
	}
	if len(entries) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return entries, nil
}

// Summarize aggregates entries into HistoryStats.
func Summarize(entries []HistoryEntry) HistoryStats {
	stats := HistoryStats{FailedByStage: map[string]int64{}}
	for _, e := range entries {
		stats.Total++
		if !e.Succeeded() {
			stats.Failed++
			stage := e.FailedStage
			if stage == "" {
				stage = "unknown"
			}
			stats.FailedByStage[stage]++
			continue
		}
		stats.Succeeded++
		stats.BytesSent += e.SizeBytes
		if e.ChunkCount > 0 {
			stats.Chunked++
		}
	}
	return stats
}

// NewHistoryView builds the history payload.
func NewHistoryView(entries []HistoryEntry) *HistoryView {
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return &HistoryView{Stats: Summarize(entries), Entries: entries}
}
