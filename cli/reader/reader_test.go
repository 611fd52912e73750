package reader

import (
	"testing"
	"time"

	lodelib "github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/ferry/lode"
	"github.com/pithecene-io/ferry/types"
)

func writeJournal(t *testing.T, recs ...lode.JournalRecord) lodelib.Dataset {
	t.Helper()
	store := lodelib.NewMemory()
	factory := func() (lodelib.Store, error) { return store, nil }
	a, err := lode.NewArchiveWithFactory(lode.Config{}, factory)
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range recs {
		if err := a.WriteJournal(t.Context(), rec); err != nil {
			t.Fatalf("WriteJournal(%s) failed: %v", rec.TransferID, err)
		}
	}
	ds, err := lode.NewReadDataset(lode.DefaultDataset, factory)
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func record(id string, outcome types.OutcomeStatus, started time.Time, size int64, chunks int) lode.JournalRecord {
	rec := lode.JournalRecord{
		TransferID:  id,
		SourceURL:   "https://cdn.example.com/" + id + ".mp4",
		RequesterID: 42,
		Outcome:     outcome,
		Message:     "sent",
		SizeBytes:   size,
		ChunkCount:  chunks,
		StartedAt:   started,
		FinishedAt:  started.Add(30 * time.Second),
	}
	if outcome == types.OutcomeFailed {
		rec.FailedStage = types.StateFetching
		rec.Message = "download failed (HTTP 404)"
		rec.SizeBytes = 0
	}
	return rec
}

func TestLodeReader_History(t *testing.T) {
	day := time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC)
	ds := writeJournal(t,
		record("t-1", types.OutcomeSuccess, day, 1000, 0),
		record("t-2", types.OutcomeFailed, day.Add(time.Minute), 0, 0),
		record("t-3", types.OutcomeSuccess, day.Add(2*time.Minute), 5000, 3),
	)
	r := NewLodeReader(ds)

	entries, err := r.History(t.Context(), lode.HistoryFilter{})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].TransferID != "t-3" {
		t.Errorf("newest first expected, got %s", entries[0].TransferID)
	}
	if entries[0].RequesterID != 42 || entries[0].DurationMs != 30000 {
		t.Errorf("unexpected entry %+v", entries[0])
	}

	failed, err := r.History(t.Context(), lode.HistoryFilter{Outcome: "failed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].FailedStage != "fetching" {
		t.Errorf("unexpected failed entries %+v", failed)
	}
}

func TestLodeReader_EmptyJournal(t *testing.T) {
	ds := writeJournal(t)
	entries, err := NewLodeReader(ds).History(t.Context(), lode.HistoryFilter{})
	if err != nil {
		t.Fatalf("History on empty journal failed: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", entries)
	}
}

func TestSummarize(t *testing.T) {
	entries := []HistoryEntry{
		{Outcome: "success", SizeBytes: 1000},
		{Outcome: "success", SizeBytes: 5000, ChunkCount: 3},
		{Outcome: "failed", FailedStage: "fetching"},
		{Outcome: "failed", FailedStage: "fetching"},
		{Outcome: "failed"},
	}
	s := Summarize(entries)
	if s.Total != 5 || s.Succeeded != 2 || s.Failed != 3 || s.Chunked != 1 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.BytesSent != 6000 {
		t.Errorf("BytesSent = %d, want 6000", s.BytesSent)
	}
	if s.FailedByStage["fetching"] != 2 || s.FailedByStage["unknown"] != 1 {
		t.Errorf("FailedByStage = %v", s.FailedByStage)
	}
}

func TestNewHistoryView_NilEntries(t *testing.T) {
	v := NewHistoryView(nil)
	if v.Entries == nil || v.Stats.Total != 0 || v.Stats.FailedByStage == nil {
		t.Errorf("unexpected view %+v", v)
	}
}
