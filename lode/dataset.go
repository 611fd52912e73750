package lode

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoJournalFound is returned when no journal record matches a query.
var ErrNoJournalFound = errors.New("no journal records found")

// HistoryFilter narrows a history query. Empty fields match everything.
type HistoryFilter struct {
	Day        string
	Outcome    string
	TransferID string
	// Limit caps the number of records (0 means no cap).
	Limit int
}

// QueryHistory returns journal records newest first. Snapshots whose
// partitions cannot match are skipped unread; record fields decide the rest.
func QueryHistory(ctx context.Context, ds lode.Dataset, filter HistoryFilter) ([]map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, Wrap(err, "read", "snapshots")
	}

	var out []map[string]any
	// Snapshots are ordered oldest first.
	for _, snap := range slices.Backward(snapshots) {
		if !filter.admitsSnapshot(snap) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, Wrap(err, "read", fmt.Sprintf("snapshot/%s", snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindJournal || !filter.admits(record) {
				continue
			}
			out = append(out, record)
			if filter.Limit > 0 && len(out) == filter.Limit {
				return out, nil
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNoJournalFound
	}
	return out, nil
}

// partitions returns the key=value pairs the filter pins.
func (f HistoryFilter) partitions() []string {
	var segs []string
	if f.Day != "" {
		segs = append(segs, "day="+f.Day)
	}
	if f.Outcome != "" {
		segs = append(segs, "outcome="+f.Outcome)
	}
	return segs
}

// admitsSnapshot reports whether some file of snap lies under every pinned
// partition. Segments match whole, so outcome=success never matches
// outcome=success-x.
func (f HistoryFilter) admitsSnapshot(snap *lode.DatasetSnapshot) bool {
	want := f.partitions()
	if len(want) == 0 {
		return true
	}
	for _, file := range snap.Manifest.Files {
		segs := strings.Split(file.Path, "/")
		if !slices.ContainsFunc(want, func(w string) bool { return !slices.Contains(segs, w) }) {
			return true
		}
	}
	return false
}

func (f HistoryFilter) admits(record map[string]any) bool {
	str := func(k string) string {
		s, _ := record[k].(string)
		return s
	}
	return (f.Day == "" || str("day") == f.Day) &&
		(f.Outcome == "" || str("outcome") == f.Outcome) &&
		(f.TransferID == "" || str("transfer_id") == f.TransferID)
}
