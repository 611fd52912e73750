package lode

import (
	"time"

	"github.com/pithecene-io/ferry/types"
)

// RecordKindJournal is the record_kind discriminator of journal records.
const RecordKindJournal = "transfer_journal"

// DayFormat is the layout of the day partition key.
const DayFormat = "2006-01-02"

// JournalRecord is one line of the transfer journal, written once per
// transfer whatever its outcome. Day and Outcome are the Hive partition keys.
type JournalRecord struct {
	TransferID   string
	SourceURL    string
	RequesterID  int64
	Outcome      types.OutcomeStatus
	FailedStage  types.TransferState
	Message      string
	DeliveryKind types.DeliveryKind
	ChunkCount   int
	SizeBytes    int64
	// Files are the archive keys of the delivered files, if archived.
	Files      []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Day returns the day partition value, derived from StartedAt in UTC.
func (r JournalRecord) Day() string {
	return r.StartedAt.UTC().Format(DayFormat)
}

// toJournalRecordMap converts a JournalRecord to a map for storage.
func toJournalRecordMap(r JournalRecord) map[string]any {
	files := r.Files
	if files == nil {
		files = []string{}
	}
	return map[string]any{
		"record_kind":      RecordKindJournal,
		"contract_version": types.EventContractVersion,
		"transfer_id":      r.TransferID,
		"source_url":       r.SourceURL,
		"requester_id":     r.RequesterID,
		"failed_stage":     string(r.FailedStage),
		"message":          r.Message,
		"delivery_kind":    string(r.DeliveryKind),
		"chunk_count":      r.ChunkCount,
		"size_bytes":       r.SizeBytes,
		"files":            files,
		"started_at":       r.StartedAt.UTC().Format(time.RFC3339Nano),
		"finished_at":      r.FinishedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms":      r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
		// Partition keys (used by Lode HiveLayout)
		"day":     r.Day(),
		"outcome": string(r.Outcome),
	}
}
