// Package adapter defines the event-bus adapter boundary.
//
// Adapters publish transfer completion notifications to downstream systems.
// The service owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EventTypeTransferCompleted is the event_type of every published event.
const EventTypeTransferCompleted = "transfer_completed"

// TransferCompletedEvent is the payload published when a transfer finishes,
// successfully or not.
type TransferCompletedEvent struct {
	ContractVersion string `json:"contract_version" msgpack:"contract_version"`
	EventType       string `json:"event_type" msgpack:"event_type"` // always "transfer_completed"
	TransferID      string `json:"transfer_id" msgpack:"transfer_id"`
	SourceURL       string `json:"source_url" msgpack:"source_url"`
	RequesterID     int64  `json:"requester_id" msgpack:"requester_id"`
	Outcome         string `json:"outcome" msgpack:"outcome"` // success or failed
	FailedStage     string `json:"failed_stage,omitempty" msgpack:"failed_stage,omitempty"`
	Message         string `json:"message,omitempty" msgpack:"message,omitempty"`
	DeliveryKind    string `json:"delivery_kind,omitempty" msgpack:"delivery_kind,omitempty"`
	ChunkCount      int    `json:"chunk_count" msgpack:"chunk_count"`
	SizeBytes       int64  `json:"size_bytes" msgpack:"size_bytes"`
	DurationMs      int64  `json:"duration_ms" msgpack:"duration_ms"`
	Timestamp       string `json:"timestamp" msgpack:"timestamp"` // ISO 8601
	StoragePath     string `json:"storage_path,omitempty" msgpack:"storage_path,omitempty"`
}

// Encoding selects the wire format of published payloads.
type Encoding string

const (
	// EncodingJSON encodes events as JSON (default).
	EncodingJSON Encoding = "json"
	// EncodingMsgpack encodes events as MessagePack.
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding validates an encoding name. Empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("unknown encoding %q (must be json or msgpack)", s)
	}
}

// ContentType returns the HTTP content type for the encoding.
func (e Encoding) ContentType() string {
	if e == EncodingMsgpack {
		return "application/msgpack"
	}
	return "application/json"
}

// Marshal encodes the event.
func (e Encoding) Marshal(event *TransferCompletedEvent) ([]byte, error) {
	if e == EncodingMsgpack {
		return msgpack.Marshal(event)
	}
	return json.Marshal(event)
}

// Adapter publishes transfer completion events to a downstream system.
type Adapter interface {
	// Publish sends a transfer completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *TransferCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
