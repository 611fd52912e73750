// Package types defines the core domain types shared by the ferry pipeline,
// the dispatcher and the outer surfaces (CLI, adapters, archive).
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// MessageHandle identifies a message previously sent through the messaging
// transport. Zero means "no message".
type MessageHandle int64

// TransferRequest is created when a valid URL is recognized in an inbound event.
// It is immutable for the lifetime of a pipeline run.
type TransferRequest struct {
	// ID is the transfer identifier (UUIDv7), also the working directory name.
	ID string
	// SourceURL is the absolute http(s) URL of the remote file.
	SourceURL string
	// RequesterID identifies the chat that asked for the file.
	RequesterID int64
	// StatusHandle is the editable progress message, if one was sent.
	StatusHandle MessageHandle
	// ReceivedAt is when the dispatcher accepted the request.
	ReceivedAt time.Time
}

// Validate checks the request invariants.
func (r *TransferRequest) Validate() error {
	if r == nil {
		return errors.New("transfer request is nil")
	}
	if r.ID == "" {
		return errors.New("transfer id must be non-empty")
	}
	if r.ID != strings.TrimSpace(r.ID) || strings.ContainsAny(r.ID, `/\`) || r.ID == "." || r.ID == ".." {
		return errors.New("transfer id must be a plain path segment")
	}
	_, err := ParseSourceURL(r.SourceURL)
	return err
}

// ParseSourceURL accepts only well-formed absolute http(s) URLs with a host.
func ParseSourceURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("url must be non-empty")
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return nil, errors.New("url must not contain whitespace")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("only http and https urls are supported")
	}
	if u.Host == "" {
		return nil, errors.New("url has no host")
	}
	return u, nil
}

// TransferState is a pipeline state.
type TransferState string

// Pipeline states in execution order. StateFailed is reachable from every
// non-terminal state.
const (
	StatePlanning    TransferState = "planning"
	StateFetching    TransferState = "fetching"
	StateAssembling  TransferState = "assembling"
	StateNormalizing TransferState = "normalizing"
	StatePackaging   TransferState = "packaging"
	StateDelivering  TransferState = "delivering"
	StateDone        TransferState = "done"
	StateFailed      TransferState = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s TransferState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// IsActive reports whether s is an in-flight pipeline state.
func (s TransferState) IsActive() bool {
	_, ok := next[s]
	return ok
}

// next maps each non-terminal state to its only forward successor.
var next = map[TransferState]TransferState{
	StatePlanning:    StateFetching,
	StateFetching:    StateAssembling,
	StateAssembling:  StateNormalizing,
	StateNormalizing: StatePackaging,
	StatePackaging:   StateDelivering,
	StateDelivering:  StateDone,
}

// CanTransition reports whether from -> to is an allowed pipeline transition.
func CanTransition(from, to TransferState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return next[from] == to
}

// OutcomeStatus is the final classification of a transfer.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates the unit was delivered.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeFailed indicates a stage failed; FailedStage says which.
	OutcomeFailed OutcomeStatus = "failed"
)

// TransferOutcome is the final outcome of a pipeline run.
type TransferOutcome struct {
	// Status is the outcome classification.
	Status OutcomeStatus
	// FailedStage is the state in which the failure happened (empty on success).
	FailedStage TransferState
	// Message is a human-readable description.
	Message string
}

// InboundEvent is one pending event from the messaging transport.
type InboundEvent struct {
	// Offset is the transport's monotonically increasing event id.
	Offset int64
	// SenderID is the chat to answer. Zero when the event has no addressable sender.
	SenderID int64
	// Text is the message text (empty for non-text messages).
	Text string
}
