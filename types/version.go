package types

// Version is the canonical project version.
// The CLI, the transfer-completed event payload and the journal records
// share this version.
const Version = "0.3.0"

// EventContractVersion is stamped into every published transfer event.
// It tracks Version in lockstep.
const EventContractVersion = Version
