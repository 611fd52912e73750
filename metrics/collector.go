// Package metrics provides service-lifetime counters for ferry.
//
// The Collector accumulates counters across every transfer a process runs. It
// is a leaf package with no internal dependencies: stage and mode labels are
// plain strings so callers in types, pipeline and dispatch can share it.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Dispatch
	EventsReceived    int64
	EventsSkipped     int64
	ValidationNotices int64
	BusyRejections    int64

	// Transfer lifecycle
	TransfersStarted   int64
	TransfersSucceeded int64
	TransfersFailed    int64
	FailedByStage      map[string]int64

	// Fetch
	PartsFetched int64
	BytesFetched int64

	// Normalize / package
	Remuxes           int64
	Transcodes        int64
	Reencodes         int64
	ChunkedDeliveries int64
	ChunksDelivered   int64

	// Archive / adapter
	ArchiveWriteSuccess   int64
	ArchiveWriteFailure   int64
	AdapterPublishSuccess int64
	AdapterPublishFailure int64

	// Dimensions (informational, set at construction)
	Transport      string
	StorageBackend string
	Adapter        string
}

// Fields flattens the snapshot for structured logging.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"events_received":         s.EventsReceived,
		"events_skipped":          s.EventsSkipped,
		"validation_notices":      s.ValidationNotices,
		"busy_rejections":         s.BusyRejections,
		"transfers_started":       s.TransfersStarted,
		"transfers_succeeded":     s.TransfersSucceeded,
		"transfers_failed":        s.TransfersFailed,
		"failed_by_stage":         s.FailedByStage,
		"parts_fetched":           s.PartsFetched,
		"bytes_fetched":           s.BytesFetched,
		"remuxes":                 s.Remuxes,
		"transcodes":              s.Transcodes,
		"reencodes":               s.Reencodes,
		"chunked_deliveries":      s.ChunkedDeliveries,
		"chunks_delivered":        s.ChunksDelivered,
		"archive_write_success":   s.ArchiveWriteSuccess,
		"archive_write_failure":   s.ArchiveWriteFailure,
		"adapter_publish_success": s.AdapterPublishSuccess,
		"adapter_publish_failure": s.AdapterPublishFailure,
		"transport":               s.Transport,
		"storage_backend":         s.StorageBackend,
		"adapter":                 s.Adapter,
	}
}

// Collector accumulates metrics for the process lifetime.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	eventsReceived    int64
	eventsSkipped     int64
	validationNotices int64
	busyRejections    int64

	transfersStarted   int64
	transfersSucceeded int64
	transfersFailed    int64
	failedByStage      map[string]int64

	partsFetched int64
	bytesFetched int64

	remuxes           int64
	transcodes        int64
	reencodes         int64
	chunkedDeliveries int64
	chunksDelivered   int64

	archiveWriteSuccess   int64
	archiveWriteFailure   int64
	adapterPublishSuccess int64
	adapterPublishFailure int64

	transport      string
	storageBackend string
	adapter        string
}

// NewCollector creates a Collector with dimension labels. Empty labels are
// allowed (e.g. no archive configured).
func NewCollector(transport, storageBackend, adapter string) *Collector {
	return &Collector{
		failedByStage:  make(map[string]int64),
		transport:      transport,
		storageBackend: storageBackend,
		adapter:        adapter,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Dispatch ---

// IncEventReceived records an inbound event.
func (c *Collector) IncEventReceived() {
	if c == nil {
		return
	}
	c.add(&c.eventsReceived, 1)
}

// IncEventSkipped records an event with no addressable sender.
func (c *Collector) IncEventSkipped() {
	if c == nil {
		return
	}
	c.add(&c.eventsSkipped, 1)
}

// IncValidationNotice records a reply to text that was not a URL.
func (c *Collector) IncValidationNotice() {
	if c == nil {
		return
	}
	c.add(&c.validationNotices, 1)
}

// IncBusyRejection records a request rejected while another was running.
func (c *Collector) IncBusyRejection() {
	if c == nil {
		return
	}
	c.add(&c.busyRejections, 1)
}

// --- Transfer lifecycle ---

// IncTransferStarted records a pipeline run start.
func (c *Collector) IncTransferStarted() {
	if c == nil {
		return
	}
	c.add(&c.transfersStarted, 1)
}

// IncTransferSucceeded records a delivered transfer.
func (c *Collector) IncTransferSucceeded() {
	if c == nil {
		return
	}
	c.add(&c.transfersSucceeded, 1)
}

// IncTransferFailed records a failed transfer and the stage it failed in.
func (c *Collector) IncTransferFailed(stage string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.transfersFailed++
	c.failedByStage[stage]++
	c.mu.Unlock()
}

// --- Fetch ---

// IncPartFetched records one completed part.
func (c *Collector) IncPartFetched() {
	if c == nil {
		return
	}
	c.add(&c.partsFetched, 1)
}

// AddBytesFetched adds received bytes.
func (c *Collector) AddBytesFetched(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.add(&c.bytesFetched, n)
}

// --- Normalize / package ---

// IncNormalized records a normalization by mode ("remux" or "transcode").
// Other modes are ignored.
func (c *Collector) IncNormalized(mode string) {
	if c == nil {
		return
	}
	switch mode {
	case "remux":
		c.add(&c.remuxes, 1)
	case "transcode":
		c.add(&c.transcodes, 1)
	}
}

// IncReencode records a size-reducing re-encode that was delivered.
func (c *Collector) IncReencode() {
	if c == nil {
		return
	}
	c.add(&c.reencodes, 1)
}

// AddChunkedDelivery records a chunk-set delivery of n chunks.
func (c *Collector) AddChunkedDelivery(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunkedDeliveries++
	c.chunksDelivered += int64(n)
	c.mu.Unlock()
}

// --- Archive / adapter ---

// IncArchiveWriteSuccess records a successful archive write (per transfer).
func (c *Collector) IncArchiveWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.archiveWriteSuccess, 1)
}

// IncArchiveWriteFailure records a failed archive write (per transfer).
func (c *Collector) IncArchiveWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.archiveWriteFailure, 1)
}

// IncAdapterPublishSuccess records a delivered completion event.
func (c *Collector) IncAdapterPublishSuccess() {
	if c == nil {
		return
	}
	c.add(&c.adapterPublishSuccess, 1)
}

// IncAdapterPublishFailure records a completion event that could not be published.
func (c *Collector) IncAdapterPublishFailure() {
	if c == nil {
		return
	}
	c.add(&c.adapterPublishFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byStage := make(map[string]int64, len(c.failedByStage))
	for k, v := range c.failedByStage {
		byStage[k] = v
	}

	return Snapshot{
		EventsReceived:    c.eventsReceived,
		EventsSkipped:     c.eventsSkipped,
		ValidationNotices: c.validationNotices,
		BusyRejections:    c.busyRejections,

		TransfersStarted:   c.transfersStarted,
		TransfersSucceeded: c.transfersSucceeded,
		TransfersFailed:    c.transfersFailed,
		FailedByStage:      byStage,

		PartsFetched: c.partsFetched,
		BytesFetched: c.bytesFetched,

		Remuxes:           c.remuxes,
		Transcodes:        c.transcodes,
		Reencodes:         c.reencodes,
		ChunkedDeliveries: c.chunkedDeliveries,
		ChunksDelivered:   c.chunksDelivered,

		ArchiveWriteSuccess:   c.archiveWriteSuccess,
		ArchiveWriteFailure:   c.archiveWriteFailure,
		AdapterPublishSuccess: c.adapterPublishSuccess,
		AdapterPublishFailure: c.adapterPublishFailure,

		Transport:      c.transport,
		StorageBackend: c.storageBackend,
		Adapter:        c.adapter,
	}
}
