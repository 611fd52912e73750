package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("telegram", "fs", "webhook")

	c.IncEventReceived()
	c.IncEventReceived()
	c.IncEventReceived()
	c.IncEventSkipped()
	c.IncValidationNotice()
	c.IncBusyRejection()
	c.IncTransferStarted()
	c.IncTransferStarted()
	c.IncTransferSucceeded()
	c.IncTransferFailed("fetching")
	c.IncPartFetched()
	c.IncPartFetched()
	c.AddBytesFetched(1000)
	c.AddBytesFetched(-5)
	c.IncNormalized("remux")
	c.IncNormalized("transcode")
	c.IncNormalized("skipped")
	c.IncReencode()
	c.AddChunkedDelivery(3)
	c.IncArchiveWriteSuccess()
	c.IncArchiveWriteFailure()
	c.IncAdapterPublishSuccess()
	c.IncAdapterPublishFailure()

	s := c.Snapshot()

	checks := []struct {
		name      string
		got, want int64
	}{
		{"EventsReceived", s.EventsReceived, 3},
		{"EventsSkipped", s.EventsSkipped, 1},
		{"ValidationNotices", s.ValidationNotices, 1},
		{"BusyRejections", s.BusyRejections, 1},
		{"TransfersStarted", s.TransfersStarted, 2},
		{"TransfersSucceeded", s.TransfersSucceeded, 1},
		{"TransfersFailed", s.TransfersFailed, 1},
		{"PartsFetched", s.PartsFetched, 2},
		{"BytesFetched", s.BytesFetched, 1000},
		{"Remuxes", s.Remuxes, 1},
		{"Transcodes", s.Transcodes, 1},
		{"Reencodes", s.Reencodes, 1},
		{"ChunkedDeliveries", s.ChunkedDeliveries, 1},
		{"ChunksDelivered", s.ChunksDelivered, 3},
		{"ArchiveWriteSuccess", s.ArchiveWriteSuccess, 1},
		{"ArchiveWriteFailure", s.ArchiveWriteFailure, 1},
		{"AdapterPublishSuccess", s.AdapterPublishSuccess, 1},
		{"AdapterPublishFailure", s.AdapterPublishFailure, 1},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %d, want %d", ch.name, ch.got, ch.want)
		}
	}
	if s.FailedByStage["fetching"] != 1 {
		t.Errorf("FailedByStage[fetching] = %d, want 1", s.FailedByStage["fetching"])
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("local", "s3", "redis")
	s := c.Snapshot()

	if s.Transport != "local" {
		t.Errorf("Transport = %q, want %q", s.Transport, "local")
	}
	if s.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q, want %q", s.StorageBackend, "s3")
	}
	if s.Adapter != "redis" {
		t.Errorf("Adapter = %q, want %q", s.Adapter, "redis")
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("telegram", "", "")
	c.IncTransferStarted()
	c.IncTransferFailed("assembling")

	s1 := c.Snapshot()

	// Mutate collector after snapshot
	c.IncTransferSucceeded()
	c.IncTransferFailed("assembling")

	if s1.TransfersSucceeded != 0 {
		t.Errorf("s1.TransfersSucceeded = %d, want 0 (snapshot should be frozen)", s1.TransfersSucceeded)
	}
	if s1.FailedByStage["assembling"] != 1 {
		t.Errorf("s1.FailedByStage[assembling] = %d, want 1 (snapshot should be frozen)", s1.FailedByStage["assembling"])
	}

	// Mutating the snapshot map must not leak back
	s1.FailedByStage["injected"] = 1
	s2 := c.Snapshot()
	if _, exists := s2.FailedByStage["injected"]; exists {
		t.Error("FailedByStage should not contain injected key from snapshot mutation")
	}
	if s2.FailedByStage["assembling"] != 2 {
		t.Errorf("s2.FailedByStage[assembling] = %d, want 2", s2.FailedByStage["assembling"])
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncEventReceived()
	c.IncEventSkipped()
	c.IncValidationNotice()
	c.IncBusyRejection()
	c.IncTransferStarted()
	c.IncTransferSucceeded()
	c.IncTransferFailed("packaging")
	c.IncPartFetched()
	c.AddBytesFetched(10)
	c.IncNormalized("remux")
	c.IncReencode()
	c.AddChunkedDelivery(2)
	c.IncArchiveWriteSuccess()
	c.IncArchiveWriteFailure()
	c.IncAdapterPublishSuccess()
	c.IncAdapterPublishFailure()

	s := c.Snapshot()
	if s.TransfersStarted != 0 {
		t.Errorf("nil collector snapshot TransfersStarted = %d, want 0", s.TransfersStarted)
	}
	if s.FailedByStage != nil {
		t.Errorf("nil collector snapshot FailedByStage should be nil, got %v", s.FailedByStage)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("telegram", "fs", "")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncPartFetched()
				c.AddBytesFetched(2)
				c.IncTransferFailed("fetching")
			}
		}()
	}

	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)

	if s.PartsFetched != want {
		t.Errorf("PartsFetched = %d, want %d", s.PartsFetched, want)
	}
	if s.BytesFetched != 2*want {
		t.Errorf("BytesFetched = %d, want %d", s.BytesFetched, 2*want)
	}
	if s.FailedByStage["fetching"] != want {
		t.Errorf("FailedByStage[fetching] = %d, want %d", s.FailedByStage["fetching"], want)
	}
}

func TestSnapshot_Fields(t *testing.T) {
	c := NewCollector("telegram", "fs", "redis")
	c.IncTransferSucceeded()
	f := c.Snapshot().Fields()

	if f["transfers_succeeded"] != int64(1) {
		t.Errorf("transfers_succeeded = %v, want 1", f["transfers_succeeded"])
	}
	if f["adapter"] != "redis" {
		t.Errorf("adapter = %v, want redis", f["adapter"])
	}
}
