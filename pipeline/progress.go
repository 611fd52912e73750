package pipeline

import (
	"fmt"

	"github.com/pithecene-io/ferry/bytefmt"
	"github.com/pithecene-io/ferry/types"
)

// Progress is one update emitted by a run.
type Progress struct {
	State types.TransferState

	// Fetch counters. TotalSize is types.UnknownSize when the source did not
	// report one.
	PartsDone  int
	PartsTotal int
	BytesDone  int64
	TotalSize  int64

	// Delivery counters.
	ItemsDone  int
	ItemsTotal int

	// ByteTick marks a byte-level update inside a state. Ticks are dropped
	// while the sink is still handling an earlier update, and consumers may
	// throttle them further. Every other update is a state change or a
	// completed part and is always delivered.
	ByteTick bool

	// Message is the final user-facing text for done and failed.
	Message string
}

// Text renders the progress for a chat status message or a terminal.
func (p Progress) Text() string {
	switch p.State {
	case types.StatePlanning:
		return "Checking the file..."
	case types.StateFetching:
		return p.fetchText()
	case types.StateAssembling:
		return fmt.Sprintf("Assembling %d %s (%s)...", p.PartsTotal, plural(p.PartsTotal, "part", "parts"), bytefmt.Format(p.BytesDone))
	case types.StateNormalizing:
		return "Preparing the video for streaming..."
	case types.StatePackaging:
		return "Packaging for upload..."
	case types.StateDelivering:
		if p.ItemsTotal > 1 {
			return fmt.Sprintf("Uploading %d/%d...", p.ItemsDone+1, p.ItemsTotal)
		}
		return "Uploading..."
	case types.StateDone:
		if p.Message != "" {
			return "Done: " + p.Message
		}
		return "Done."
	case types.StateFailed:
		if p.Message != "" {
			return "Failed: " + p.Message
		}
		return "Failed."
	default:
		return string(p.State)
	}
}

func (p Progress) fetchText() string {
	if p.TotalSize > 0 {
		pct := p.BytesDone * 100 / p.TotalSize
		if pct > 100 {
			pct = 100
		}
		return fmt.Sprintf("Downloading: %d%% (%s of %s), %d/%d %s done",
			pct, bytefmt.Format(p.BytesDone), bytefmt.Format(p.TotalSize),
			p.PartsDone, p.PartsTotal, plural(p.PartsTotal, "part", "parts"))
	}
	// Unknown size: part count and raw bytes only.
	return fmt.Sprintf("Downloading: %d/%d %s done, %s received (size unknown)",
		p.PartsDone, p.PartsTotal, plural(p.PartsTotal, "part", "parts"), bytefmt.Format(p.BytesDone))
}

// Fraction returns completion of the fetch in [0, 1], or -1 when unknown.
func (p Progress) Fraction() float64 {
	if p.State == types.StateFetching && p.TotalSize > 0 {
		f := float64(p.BytesDone) / float64(p.TotalSize)
		if f > 1 {
			f = 1
		}
		return f
	}
	return -1
}

// ProgressSink receives progress updates. Calls are serialized.
type ProgressSink func(Progress)

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
