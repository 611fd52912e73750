package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/pipeline"
	"github.com/pithecene-io/ferry/types"
)

// statusReporter keeps one editable status message per transfer.
// Unchanged text is never re-sent, byte-level ticks are throttled, and state
// changes always go out.
type statusReporter struct {
	transport Transport
	chatID    int64
	interval  time.Duration
	now       func() time.Time
	logger    *log.Logger

	mu       sync.Mutex
	handle   types.MessageHandle
	lastText string
	lastSent time.Time
	done     bool
}

func newStatusReporter(t Transport, chatID int64, interval time.Duration, now func() time.Time, logger *log.Logger) *statusReporter {
	return &statusReporter{transport: t, chatID: chatID, interval: interval, now: now, logger: logger}
}

// start sends the initial status message and returns its handle (zero when
// the send failed; the next update retries).
func (s *statusReporter) start(ctx context.Context, text string) types.MessageHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send(ctx, text)
	return s.handle
}

func (s *statusReporter) update(ctx context.Context, p pipeline.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	text := p.Text()
	if text == s.lastText && !p.State.IsTerminal() {
		return
	}
	if p.ByteTick && s.now().Sub(s.lastSent) < s.interval {
		return
	}
	if s.send(ctx, text) && p.State.IsTerminal() {
		s.done = true
	}
}

// final sends a terminal status unless one was already sent.
func (s *statusReporter) final(ctx context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = s.send(ctx, text)
}

func (s *statusReporter) terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// send edits the status message, or sends a new one when none exists yet.
// It reports whether the text is now shown.
func (s *statusReporter) send(ctx context.Context, text string) bool {
	if text == s.lastText {
		return true
	}
	var err error
	if s.handle == 0 {
		var h types.MessageHandle
		if h, err = s.transport.SendMessage(ctx, s.chatID, text); err == nil {
			s.handle = h
		}
	} else {
		err = s.transport.EditMessage(ctx, s.chatID, s.handle, text)
	}
	if err != nil {
		s.logger.Warn("status update failed", map[string]any{"error": err.Error()})
		return false
	}
	s.lastText = text
	s.lastSent = s.now()
	return true
}
