// Package dispatch long-polls the messaging transport and turns each inbound
// link into one pipeline run.
//
// The dispatcher owns the only process-wide state: the event offset. It is
// seeded past the pending backlog at startup and advanced after every event,
// whatever the event's outcome, so each event is handled at most once per
// process lifetime.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/metrics"
	"github.com/pithecene-io/ferry/pipeline"
	"github.com/pithecene-io/ferry/types"
)

// Defaults for Config.
const (
	DefaultPollInterval     = time.Second
	DefaultPollTimeout      = 25 * time.Second
	DefaultProgressInterval = 3 * time.Second
)

// Notices sent to requesters.
const (
	UsageText = "Send me a direct http(s) link to a video file and I will fetch it, " +
		"prepare it for streaming and send it back here. Files over the upload limit " +
		"arrive re-encoded or as numbered parts."
	InvalidLinkText = "That does not look like a link I can fetch. " +
		"Send a single absolute http(s) URL."
	BusyText = "Busy with another transfer. Send the link again when it finishes."
)

// BusyPolicy decides what happens to a link that arrives during a transfer.
type BusyPolicy string

const (
	// BusyQueue handles events strictly one after another. Links sent during
	// a transfer wait in the transport until it finishes.
	BusyQueue BusyPolicy = "queue"
	// BusyReject keeps polling during a transfer and answers new links with
	// a busy notice.
	BusyReject BusyPolicy = "reject"
)

// ParseBusyPolicy validates a policy name. Empty means BusyQueue.
func ParseBusyPolicy(s string) (BusyPolicy, error) {
	switch BusyPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", BusyQueue:
		return BusyQueue, nil
	case BusyReject:
		return BusyReject, nil
	default:
		return "", fmt.Errorf("unknown busy policy %q (valid: queue, reject)", s)
	}
}

// Transport is the messaging side of the relay.
type Transport interface {
	// PollEvents returns pending events with offsets >= after. A negative
	// after returns only the newest pending event.
	PollEvents(ctx context.Context, after int64, wait time.Duration) ([]types.InboundEvent, error)
	SendMessage(ctx context.Context, recipient int64, text string) (types.MessageHandle, error)
	EditMessage(ctx context.Context, recipient int64, handle types.MessageHandle, text string) error
	SendVideo(ctx context.Context, recipient int64, path, caption string) error
	SendDocument(ctx context.Context, recipient int64, path, caption string) error
}

// Runner executes one transfer. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, req *types.TransferRequest, sink pipeline.ProgressSink) *pipeline.Result
}

// Config configures a Dispatcher.
type Config struct {
	// PollInterval is the pause after an empty or failed poll.
	PollInterval time.Duration
	// PollTimeout is the long-poll wait passed to the transport.
	PollTimeout time.Duration
	// ProgressInterval throttles byte-level status edits.
	ProgressInterval time.Duration
	// SkipBacklog seeds the offset past pending events on Run.
	SkipBacklog bool
	BusyPolicy  BusyPolicy
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollTimeout < 0 {
		c.PollTimeout = 0
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.BusyPolicy == "" {
		c.BusyPolicy = BusyQueue
	}
	return c
}

// Options holds optional collaborators.
type Options struct {
	Logger    *log.Logger
	Collector *metrics.Collector
	// NewID generates transfer IDs (default UUIDv7).
	NewID func() (string, error)
	Now   func() time.Time
}

// Dispatcher is the event loop.
type Dispatcher struct {
	cfg       Config
	transport Transport
	runner    Runner
	logger    *log.Logger
	collector *metrics.Collector
	newID     func() (string, error)
	now       func() time.Time

	offset atomic.Int64
	// busy holds one token while a transfer runs under BusyReject.
	busy chan struct{}
	wg   sync.WaitGroup
}

// New creates a dispatcher.
func New(cfg Config, transport Transport, runner Runner, opts Options) (*Dispatcher, error) {
	if transport == nil || runner == nil {
		return nil, errors.New("dispatcher requires a transport and a runner")
	}
	cfg = cfg.withDefaults()
	if _, err := ParseBusyPolicy(string(cfg.BusyPolicy)); err != nil {
		return nil, err
	}
	d := &Dispatcher{
		cfg:       cfg,
		transport: transport,
		runner:    runner,
		logger:    opts.Logger,
		collector: opts.Collector,
		newID:     opts.NewID,
		now:       opts.Now,
		busy:      make(chan struct{}, 1),
	}
	if d.logger == nil {
		d.logger = log.NewNop()
	}
	if d.newID == nil {
		d.newID = newTransferID
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

func newTransferID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Offset returns the next offset to poll from.
func (d *Dispatcher) Offset() int64 {
	return d.offset.Load()
}

// advance moves the offset forward. It never moves backwards.
func (d *Dispatcher) advance(next int64) {
	for {
		cur := d.offset.Load()
		if next <= cur || d.offset.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Seed skips the pending backlog: the offset moves one past the newest
// pending event. With no pending events the offset is unchanged.
func (d *Dispatcher) Seed(ctx context.Context) error {
	events, err := d.transport.PollEvents(ctx, -1, 0)
	if err != nil {
		return fmt.Errorf("seed offset: %w", err)
	}
	if len(events) == 0 {
		d.logger.Info("no pending events", map[string]any{"offset": d.Offset()})
		return nil
	}
	newest := events[len(events)-1].Offset
	d.advance(newest + 1)
	d.logger.Info("skipped pending backlog", map[string]any{"offset": d.Offset()})
	return nil
}

// Step polls once and handles every returned event in order. It returns the
// number of events handled. Only a poll failure is an error.
func (d *Dispatcher) Step(ctx context.Context) (int, error) {
	events, err := d.transport.PollEvents(ctx, d.Offset(), d.cfg.PollTimeout)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, ev := range events {
		if ev.Offset < d.Offset() {
			// Already handled; a transport may repeat the last page.
			continue
		}
		d.collector.IncEventReceived()
		d.handle(ctx, ev)
		d.advance(ev.Offset + 1)
		handled++
	}
	return handled, nil
}

// Run seeds the offset (when configured) and loops until ctx is done. It waits
// for an in-flight transfer before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.wg.Wait()

	if d.cfg.SkipBacklog {
		if err := d.Seed(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("failed to skip backlog", map[string]any{"error": err.Error()})
		}
	}

	d.logger.Info("dispatcher started", map[string]any{
		"offset":      d.Offset(),
		"busy_policy": string(d.cfg.BusyPolicy),
	})
	for {
		if ctx.Err() != nil {
			d.logger.Info("dispatcher stopped", map[string]any{"offset": d.Offset()})
			return nil
		}
		n, err := d.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			d.logger.Warn("poll failed", map[string]any{"error": err.Error()})
		}
		if err != nil || n == 0 {
			sleep(ctx, d.cfg.PollInterval)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// handle processes one event. Panics are contained so one bad event cannot
// stop the loop.
func (d *Dispatcher) handle(ctx context.Context, ev types.InboundEvent) {
	defer func() {
		if v := recover(); v != nil {
			d.logger.Error("event handler panic", map[string]any{
				"offset": ev.Offset,
				"panic":  fmt.Sprint(v),
				"stack":  string(debug.Stack()),
			})
		}
	}()

	if ev.SenderID == 0 {
		d.collector.IncEventSkipped()
		return
	}

	text := strings.TrimSpace(ev.Text)
	if isCommand(text, "start") || isCommand(text, "help") {
		d.notify(ctx, ev.SenderID, UsageText)
		return
	}
	if _, err := types.ParseSourceURL(text); err != nil {
		d.collector.IncValidationNotice()
		d.logger.Debug("not a link", map[string]any{"offset": ev.Offset, "reason": err.Error()})
		d.notify(ctx, ev.SenderID, InvalidLinkText)
		return
	}

	if d.cfg.BusyPolicy == BusyQueue {
		d.transfer(ctx, ev.SenderID, text)
		return
	}

	select {
	case d.busy <- struct{}{}:
	default:
		d.collector.IncBusyRejection()
		d.notify(ctx, ev.SenderID, BusyText)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.busy }()
		d.transfer(ctx, ev.SenderID, text)
	}()
}

// transfer runs the pipeline for one link and keeps the status message current.
func (d *Dispatcher) transfer(ctx context.Context, chatID int64, rawURL string) {
	id, err := d.newID()
	if err != nil {
		d.logger.Error("failed to generate transfer id", map[string]any{"error": err.Error()})
		d.notify(ctx, chatID, "Failed: could not start the transfer")
		return
	}
	req := &types.TransferRequest{
		ID:          id,
		SourceURL:   rawURL,
		RequesterID: chatID,
		ReceivedAt:  d.now(),
	}
	logger := d.logger.ForTransfer(req)

	status := newStatusReporter(d.transport, chatID, d.cfg.ProgressInterval, d.now, logger)
	req.StatusHandle = status.start(ctx, pipeline.Progress{State: types.StatePlanning}.Text())
	defer func() {
		if v := recover(); v != nil {
			logger.Error("transfer panic", map[string]any{
				"panic": fmt.Sprint(v),
				"stack": string(debug.Stack()),
			})
			status.final(ctx, pipeline.Progress{State: types.StateFailed, Message: "internal error"}.Text())
		}
	}()

	res := d.runner.Run(ctx, req, func(p pipeline.Progress) { status.update(ctx, p) })
	if res == nil {
		logger.Error("pipeline returned no result", nil)
		status.final(ctx, pipeline.Progress{State: types.StateFailed, Message: "internal error"}.Text())
		return
	}
	if !status.terminal() {
		final := pipeline.Progress{State: types.StateDone, Message: res.Outcome.Message}
		if res.Outcome.Status != types.OutcomeSuccess {
			final.State = types.StateFailed
		}
		status.final(ctx, final.Text())
	}
}

func (d *Dispatcher) notify(ctx context.Context, chatID int64, text string) {
	if _, err := d.transport.SendMessage(ctx, chatID, text); err != nil {
		d.logger.Warn("failed to send notice", map[string]any{"chat_id": chatID, "error": err.Error()})
	}
}

// isCommand matches "/name" and "/name@botname" with optional arguments.
func isCommand(text, name string) bool {
	if !strings.HasPrefix(text, "/") {
		return false
	}
	word, _, _ := strings.Cut(text[1:], " ")
	word, _, _ = strings.Cut(word, "@")
	return strings.EqualFold(word, name)
}
