package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/ferry/metrics"
	"github.com/pithecene-io/ferry/pipeline"
	"github.com/pithecene-io/ferry/types"
)

type sentMessage struct {
	chatID int64
	handle types.MessageHandle
	text   string
}

type upload struct {
	kind    string
	chatID  int64
	path    string
	caption string
}

// fakeTransport keeps pending events in memory. Polls never consume events;
// only the offset decides what is returned.
type fakeTransport struct {
	mu         sync.Mutex
	pending    []types.InboundEvent
	polls      []int64
	pollErr    error
	editErr    error
	sendErr    error
	messages   []sentMessage
	edits      []sentMessage
	uploads    []upload
	nextHandle types.MessageHandle
}

func (f *fakeTransport) PollEvents(_ context.Context, after int64, _ time.Duration) ([]types.InboundEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, after)
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if after < 0 {
		if len(f.pending) == 0 {
			return nil, nil
		}
		return f.pending[len(f.pending)-1:], nil
	}
	var out []types.InboundEvent
	for _, ev := range f.pending {
		if ev.Offset >= after {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeTransport) SendMessage(_ context.Context, chatID int64, text string) (types.MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextHandle++
	f.messages = append(f.messages, sentMessage{chatID: chatID, handle: f.nextHandle, text: text})
	return f.nextHandle, nil
}

func (f *fakeTransport) EditMessage(_ context.Context, chatID int64, handle types.MessageHandle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, sentMessage{chatID: chatID, handle: handle, text: text})
	return nil
}

func (f *fakeTransport) SendVideo(_ context.Context, chatID int64, path, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, upload{kind: "video", chatID: chatID, path: path, caption: caption})
	return nil
}

func (f *fakeTransport) SendDocument(_ context.Context, chatID int64, path, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, upload{kind: "document", chatID: chatID, path: path, caption: caption})
	return nil
}

func (f *fakeTransport) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.messages {
		out = append(out, m.text)
	}
	return out
}

func (f *fakeTransport) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1].text
}

// fakeRunner replays a fixed outcome through the sink.
type fakeRunner struct {
	mu      sync.Mutex
	reqs    []types.TransferRequest
	run     func(ctx context.Context, req *types.TransferRequest, sink pipeline.ProgressSink) *pipeline.Result
	offsets []int64
	d       *Dispatcher
}

func (r *fakeRunner) Run(ctx context.Context, req *types.TransferRequest, sink pipeline.ProgressSink) *pipeline.Result {
	r.mu.Lock()
	r.reqs = append(r.reqs, *req)
	if r.d != nil {
		r.offsets = append(r.offsets, r.d.Offset())
	}
	fn := r.run
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, req, sink)
	}
	return succeed(req, sink)
}

func (r *fakeRunner) requests() []types.TransferRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.TransferRequest(nil), r.reqs...)
}

func succeed(req *types.TransferRequest, sink pipeline.ProgressSink) *pipeline.Result {
	sink(pipeline.Progress{State: types.StatePlanning})
	sink(pipeline.Progress{State: types.StateFetching, PartsTotal: 4, TotalSize: 1000})
	sink(pipeline.Progress{State: types.StateFetching, PartsDone: 4, PartsTotal: 4, BytesDone: 1000, TotalSize: 1000})
	sink(pipeline.Progress{State: types.StateDone, Message: "sent 1000 B"})
	return &pipeline.Result{Request: *req, Outcome: types.TransferOutcome{Status: types.OutcomeSuccess, Message: "sent 1000 B"}}
}

func fail(req *types.TransferRequest, sink pipeline.ProgressSink) *pipeline.Result {
	sink(pipeline.Progress{State: types.StatePlanning})
	sink(pipeline.Progress{State: types.StateFailed, Message: "download failed (HTTP 404)"})
	return &pipeline.Result{Request: *req, Outcome: types.TransferOutcome{
		Status: types.OutcomeFailed, FailedStage: types.StateFetching, Message: "download failed (HTTP 404)",
	}}
}

func newTestDispatcher(t *testing.T, cfg Config, transport *fakeTransport, runner *fakeRunner) *Dispatcher {
	t.Helper()
	n := 0
	d, err := New(cfg, transport, runner, Options{
		Collector: metrics.NewCollector("fake", "", ""),
		NewID: func() (string, error) {
			n++
			return "t-" + string(rune('0'+n)), nil
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	runner.d = d
	return d
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}, nil, &fakeRunner{}, Options{}); err == nil {
		t.Error("expected error for nil transport")
	}
	if _, err := New(Config{BusyPolicy: "drop"}, &fakeTransport{}, &fakeRunner{}, Options{}); err == nil {
		t.Error("expected error for unknown busy policy")
	}
}

func TestSeed_SkipsBacklog(t *testing.T) {
	transport := &fakeTransport{pending: []types.InboundEvent{
		{Offset: 5, SenderID: 1, Text: "https://old.test/a.mp4"},
		{Offset: 6, SenderID: 1, Text: "https://old.test/b.mp4"},
		{Offset: 7, SenderID: 1, Text: "https://old.test/c.mp4"},
	}}
	runner := &fakeRunner{}
	d := newTestDispatcher(t, Config{}, transport, runner)

	if err := d.Seed(context.Background()); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if d.Offset() != 8 {
		t.Fatalf("Offset = %d, want 8", d.Offset())
	}
	if transport.polls[0] != -1 {
		t.Errorf("seed must ask for the newest event only, polled with %d", transport.polls[0])
	}

	n, err := d.Step(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Step = (%d, %v), want no events", n, err)
	}
	if len(runner.requests()) != 0 {
		t.Error("backlog must not be replayed")
	}
}

func TestSeed_NoPendingEvents(t *testing.T) {
	d := newTestDispatcher(t, Config{}, &fakeTransport{}, &fakeRunner{})
	if err := d.Seed(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d.Offset() != 0 {
		t.Errorf("Offset = %d, want 0", d.Offset())
	}
}

func TestStep_HandlesEventsInOrder(t *testing.T) {
	transport := &fakeTransport{pending: []types.InboundEvent{
		{Offset: 10, SenderID: 42, Text: "  https://cdn.test/v/clip.mp4  "},
		{Offset: 11, SenderID: 42, Text: "hello"},
		{Offset: 12, SenderID: 0, Text: "https://cdn.test/ignored.mp4"},
		{Offset: 13, SenderID: 43, Text: "/start@ferry_bot"},
	}}
	runner := &fakeRunner{}
	d := newTestDispatcher(t, Config{}, transport, runner)

	n, err := d.Step(context.Background())
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if n != 4 || d.Offset() != 14 {
		t.Fatalf("Step handled %d events, offset %d; want 4 and 14", n, d.Offset())
	}

	reqs := runner.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one transfer, got %d", len(reqs))
	}
	if reqs[0].SourceURL != "https://cdn.test/v/clip.mp4" || reqs[0].RequesterID != 42 || reqs[0].StatusHandle == 0 {
		t.Errorf("unexpected request %+v", reqs[0])
	}
	if runner.offsets[0] > 10 {
		t.Errorf("offset advanced before the event was handled: %d", runner.offsets[0])
	}

	texts := transport.texts()
	want := []string{"Checking the file...", InvalidLinkText, UsageText}
	if strings.Join(texts, "|") != strings.Join(want, "|") {
		t.Errorf("messages = %q, want %q", texts, want)
	}
	if got := transport.lastEdit(); got != "Done: sent 1000 B" {
		t.Errorf("final status = %q", got)
	}

	snap := d.collector.Snapshot()
	if snap.EventsReceived != 4 || snap.EventsSkipped != 1 || snap.ValidationNotices != 1 {
		t.Errorf("unexpected metrics %+v", snap)
	}

	// A repeated page is not handled twice.
	if n, _ := d.Step(context.Background()); n != 0 {
		t.Errorf("second Step handled %d events", n)
	}
}

func TestStep_OffsetMonotonic(t *testing.T) {
	transport := &fakeTransport{}
	d := newTestDispatcher(t, Config{}, transport, &fakeRunner{})

	prev := d.Offset()
	for i, off := range []int64{3, 4, 9, 10} {
		transport.mu.Lock()
		transport.pending = append(transport.pending, types.InboundEvent{Offset: off, SenderID: 1, Text: "not a link"})
		transport.mu.Unlock()
		if _, err := d.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
		if d.Offset() < prev+1 || d.Offset() != off+1 {
			t.Fatalf("step %d: offset %d after %d", i, d.Offset(), prev)
		}
		prev = d.Offset()
	}
	d.advance(2)
	if d.Offset() != 11 {
		t.Errorf("offset moved backwards to %d", d.Offset())
	}
}

func TestStep_FailureIsolation(t *testing.T) {
	transport := &fakeTransport{pending: []types.InboundEvent{
		{Offset: 1, SenderID: 7, Text: "https://cdn.test/panic.mp4"},
		{Offset: 2, SenderID: 7, Text: "https://cdn.test/missing.mp4"},
		{Offset: 3, SenderID: 7, Text: "https://cdn.test/ok.mp4"},
	}}
	runner := &fakeRunner{}
	runner.run = func(_ context.Context, req *types.TransferRequest, sink pipeline.ProgressSink) *pipeline.Result {
		switch {
		case strings.Contains(req.SourceURL, "panic"):
			panic("boom")
		case strings.Contains(req.SourceURL, "missing"):
			return fail(req, sink)
		default:
			return succeed(req, sink)
		}
	}
	d := newTestDispatcher(t, Config{}, transport, runner)

	n, err := d.Step(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || d.Offset() != 4 {
		t.Fatalf("handled %d, offset %d; want 3 and 4", n, d.Offset())
	}
	if len(runner.requests()) != 3 {
		t.Fatalf("expected all three transfers to run, got %d", len(runner.requests()))
	}

	var finals []string
	for _, e := range transport.edits {
		if strings.HasPrefix(e.text, "Done") || strings.HasPrefix(e.text, "Failed") {
			finals = append(finals, e.text)
		}
	}
	want := []string{"Failed: internal error", "Failed: download failed (HTTP 404)", "Done: sent 1000 B"}
	if strings.Join(finals, "|") != strings.Join(want, "|") {
		t.Errorf("final statuses = %q, want %q", finals, want)
	}
}

func TestStep_PollError(t *testing.T) {
	transport := &fakeTransport{pollErr: errors.New("telegram getUpdates: http 502: Bad Gateway")}
	d := newTestDispatcher(t, Config{}, transport, &fakeRunner{})
	d.advance(5)

	if _, err := d.Step(context.Background()); err == nil {
		t.Fatal("expected poll error")
	}
	if d.Offset() != 5 {
		t.Errorf("offset changed on poll failure: %d", d.Offset())
	}
}

func TestStep_RejectWhileBusy(t *testing.T) {
	transport := &fakeTransport{pending: []types.InboundEvent{
		{Offset: 1, SenderID: 7, Text: "https://cdn.test/long.mp4"},
		{Offset: 2, SenderID: 8, Text: "https://cdn.test/second.mp4"},
	}}
	release := make(chan struct{})
	runner := &fakeRunner{}
	runner.run = func(_ context.Context, req *types.TransferRequest, sink pipeline.ProgressSink) *pipeline.Result {
		<-release
		return succeed(req, sink)
	}
	d := newTestDispatcher(t, Config{BusyPolicy: BusyReject}, transport, runner)

	n, err := d.Step(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Step = (%d, %v)", n, err)
	}
	if d.Offset() != 3 {
		t.Errorf("Offset = %d, want 3", d.Offset())
	}

	close(release)
	d.wg.Wait()

	reqs := runner.requests()
	if len(reqs) != 1 || reqs[0].RequesterID != 7 {
		t.Fatalf("expected only the first transfer to run, got %+v", reqs)
	}
	var busy int
	for _, m := range transport.messages {
		if m.text == BusyText && m.chatID == 8 {
			busy++
		}
	}
	if busy != 1 {
		t.Errorf("expected one busy notice to chat 8, messages %+v", transport.messages)
	}
	if d.collector.Snapshot().BusyRejections != 1 {
		t.Error("busy rejection not counted")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	transport := &fakeTransport{}
	d := newTestDispatcher(t, Config{PollInterval: 5 * time.Millisecond, SkipBacklog: true}, transport, &fakeRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.polls) < 2 || transport.polls[0] != -1 {
		t.Errorf("expected seed poll then loop polls, got %v", transport.polls)
	}
}

func TestRun_SurvivesPollErrors(t *testing.T) {
	transport := &fakeTransport{pollErr: errors.New("connection reset")}
	d := newTestDispatcher(t, Config{PollInterval: time.Millisecond}, transport, &fakeRunner{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.polls) < 2 {
		t.Errorf("expected repeated polls, got %d", len(transport.polls))
	}
}

func TestTransportDeliverer(t *testing.T) {
	transport := &fakeTransport{}
	d := TransportDeliverer{Transport: transport}
	req := &types.TransferRequest{RequesterID: 9}

	if err := d.DeliverFile(context.Background(), req, pipeline.Item{Path: "/w/clip.mp4", Caption: "clip", Playable: true}); err != nil {
		t.Fatal(err)
	}
	if err := d.DeliverFile(context.Background(), req, pipeline.Item{Path: "/w/clip.mp4.001", Caption: "Part 1/2"}); err != nil {
		t.Fatal(err)
	}
	if transport.uploads[0].kind != "video" || transport.uploads[1].kind != "document" || transport.uploads[1].chatID != 9 {
		t.Errorf("unexpected uploads %+v", transport.uploads)
	}
}

func TestParseBusyPolicy(t *testing.T) {
	for in, want := range map[string]BusyPolicy{"": BusyQueue, "queue": BusyQueue, " Reject ": BusyReject} {
		got, err := ParseBusyPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseBusyPolicy(%q) = (%q, %v)", in, got, err)
		}
	}
	if _, err := ParseBusyPolicy("drop"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestIsCommand(t *testing.T) {
	tests := []struct {
		text, name string
		want       bool
	}{
		{"/start", "start", true},
		{"/start@ferry_bot", "start", true},
		{"/HELP me", "help", true},
		{"/starter", "start", false},
		{"start", "start", false},
	}
	for _, tt := range tests {
		if got := isCommand(tt.text, tt.name); got != tt.want {
			t.Errorf("isCommand(%q, %q) = %v", tt.text, tt.name, got)
		}
	}
}
