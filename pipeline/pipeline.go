// Package pipeline runs one transfer end to end:
// plan, fetch, assemble, normalize, package, deliver.
//
// A run owns an exclusive working directory <work_dir>/<transfer_id> that is
// removed on every exit path, panics included. Stage failures never escape
// Run; they become the Result's outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/ferry/adapter"
	"github.com/pithecene-io/ferry/assemble"
	"github.com/pithecene-io/ferry/fetch"
	"github.com/pithecene-io/ferry/lode"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/metrics"
	"github.com/pithecene-io/ferry/normalize"
	"github.com/pithecene-io/ferry/plan"
	"github.com/pithecene-io/ferry/types"
)

// DefaultParts is the default number of ranges a known-size source is split into.
const DefaultParts = 4

// errInternal classifies recovered panics.
var errInternal = errors.New("internal error")

// finishTimeout bounds journal and adapter publishing after a run ends.
const finishTimeout = 30 * time.Second

// Fetcher probes a source and fetches ranges of it.
type Fetcher interface {
	Probe(ctx context.Context, rawURL string) (fetch.ProbeResult, error)
	FetchPart(ctx context.Context, rawURL string, r types.Range, dst string, onBytes func(int64)) (types.PartFile, error)
}

// Normalizer rewrites an artifact for streaming playback.
type Normalizer interface {
	Normalize(ctx context.Context, art types.Artifact) (normalize.Result, error)
}

// Packager turns an artifact into a delivery unit under the size ceiling.
type Packager interface {
	Package(ctx context.Context, art types.Artifact) (types.DeliveryUnit, error)
}

// Deliverer uploads one file of a delivery unit to the requester.
type Deliverer interface {
	DeliverFile(ctx context.Context, req *types.TransferRequest, item Item) error
}

// Archiver keeps delivered files and the transfer journal.
type Archiver interface {
	PutFiles(ctx context.Context, transferID, day string, paths []string) ([]string, error)
	WriteJournal(ctx context.Context, rec lode.JournalRecord) error
	StoragePath(transferID, day string) string
}

// Config configures a Pipeline.
type Config struct {
	// WorkDir is the parent of every per-transfer working directory (required).
	WorkDir string
	// Parts is the number of ranges for a known-size source (default 4).
	Parts int
	// Parallel bounds concurrent part fetches (default Parts).
	Parallel int

	Fetcher    Fetcher
	Normalizer Normalizer
	Packager   Packager
	Deliverer  Deliverer

	// Archive is optional. When set, delivered files are archived and every
	// outcome is journaled.
	Archive Archiver
	// Adapter is optional. When set, a transfer_completed event is published
	// for every outcome.
	Adapter adapter.Adapter
	// Collector records metrics. If nil, no metrics are recorded (all
	// Collector methods are nil-safe).
	Collector *metrics.Collector
	// Logger defaults to a no-op logger.
	Logger *log.Logger
	// Now is the clock (default time.Now).
	Now func() time.Time
}

// Result is the outcome of one run.
type Result struct {
	Request types.TransferRequest
	Outcome types.TransferOutcome
	// Err is the classified stage error (nil on success).
	Err error

	Plan          types.RangePlan
	Normalization normalize.Mode
	Unit          types.DeliveryUnit
	// ArchivedFiles are the archive keys of the delivered files.
	ArchivedFiles []string
	StoragePath   string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Pipeline executes transfers. It holds no per-run state and may be reused,
// but the service runs one transfer at a time.
type Pipeline struct {
	cfg    Config
	logger *log.Logger
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.WorkDir == "" {
		return nil, errors.New("pipeline requires a work directory")
	}
	if cfg.Fetcher == nil || cfg.Normalizer == nil || cfg.Packager == nil || cfg.Deliverer == nil {
		return nil, errors.New("pipeline requires a fetcher, normalizer, packager and deliverer")
	}
	if cfg.Parts <= 0 {
		cfg.Parts = DefaultParts
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = cfg.Parts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{cfg: cfg, logger: logger}, nil
}

// run is the state of one transfer.
type run struct {
	p      *Pipeline
	req    *types.TransferRequest
	logger *log.Logger
	dir    string
	res    *Result

	mu    sync.Mutex // guards state
	state types.TransferState

	sinkMu sync.Mutex // serializes sink calls
	sink   ProgressSink
}

// Run executes one transfer and always returns a Result. sink may be nil.
//
// Execution flow:
//  1. Probe the size and plan ranges
//  2. Fetch parts concurrently
//  3. Assemble, normalize, package
//  4. Deliver, archive
//  5. Purge the working directory, journal, publish
func (p *Pipeline) Run(ctx context.Context, req *types.TransferRequest, sink ProgressSink) *Result {
	res := &Result{StartedAt: p.cfg.Now()}
	if req != nil {
		res.Request = *req
	}
	r := &run{
		p:      p,
		req:    &res.Request,
		logger: p.logger.ForTransfer(req),
		res:    res,
		state:  types.StatePlanning,
		sink:   sink,
	}
	p.cfg.Collector.IncTransferStarted()

	func() {
		defer func() {
			if v := recover(); v != nil {
				r.logger.Error("pipeline panic", map[string]any{
					"panic": fmt.Sprint(v),
					"stack": string(debug.Stack()),
				})
				r.fail(r.panicError(v))
			}
			if r.dir != "" {
				if err := os.RemoveAll(r.dir); err != nil {
					r.logger.Warn("failed to purge working directory", map[string]any{"dir": r.dir, "error": err.Error()})
				}
			}
		}()
		r.execute(ctx)
	}()

	res.FinishedAt = p.cfg.Now()
	p.finish(ctx, r)
	return res
}

func (r *run) execute(ctx context.Context) {
	if err := r.req.Validate(); err != nil {
		r.fail(types.NewTransferError(types.ErrPlanning, types.StatePlanning, "invalid request", err))
		return
	}
	r.logger.Info("starting transfer", map[string]any{"url": r.req.SourceURL})

	r.dir = filepath.Join(r.p.cfg.WorkDir, r.req.ID)
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		r.fail(types.NewTransferError(types.ErrPlanning, types.StatePlanning, "create working directory", err))
		return
	}
	r.emit(Progress{State: types.StatePlanning})

	rangePlan := r.plan(ctx)
	r.res.Plan = rangePlan

	r.enter(types.StateFetching)
	parts, fetched, err := r.fetchAll(ctx, rangePlan)
	if err != nil {
		r.fail(err)
		return
	}

	r.enter(types.StateAssembling)
	r.emit(Progress{State: types.StateAssembling, PartsTotal: len(parts), BytesDone: fetched})
	art, err := assemble.Assemble(rangePlan, parts, filepath.Join(r.dir, artifactName(r.req.SourceURL)))
	if err != nil {
		r.fail(err)
		return
	}
	for _, part := range parts {
		_ = os.Remove(part.Path)
	}
	r.logger.Info("assembled", map[string]any{"size": art.SizeBytes, "parts": len(parts)})

	r.enter(types.StateNormalizing)
	r.emit(Progress{State: types.StateNormalizing})
	norm, err := r.p.cfg.Normalizer.Normalize(ctx, art)
	if err != nil {
		r.fail(err)
		return
	}
	r.res.Normalization = norm.Mode
	r.p.cfg.Collector.IncNormalized(string(norm.Mode))
	art = norm.Artifact
	if norm.Mode != normalize.ModeSkipped {
		if art, err = ensureMP4(art); err != nil {
			r.fail(types.NewTransferError(types.ErrNormalizationFailed, types.StateNormalizing, "rename artifact", err))
			return
		}
	}

	r.enter(types.StatePackaging)
	r.emit(Progress{State: types.StatePackaging, BytesDone: art.SizeBytes})
	unit, err := r.p.cfg.Packager.Package(ctx, art)
	if err != nil {
		r.fail(err)
		return
	}
	r.res.Unit = unit
	if unit.Reencoded {
		r.p.cfg.Collector.IncReencode()
	}
	r.logger.Info("packaged", map[string]any{
		"kind":      string(unit.Kind),
		"files":     len(unit.Paths()),
		"size":      unit.TotalBytes(),
		"reencoded": unit.Reencoded,
	})

	r.enter(types.StateDelivering)
	if err := r.deliver(ctx, unit); err != nil {
		r.fail(err)
		return
	}
	if unit.Kind == types.DeliveryChunkSet {
		r.p.cfg.Collector.AddChunkedDelivery(len(unit.Chunks))
	}

	r.archive(ctx, unit)

	r.enter(types.StateDone)
	r.res.Outcome = types.TransferOutcome{Status: types.OutcomeSuccess, Message: successMessage(unit)}
	r.emit(Progress{State: types.StateDone, Message: r.res.Outcome.Message})
}

// plan probes the source. Probe failures degrade to the whole-file plan.
func (r *run) plan(ctx context.Context) types.RangePlan {
	probe, err := r.p.cfg.Fetcher.Probe(ctx, r.req.SourceURL)
	if err != nil {
		r.logger.Warn("size probe failed, fetching the whole file", map[string]any{"error": err.Error()})
	}
	if probe.Size > 0 && probe.AcceptRanges {
		return plan.Plan(probe.Size, r.p.cfg.Parts)
	}
	if probe.Size > 0 {
		r.logger.Info("source does not serve ranges, fetching the whole file", map[string]any{"size": probe.Size})
	}
	return plan.WholeFile(probe.Size)
}

func (r *run) deliver(ctx context.Context, unit types.DeliveryUnit) error {
	items := Items(artifactName(r.req.SourceURL), unit)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return types.NewTransferError(types.ErrDeliveryFailed, types.StateDelivering, "canceled", err)
		}
		r.emit(Progress{State: types.StateDelivering, ItemsDone: i, ItemsTotal: len(items)})
		if err := r.p.cfg.Deliverer.DeliverFile(ctx, r.req, item); err != nil {
			return types.NewTransferError(types.ErrDeliveryFailed, types.StateDelivering, item.Name, err)
		}
	}
	return nil
}

// archive copies delivered files into the archive. Failures are logged only:
// the requester already has the file.
func (r *run) archive(ctx context.Context, unit types.DeliveryUnit) {
	a := r.p.cfg.Archive
	if a == nil {
		return
	}
	day := r.res.StartedAt.UTC().Format(lode.DayFormat)
	keys, err := a.PutFiles(ctx, r.req.ID, day, unit.Paths())
	if err != nil {
		r.p.cfg.Collector.IncArchiveWriteFailure()
		r.logger.Warn("archive write failed", map[string]any{"error": err.Error(), "error_kind": lode.Kind(err)})
		return
	}
	r.p.cfg.Collector.IncArchiveWriteSuccess()
	r.res.ArchivedFiles = keys
	r.res.StoragePath = a.StoragePath(r.req.ID, day)
}

// enter moves the run to the next state. An invalid transition is a bug and
// panics; Run recovers it as a failure.
func (r *run) enter(next types.TransferState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !types.CanTransition(r.state, next) {
		panic(fmt.Sprintf("invalid transition %s -> %s", r.state, next))
	}
	r.logger.Debug("state", map[string]any{"from": string(r.state), "to": string(next)})
	r.state = next
}

func (r *run) panicError(v any) error {
	r.mu.Lock()
	stage := r.state
	r.mu.Unlock()
	return types.NewTransferError(errInternal, stage, "panic", fmt.Errorf("%v", v))
}

// fail moves the run to failed and records the outcome. Only the first
// failure counts.
func (r *run) fail(err error) {
	r.mu.Lock()
	if r.state.IsTerminal() {
		r.mu.Unlock()
		return
	}
	stage := r.state
	var te *types.TransferError
	if errors.As(err, &te) && te.Stage != "" {
		stage = te.Stage
	} else {
		err = types.NewTransferError(stageKind(stage), stage, "", err)
	}
	r.state = types.StateFailed
	r.mu.Unlock()

	msg := failureMessage(stage, err)
	r.res.Err = err
	r.res.Outcome = types.TransferOutcome{Status: types.OutcomeFailed, FailedStage: stage, Message: msg}
	r.logger.Error("transfer failed", map[string]any{
		"stage": string(stage),
		"error": err.Error(),
	})
	r.emit(Progress{State: types.StateFailed, Message: msg})
}

// emit delivers progress to the sink in call order. The sink runs outside
// r.mu, so a slow consumer never holds up state changes.
func (r *run) emit(p Progress) {
	r.sinkMu.Lock()
	defer r.sinkMu.Unlock()
	r.send(p)
}

// emitTick is emit for byte ticks. A tick is dropped while the sink is busy
// so downloads never wait on it.
func (r *run) emitTick(p Progress) {
	if !r.sinkMu.TryLock() {
		return
	}
	defer r.sinkMu.Unlock()
	r.send(p)
}

// send calls the sink. Callers hold sinkMu. Sink panics are contained so a
// broken consumer cannot fail the transfer.
func (r *run) send(p Progress) {
	if r.sink == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.logger.Warn("progress sink panic", map[string]any{"panic": fmt.Sprint(v)})
		}
	}()
	r.sink(p)
}

// finish records metrics, journals and publishes the outcome.
func (p *Pipeline) finish(ctx context.Context, r *run) {
	res := r.res
	if res.Outcome.Status == types.OutcomeSuccess {
		p.cfg.Collector.IncTransferSucceeded()
	} else {
		p.cfg.Collector.IncTransferFailed(string(res.Outcome.FailedStage))
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if p.cfg.Archive != nil {
		if err := p.cfg.Archive.WriteJournal(ctx, journalRecord(res)); err != nil {
			r.logger.Warn("journal write failed", map[string]any{"error": err.Error(), "error_kind": lode.Kind(err)})
		}
	}

	if p.cfg.Adapter != nil {
		if err := p.cfg.Adapter.Publish(ctx, completedEvent(res)); err != nil {
			p.cfg.Collector.IncAdapterPublishFailure()
			r.logger.Warn("adapter publish failed", map[string]any{"error": err.Error()})
		} else {
			p.cfg.Collector.IncAdapterPublishSuccess()
		}
	}

	r.logger.Info("transfer finished", map[string]any{
		"outcome":      string(res.Outcome.Status),
		"failed_stage": string(res.Outcome.FailedStage),
		"duration_ms":  res.Duration().Milliseconds(),
	})
}

func journalRecord(res *Result) lode.JournalRecord {
	return lode.JournalRecord{
		TransferID:   res.Request.ID,
		SourceURL:    res.Request.SourceURL,
		RequesterID:  res.Request.RequesterID,
		Outcome:      res.Outcome.Status,
		FailedStage:  res.Outcome.FailedStage,
		Message:      res.Outcome.Message,
		DeliveryKind: res.Unit.Kind,
		ChunkCount:   len(res.Unit.Chunks),
		SizeBytes:    res.Unit.TotalBytes(),
		Files:        res.ArchivedFiles,
		StartedAt:    res.StartedAt,
		FinishedAt:   res.FinishedAt,
	}
}

func completedEvent(res *Result) *adapter.TransferCompletedEvent {
	return &adapter.TransferCompletedEvent{
		ContractVersion: types.EventContractVersion,
		EventType:       adapter.EventTypeTransferCompleted,
		TransferID:      res.Request.ID,
		SourceURL:       res.Request.SourceURL,
		RequesterID:     res.Request.RequesterID,
		Outcome:         string(res.Outcome.Status),
		FailedStage:     string(res.Outcome.FailedStage),
		Message:         res.Outcome.Message,
		DeliveryKind:    string(res.Unit.Kind),
		ChunkCount:      len(res.Unit.Chunks),
		SizeBytes:       res.Unit.TotalBytes(),
		DurationMs:      res.Duration().Milliseconds(),
		Timestamp:       res.FinishedAt.UTC().Format(time.RFC3339),
		StoragePath:     res.StoragePath,
	}
}

// ensureMP4 gives a normalized artifact an .mp4 extension.
func ensureMP4(art types.Artifact) (types.Artifact, error) {
	if strings.EqualFold(filepath.Ext(art.Path), ".mp4") {
		return art, nil
	}
	dst := strings.TrimSuffix(art.Path, filepath.Ext(art.Path)) + ".mp4"
	if err := os.Rename(art.Path, dst); err != nil {
		return art, err
	}
	art.Path = dst
	return art, nil
}
