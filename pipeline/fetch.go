package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pithecene-io/ferry/types"
)

// byteTickStep is the minimum byte delta between two byte-level progress updates.
const byteTickStep = 1 << 20

// partTracker reports fetch progress. Completed parts are announced in index
// order even when they finish out of order.
type partTracker struct {
	r     *run
	total int
	size  int64

	mu       sync.Mutex
	done     []bool
	next     int
	bytes    int64
	lastTick int64
}

func (t *partTracker) progress(tick bool) Progress {
	return Progress{
		State:      types.StateFetching,
		PartsDone:  t.next,
		PartsTotal: t.total,
		BytesDone:  t.bytes,
		TotalSize:  t.size,
		ByteTick:   tick,
	}
}

func (t *partTracker) addBytes(n int64) {
	t.mu.Lock()
	t.bytes += n
	if t.bytes-t.lastTick < byteTickStep {
		t.mu.Unlock()
		return
	}
	t.lastTick = t.bytes
	p := t.progress(true)
	t.mu.Unlock()
	t.r.emitTick(p)
}

func (t *partTracker) complete(index int) {
	t.mu.Lock()
	t.done[index] = true
	var updates []Progress
	for t.next < t.total && t.done[t.next] {
		t.next++
		updates = append(updates, t.progress(false))
	}
	// sinkMu is taken before t.mu is released so completions reach the sink
	// in order, while byte counting only waits for the counter update.
	t.r.sinkMu.Lock()
	t.mu.Unlock()
	defer t.r.sinkMu.Unlock()
	for _, p := range updates {
		t.r.send(p)
	}
}

// fetchAll fetches every range of the plan into the working directory,
// at most Config.Parallel at a time. The first failure cancels the rest.
func (r *run) fetchAll(ctx context.Context, rangePlan types.RangePlan) ([]types.PartFile, int64, error) {
	cfg := r.p.cfg
	n := len(rangePlan.Ranges)
	tracker := &partTracker{r: r, total: n, size: rangePlan.TotalSize, done: make([]bool, n)}
	r.emit(tracker.progress(false))

	parts := make([]types.PartFile, n)
	sem := semaphore.NewWeighted(int64(cfg.Parallel))
	g, gctx := errgroup.WithContext(ctx)

	for i, rng := range rangePlan.Ranges {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() (err error) {
			defer sem.Release(1)
			defer func() {
				if v := recover(); v != nil {
					err = r.panicError(v)
				}
			}()
			dst := filepath.Join(r.dir, fmt.Sprintf("part-%03d", rng.Index))
			part, err := cfg.Fetcher.FetchPart(gctx, r.req.SourceURL, rng, dst, tracker.addBytes)
			if err != nil {
				return err
			}
			cfg.Collector.IncPartFetched()
			cfg.Collector.AddBytesFetched(part.BytesReceived)
			r.logger.Debug("part fetched", map[string]any{
				"index": part.Index,
				"range": rng.String(),
				"bytes": part.BytesReceived,
			})
			parts[i] = part
			tracker.complete(i)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	// Acquire only fails when gctx was canceled; a nil Wait then means the
	// parent context ended before any part failed.
	if err := ctx.Err(); err != nil {
		return nil, 0, types.NewTransferError(types.ErrFetchFailed, types.StateFetching, "canceled", err)
	}

	var total int64
	for _, p := range parts {
		total += p.BytesReceived
	}
	return parts, total, nil
}
