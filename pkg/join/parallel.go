package join

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/metrics"
	"github.com/sanonone/annisdb/pkg/operators"
)

// ParallelOptions tunes a parallel nested loop join.
type ParallelOptions struct {
	// Workers is the number of goroutines a single join asks the pool for.
	// Zero uses the pool size.
	Workers int
	// QueueSize is the capacity of the result channel.
	QueueSize int
	// ChunkSize is the number of outer tuples a worker takes at once.
	ChunkSize int
}

// DefaultParallelOptions returns the settings used when none are configured.
func DefaultParallelOptions() ParallelOptions {
	return ParallelOptions{QueueSize: 1024, ChunkSize: 32}
}

// ParallelNestedLoopJoin checks the outer x inner cross product on a set of
// worker goroutines. The inner stream is read once and cached, the outer
// stream is handed out to the workers in chunks.
//
// The order of the produced tuples is not deterministic. If the pool has no
// free slot when a scan starts the join runs synchronously instead.
type ParallelNestedLoopJoin struct {
	op          operators.Operator
	outer       TupleIterator
	inner       TupleIterator
	outerIdx    int
	innerIdx    int
	leftIsOuter bool
	pool        *WorkerPool
	opts        ParallelOptions

	innerCache  [][]types.Match
	innerCached bool

	// mu guards the outer cursor while workers are running.
	mu        sync.Mutex
	outerDone bool

	started  bool
	running  atomic.Bool
	cancel   context.CancelFunc
	results  chan []types.Match
	fallback *NestedLoopJoin
	emitted  prometheus.Counter
}

func NewParallelNestedLoop(op operators.Operator, lhs, rhs TupleIterator, lhsIdx, rhsIdx int, leftIsOuter bool, pool *WorkerPool, opts ParallelOptions) *ParallelNestedLoopJoin {
	defaults := DefaultParallelOptions()
	if opts.Workers <= 0 {
		opts.Workers = pool.Size()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaults.ChunkSize
	}
	j := &ParallelNestedLoopJoin{
		op:          op,
		leftIsOuter: leftIsOuter,
		pool:        pool,
		opts:        opts,
		emitted:     metrics.JoinTuplesTotal.WithLabelValues(ParallelNestedLoop.String()),
	}
	if leftIsOuter {
		j.outer, j.inner, j.outerIdx, j.innerIdx = lhs, rhs, lhsIdx, rhsIdx
	} else {
		j.outer, j.inner, j.outerIdx, j.innerIdx = rhs, lhs, rhsIdx, lhsIdx
	}
	return j
}

func (j *ParallelNestedLoopJoin) start() {
	j.started = true
	if !j.innerCached {
		for t, ok := j.inner.Next(); ok; t, ok = j.inner.Next() {
			j.innerCache = append(j.innerCache, t)
		}
		j.innerCached = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan []types.Match, j.opts.QueueSize)
	j.running.Store(true)

	var wg sync.WaitGroup
	launched := 0
	for range j.opts.Workers {
		wg.Add(1)
		ok := j.pool.TryGo(func() {
			defer wg.Done()
			j.work(ctx, results)
		})
		if !ok {
			wg.Done()
			break
		}
		launched++
	}

	if launched == 0 {
		cancel()
		j.running.Store(false)
		metrics.ParallelJoinDegradedTotal.Inc()
		inner := &tupleList{tuples: j.innerCache}
		if j.leftIsOuter {
			j.fallback = NewNestedLoop(j.op, j.outer, inner, j.outerIdx, j.innerIdx, true)
		} else {
			j.fallback = NewNestedLoop(j.op, inner, j.outer, j.innerIdx, j.outerIdx, false)
		}
		return
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	j.cancel = cancel
	j.results = results
}

// nextChunk takes the next outer tuples for a worker.
func (j *ParallelNestedLoopJoin) nextChunk() [][]types.Match {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.outerDone {
		return nil
	}
	chunk := make([][]types.Match, 0, j.opts.ChunkSize)
	for len(chunk) < j.opts.ChunkSize {
		t, ok := j.outer.Next()
		if !ok {
			j.outerDone = true
			break
		}
		chunk = append(chunk, t)
	}
	return chunk
}

func (j *ParallelNestedLoopJoin) work(ctx context.Context, results chan<- []types.Match) {
	for j.running.Load() {
		chunk := j.nextChunk()
		if len(chunk) == 0 {
			return
		}
		for _, outer := range chunk {
			for _, inner := range j.innerCache {
				t, ok := pairTuples(j.op, j.leftIsOuter, outer, inner, j.outerIdx, j.innerIdx)
				if !ok {
					continue
				}
				select {
				case results <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (j *ParallelNestedLoopJoin) Next() ([]types.Match, bool) {
	if !j.started {
		j.start()
	}
	if j.fallback != nil {
		return j.fallback.Next()
	}
	t, ok := <-j.results
	if ok {
		j.emitted.Inc()
	}
	return t, ok
}

// stop cancels the running workers and waits until all of them are gone.
// Results still queued are discarded.
func (j *ParallelNestedLoopJoin) stop() {
	if j.results == nil {
		return
	}
	j.running.Store(false)
	j.cancel()
	for range j.results {
	}
	j.results = nil
	j.cancel = nil
}

// Reset cancels a running scan. The next call to Next starts over with the
// cached inner tuples.
func (j *ParallelNestedLoopJoin) Reset() {
	j.stop()
	j.fallback = nil
	j.started = false
	j.outerDone = false
	j.outer.Reset()
}

// Close stops all workers. The join must not be used afterwards.
func (j *ParallelNestedLoopJoin) Close() {
	j.stop()
	closeIterator(j.outer)
	closeIterator(j.inner)
}
