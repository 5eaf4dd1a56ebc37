package kgraph

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantumflow/kgraph/internal/workerpool"
)

// indexerPoolID names the process-wide worker pool used to dispatch
// batch-embed calls off the flushing goroutine, per §5's "process-wide
// singleton keyed by pool ID".
const indexerPoolID = "kgraph.indexer"

// IndexOpType names the three operation kinds the incremental indexer
// coalesces.
type IndexOpType string

const (
	IndexOpCreate IndexOpType = "create"
	IndexOpUpdate IndexOpType = "update"
	IndexOpDelete IndexOpType = "delete"
)

// IndexOp is one queued vector-index operation.
type IndexOp struct {
	Type       IndexOpType
	EntityName string
	Text       string
	QueuedAt   time.Time
}

// FlushResult reports the outcome of one flush call.
type FlushResult struct {
	Processed  int
	Succeeded  int
	Failed     int
	Errors     []error
	DurationMs int64
}

// Indexer is C5's incremental indexer: a queue of create/update/
// delete operations, coalesced by entity, flushed in batches against
// an abstract VectorStore. Grounded on the teacher's
// internal/memory.MemoryService periodic-ticker lifecycle
// (runPeriodicCompaction's ticker+select+stopCh shape); the batch's
// embedding calls are rate-limited the way
// internal/integration.TokenBucketRateLimiter protects bursty
// external calls, and dispatched through the same workerpool registry
// fuzzy search uses, keeping the flush call off whichever goroutine
// triggered it (periodic ticker, threshold trip, or Shutdown).
type Indexer struct {
	store    VectorStore
	embedder EmbeddingProvider
	logger   Logger
	limiter  *rate.Limiter

	queueThreshold int
	flushInterval  time.Duration

	mu          sync.Mutex
	queue       map[string]*IndexOp // entityName -> latest op
	order       []string            // insertion order of current queue keys
	flushing    bool
	shutdown    bool
	pendingTick bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewIndexer constructs an Indexer and starts its periodic flush
// ticker. Call Shutdown to drain and stop it.
func NewIndexer(store VectorStore, embedder EmbeddingProvider, queueThreshold int, flushInterval time.Duration, rps float64, logger Logger) *Indexer {
	if logger == nil {
		logger = defaultLogger{}
	}
	if queueThreshold <= 0 {
		queueThreshold = 50
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if rps <= 0 {
		rps = 20
	}
	ix := &Indexer{
		store:          store,
		embedder:       embedder,
		logger:         logger,
		limiter:        rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		queueThreshold: queueThreshold,
		flushInterval:  flushInterval,
		queue:          make(map[string]*IndexOp),
		stopCh:         make(chan struct{}),
	}
	ix.wg.Add(1)
	go ix.periodicFlush()
	return ix
}

func (ix *Indexer) periodicFlush() {
	defer ix.wg.Done()
	ticker := time.NewTicker(ix.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ix.stopCh:
			return
		case <-ticker.C:
			if _, err := ix.Flush(context.Background()); err != nil {
				ix.logger.Printf("kgraph: periodic indexer flush failed: %v", err)
			}
		}
	}
}

// Enqueue adds or supersedes the pending op for entityName: at most
// one pending op per entity, a later op supersedes the earlier, and
// create-after-update keeps update's text.
func (ix *Indexer) Enqueue(op IndexOp) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.shutdown {
		return newErr(KindValidationFailed, "indexer is shut down")
	}
	if op.QueuedAt.IsZero() {
		op.QueuedAt = time.Now().UTC()
	}
	if existing, ok := ix.queue[op.EntityName]; ok {
		if existing.Type == IndexOpUpdate && op.Type == IndexOpCreate {
			op.Text = existing.Text
		}
	} else {
		ix.order = append(ix.order, op.EntityName)
	}
	ix.queue[op.EntityName] = &op

	if len(ix.queue) >= ix.queueThreshold && !ix.pendingTick {
		ix.pendingTick = true
		go func() {
			if _, err := ix.Flush(context.Background()); err != nil {
				ix.logger.Printf("kgraph: threshold-triggered indexer flush failed: %v", err)
			}
		}()
	}
	return nil
}

// Flush processes every queued op: deletes first, then a single
// batch-embed call for the remaining texts with per-item fallback on
// batch failure. If a flush is already in progress, returns an empty
// result immediately and leaves the queue to accumulate for the next
// idle flush.
func (ix *Indexer) Flush(ctx context.Context) (FlushResult, error) {
	ix.mu.Lock()
	if ix.flushing {
		ix.mu.Unlock()
		return FlushResult{}, nil
	}
	ix.flushing = true
	ix.pendingTick = false
	ops := make([]*IndexOp, 0, len(ix.queue))
	for _, name := range ix.order {
		if op, ok := ix.queue[name]; ok {
			ops = append(ops, op)
		}
	}
	ix.queue = make(map[string]*IndexOp)
	ix.order = nil
	ix.mu.Unlock()

	defer func() {
		ix.mu.Lock()
		ix.flushing = false
		ix.mu.Unlock()
	}()

	start := time.Now()
	result := FlushResult{}

	var toEmbed []*IndexOp
	for _, op := range ops {
		if op.Type == IndexOpDelete {
			result.Processed++
			if err := ix.store.Remove(ctx, op.EntityName); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, err)
				continue
			}
			result.Succeeded++
			continue
		}
		toEmbed = append(toEmbed, op)
	}

	if len(toEmbed) > 0 {
		if err := ix.limiter.Wait(ctx); err != nil {
			result.Errors = append(result.Errors, wrapErr(KindOperationCancelled, "rate limit wait", err))
		} else {
			texts := make([]string, len(toEmbed))
			for i, op := range toEmbed {
				texts[i] = op.Text
			}
			pool := workerpool.Get(indexerPoolID, workerpool.DefaultConfig())
			v, err := pool.SubmitSync(ctx, func(ctx context.Context) (any, error) {
				return ix.embedder.EmbedBatch(ctx, texts)
			})
			vectors, _ := v.([][]float32)
			if err != nil {
				ix.logger.Printf("kgraph: batch embed failed, falling back per item: %v", err)
				for _, op := range toEmbed {
					result.Processed++
					v, err := ix.embedder.Embed(ctx, op.Text)
					if err != nil {
						result.Failed++
						result.Errors = append(result.Errors, err)
						continue
					}
					if err := ix.store.Add(ctx, op.EntityName, v); err != nil {
						result.Failed++
						result.Errors = append(result.Errors, err)
						continue
					}
					result.Succeeded++
				}
			} else {
				for i, op := range toEmbed {
					result.Processed++
					if i >= len(vectors) {
						result.Failed++
						result.Errors = append(result.Errors, newErr(KindEmbeddingFailed, "missing vector in batch response"))
						continue
					}
					if err := ix.store.Add(ctx, op.EntityName, vectors[i]); err != nil {
						result.Failed++
						result.Errors = append(result.Errors, err)
						continue
					}
					result.Succeeded++
				}
			}
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// Shutdown drains pending ops in one final flush, stops the periodic
// ticker, and rejects further enqueues.
func (ix *Indexer) Shutdown(ctx context.Context) (FlushResult, error) {
	ix.mu.Lock()
	ix.shutdown = true
	ix.mu.Unlock()
	close(ix.stopCh)
	ix.wg.Wait()
	return ix.Flush(ctx)
}

// QueueLen returns the number of distinct entities with a pending op.
func (ix *Indexer) QueueLen() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.queue)
}
