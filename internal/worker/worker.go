// Package worker drains the dependent value queue in the background.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kai-model/internal/cas"
	"kai-model/internal/graph"
	"kai-model/internal/metrics"
	"kai-model/internal/snapshot"
	"kai-model/internal/store"
)

// Queue is the slice of the store the runner needs.
type Queue interface {
	ClaimDependentValues(ctx context.Context, limit int) ([]store.DependentValueItem, error)
	CompleteDependentValue(ctx context.Context, id int64, errMsg string) error
}

// Processor handles one claimed item. A returned error marks the item failed.
type Processor interface {
	Process(ctx context.Context, item store.DependentValueItem) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, item store.DependentValueItem) error

func (f ProcessorFunc) Process(ctx context.Context, item store.DependentValueItem) error {
	return f(ctx, item)
}

// Options configure a Runner. Zero values pick the defaults.
type Options struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	Logger      *zap.Logger
}

// Runner claims queue items on a ticker and processes them concurrently.
type Runner struct {
	queue       Queue
	proc        Processor
	interval    time.Duration
	batchSize   int
	concurrency int
	logger      *zap.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	stopped bool
}

// NewRunner creates a runner.
func NewRunner(queue Queue, proc Processor, opts Options) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{
		queue:       queue,
		proc:        proc,
		interval:    opts.Interval,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		logger:      opts.Logger.With(zap.String("component", "worker")),
		stop:        make(chan struct{}),
	}
}

// Start begins the background processing loop. It is a no-op after the
// first call.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil || r.stopped {
		return
	}
	r.done = make(chan struct{})
	go r.run(ctx)
}

// Stop signals the loop to exit and waits for the batch in flight.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.stop)
	}
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if _, err := r.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("processing batch", zap.Error(err))
			}
		}
	}
}

// ProcessAll drains the queue synchronously and returns the number of items
// handled.
func (r *Runner) ProcessAll(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.processBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

func (r *Runner) processBatch(ctx context.Context) (int, error) {
	items, err := r.queue.ClaimDependentValues(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claiming items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, item := range items {
		g.Go(func() error {
			return r.processOne(gctx, item)
		})
	}
	return len(items), g.Wait()
}

func (r *Runner) processOne(ctx context.Context, item store.DependentValueItem) error {
	errMsg := ""
	status := store.StatusDone
	if err := r.proc.Process(ctx, item); err != nil {
		r.logger.Warn("dependent value failed",
			zap.Int64("item", item.ID),
			zap.String("attributeValue", item.AttributeValueID.String()),
			zap.Error(err))
		errMsg = err.Error()
		status = store.StatusFailed
	}

	if err := r.queue.CompleteDependentValue(ctx, item.ID, errMsg); err != nil {
		return fmt.Errorf("completing item %d: %w", item.ID, err)
	}
	metrics.QueueItemsProcessed.WithLabelValues(status).Inc()
	return nil
}

const maxCachedSnapshots = 64

// SnapshotProcessor checks each queued attribute value against the snapshot
// it was enqueued with. Loaded snapshots are cached by address.
type SnapshotProcessor struct {
	store  cas.Store
	logger *zap.Logger

	mu    sync.Mutex
	cache map[cas.ContentHash]*snapshot.WorkspaceSnapshot
}

// NewSnapshotProcessor creates a processor reading snapshots from s.
func NewSnapshotProcessor(s cas.Store, logger *zap.Logger) *SnapshotProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotProcessor{
		store:  s,
		logger: logger,
		cache:  make(map[cas.ContentHash]*snapshot.WorkspaceSnapshot),
	}
}

// Process implements Processor.
func (p *SnapshotProcessor) Process(ctx context.Context, item store.DependentValueItem) error {
	snap, err := p.load(ctx, item.SnapshotAddress)
	if err != nil {
		return err
	}

	w, err := snap.GetNodeWeightByID(ctx, item.AttributeValueID)
	if err != nil {
		return err
	}
	if w.Kind() != graph.KindAttributeValue {
		return &graph.UnexpectedNodeWeightKindError{ID: w.ID(), Expected: graph.KindAttributeValue, Actual: w.Kind()}
	}

	p.logger.Debug("dependent value ready",
		zap.String("attributeValue", item.AttributeValueID.String()),
		zap.String("changeSet", item.ChangeSetID.String()),
		zap.String("snapshot", item.SnapshotAddress.Short()))
	return nil
}

func (p *SnapshotProcessor) load(ctx context.Context, address cas.ContentHash) (*snapshot.WorkspaceSnapshot, error) {
	p.mu.Lock()
	snap, ok := p.cache[address]
	p.mu.Unlock()
	if ok {
		return snap, nil
	}

	snap, err := snapshot.Load(ctx, p.store, address)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if len(p.cache) >= maxCachedSnapshots {
		clear(p.cache)
	}
	p.cache[address] = snap
	p.mu.Unlock()
	return snap, nil
}
