package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/tracing"
)

// Claimer is the durable queue the worker drains.
type Claimer interface {
	Claim(ctx context.Context, entityType models.EntityType, operation models.Operation, n int, lease time.Duration) ([]int64, error)
	Complete(ctx context.Context, entityType models.EntityType, operation models.Operation, ids []int64) error
}

// WorkerConfig tunes one drain loop.
type WorkerConfig struct {
	EntityType models.EntityType
	Operation  models.Operation
	ChunkSize  int
	// Lease is how long a claim stays exclusive. A worker that dies mid-chunk
	// loses its claim after the lease and the rows become claimable again.
	Lease time.Duration
	// EmptyBackoff is the sleep between polls when the queue is empty.
	EmptyBackoff time.Duration
}

// Worker drains one (entity type, operation) queue. Claims a chunk, hands it
// to the registered handler, marks it complete. A handler failure is logged
// and the chunk is left claimed; the lease expiry returns it to the pool.
type Worker struct {
	queue    Claimer
	registry *Registry
	config   WorkerConfig
	logger   ectologger.Logger
}

// NewWorker creates a drain-loop worker.
func NewWorker(queue Claimer, registry *Registry, config WorkerConfig, logger ectologger.Logger) *Worker {
	return &Worker{
		queue:    queue,
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// Run drains the queue until ctx is canceled. Returns an error immediately if
// the worker's pair was never registered.
func (w *Worker) Run(ctx context.Context) error {
	handler, ok := w.registry.Lookup(w.config.EntityType, w.config.Operation)
	if !ok {
		return fmt.Errorf("no handler registered for %s/%s", w.config.EntityType, w.config.Operation)
	}

	log := w.logger.WithFields(map[string]any{
		"entity_type": w.config.EntityType,
		"operation":   w.config.Operation,
	})
	log.Info("Queue worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Queue worker stopping")
			return ctx.Err()
		default:
		}

		processed, err := w.runOnce(ctx, handler)
		if err != nil {
			// Back off here too so a persistent failure does not turn the
			// loop into a hot retry against the database.
			log.WithContext(ctx).WithError(err).Error("Chunk processing failed, rows stay claimed until lease expiry")
			if !w.sleep(ctx) {
				log.Info("Queue worker stopping")
				return ctx.Err()
			}
			continue
		}
		if processed == 0 {
			if !w.sleep(ctx) {
				log.Info("Queue worker stopping")
				return ctx.Err()
			}
		}
	}
}

// RunOnce claims and processes a single chunk. Used by the CLI for one-shot
// runs. Returns how many ids were processed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	handler, ok := w.registry.Lookup(w.config.EntityType, w.config.Operation)
	if !ok {
		return 0, fmt.Errorf("no handler registered for %s/%s", w.config.EntityType, w.config.Operation)
	}
	return w.runOnce(ctx, handler)
}

func (w *Worker) runOnce(ctx context.Context, handler Handler) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "queue.Worker.runOnce")
	defer span.End()

	ids, err := w.queue.Claim(ctx, w.config.EntityType, w.config.Operation, w.config.ChunkSize, w.config.Lease)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := handler.Handle(ctx, w.config.EntityType, ids); err != nil {
		return 0, err
	}

	if err := w.queue.Complete(ctx, w.config.EntityType, w.config.Operation, ids); err != nil {
		return 0, err
	}

	w.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type": w.config.EntityType,
		"operation":   w.config.Operation,
		"count":       len(ids),
	}).Info("Processed queue chunk")
	return len(ids), nil
}

// sleep waits out the empty-queue backoff. Returns false if ctx was canceled.
func (w *Worker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.config.EmptyBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
