package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/ourresearch/curate/pkg/database"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/tracing"
)

// Repository is the durable work queue. Claim order is longest-since-finished
// first with never-finished rows at the front; a forced epoch-zero
// finished_at jumps a row ahead of even those. Claims carry a lease so a
// worker crash heals itself: once started_at ages past the lease the row is
// claimable again.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new queue repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Null finished_at sorts as epoch + 1 microsecond so rows forced to exactly
// epoch (priority enqueue) come first, never-finished rows next, and
// everything else by how long ago it finished.
const claimQuery = `UPDATE recompute_queue q
	SET started_at = NOW()
	FROM (
		SELECT entity_id
		FROM recompute_queue
		WHERE entity_type = $1
			AND operation = $2
			AND (started_at IS NULL OR started_at < NOW() - make_interval(secs => $3))
		ORDER BY COALESCE(finished_at, TIMESTAMP 'epoch' + INTERVAL '1 microsecond') ASC, rand
		LIMIT $4
		FOR UPDATE SKIP LOCKED
	) candidates
	WHERE q.entity_type = $1 AND q.operation = $2 AND q.entity_id = candidates.entity_id
	RETURNING q.entity_id`

// Claim atomically marks up to n eligible rows as in flight and returns
// their entity ids. Rows locked by a concurrent claimant are skipped, so two
// workers never claim the same row. An empty result is the normal empty-queue
// state, not an error.
func (r *Repository) Claim(ctx context.Context, entityType models.EntityType, operation models.Operation, n int, lease time.Duration) ([]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "queue.Repository.Claim")
	defer span.End()

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, claimQuery, entityType, operation, lease.Seconds(), n); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to claim queue rows")
		return nil, fmt.Errorf("claim queue rows: %w", err)
	}

	return ids, nil
}

// Complete marks the given rows finished and releases their claims.
func (r *Repository) Complete(ctx context.Context, entityType models.EntityType, operation models.Operation, ids []int64) error {
	ctx, span := tracing.StartSpan(ctx, "queue.Repository.Complete")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("recompute_queue")
	sb.Set(
		"finished_at = NOW()",
		"started_at = NULL",
	)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("operation", operation),
		sb.In("entity_id", sqlbuilder.Flatten(ids)...),
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to complete queue rows")
		return fmt.Errorf("complete queue rows: %w", err)
	}

	return nil
}

// Enqueue inserts or refreshes rows for the given ids. A normal enqueue
// resets finished_at to null; a priority enqueue forces it to epoch zero so
// the row sorts to the very front. An in-flight row keeps its claim either
// way.
func (r *Repository) Enqueue(ctx context.Context, entityType models.EntityType, operation models.Operation, ids []int64, priority bool) error {
	ctx, span := tracing.StartSpan(ctx, "queue.Repository.Enqueue")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	finished := "NULL"
	if priority {
		finished = "TIMESTAMP 'epoch'"
	}

	values := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, string(entityType), string(operation))
	for i, id := range ids {
		values = append(values, fmt.Sprintf("($1, $2, $%d, NULL, %s, random())", i+3, finished))
		args = append(args, id)
	}

	query := fmt.Sprintf(`INSERT INTO recompute_queue (entity_type, operation, entity_id, started_at, finished_at, rand)
		VALUES %s
		ON CONFLICT (entity_type, operation, entity_id)
		DO UPDATE SET finished_at = EXCLUDED.finished_at, rand = EXCLUDED.rand`,
		strings.Join(values, ", "))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to enqueue entity ids")
		return fmt.Errorf("enqueue %d ids: %w", len(ids), err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type": entityType,
		"operation":   operation,
		"count":       len(ids),
		"priority":    priority,
	}).Info("Enqueued entity ids")
	return nil
}

// Stats returns operator-facing row counts by state for one queue.
func (r *Repository) Stats(ctx context.Context, entityType models.EntityType, operation models.Operation) (*models.QueueStats, error) {
	ctx, span := tracing.StartSpan(ctx, "queue.Repository.Stats")
	defer span.End()

	query := `SELECT
			COUNT(*) FILTER (WHERE started_at IS NULL AND finished_at IS NULL) AS pending,
			COUNT(*) FILTER (WHERE started_at IS NOT NULL) AS in_flight,
			COUNT(*) FILTER (WHERE started_at IS NULL AND finished_at IS NOT NULL) AS finished
		FROM recompute_queue
		WHERE entity_type = $1 AND operation = $2`

	stats := models.QueueStats{EntityType: entityType, Operation: operation}
	if err := r.db.GetContext(ctx, &stats, query, entityType, operation); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get queue stats")
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	return &stats, nil
}
