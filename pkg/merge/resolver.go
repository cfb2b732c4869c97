package merge

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ourresearch/curate/internal/repositories/entity"
	"github.com/ourresearch/curate/internal/repositories/relation"
	"github.com/ourresearch/curate/pkg/database"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/tracing"
)

// Enqueuer schedules entities for reprocessing after a merge commits.
type Enqueuer interface {
	Enqueue(ctx context.Context, entityType models.EntityType, operation models.Operation, ids []int64, priority bool) error
}

// Emitter publishes entity-change events.
type Emitter interface {
	EntityMerged(ctx context.Context, entityType models.EntityType, awayID, intoID int64) error
}

// Resolver executes merge requests. A request moves
// Requested -> Validated -> Applied -> Committed; Rejected is terminal and
// only reachable from validation. All mutations of one merge share a single
// transaction.
type Resolver struct {
	db        database.DB
	entities  *entity.Repository
	relations *relation.Repository
	redirects *RedirectCache
	enqueuer  Enqueuer
	emitter   Emitter
	validate  *validator.Validate
	logger    ectologger.Logger
}

// NewResolver creates a merge resolver. enqueuer and emitter may be nil; the
// resolver then skips reprocessing scheduling and event emission.
func NewResolver(db database.DB, entities *entity.Repository, relations *relation.Repository, redirects *RedirectCache, enqueuer Enqueuer, emitter Emitter, logger ectologger.Logger) *Resolver {
	return &Resolver{
		db:        db,
		entities:  entities,
		relations: relations,
		redirects: redirects,
		enqueuer:  enqueuer,
		emitter:   emitter,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

// Merge collapses away into into. On success every relation row that pointed
// at away points at into (or was dropped as a duplicate), away is tombstoned
// with zeroed aggregates, and into is stamped for full reprocessing.
// Aggregate counters on into are recomputed externally, never here.
func (r *Resolver) Merge(ctx context.Context, req models.MergeRequest) (*models.MergeReport, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Resolver.Merge")
	defer span.End()

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	report := &models.MergeReport{
		RequestID:    req.ID,
		EntityType:   req.EntityType,
		AwayID:       req.AwayID,
		IntoID:       req.IntoID,
		State:        models.MergeStateRequested,
		Repointed:    map[string]int64{},
		Deduplicated: map[string]int64{},
	}

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"request_id":  req.ID,
		"entity_type": req.EntityType,
		"away_id":     req.AwayID,
		"into_id":     req.IntoID,
	})

	if err := r.validateRequest(ctx, &req, report); err != nil || report.State == models.MergeStateRejected {
		return report, err
	}
	report.IntoID = req.IntoID // may have been redirected
	report.State = models.MergeStateValidated

	now := time.Now().UTC()
	ctxTx, tx, err := r.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		report.Reason = "failed to begin transaction"
		return report, fmt.Errorf("%w: begin: %v", models.ErrMergeFailed, err)
	}
	// Rollback with the pre-transaction context so it actually fires if we
	// return before Commit.
	defer tx.Rollback(ctx)

	if err := r.apply(ctxTx, tx, &req, report, now); err != nil {
		log.WithError(err).Error("Merge failed, rolling back")
		report.Reason = err.Error()
		return report, fmt.Errorf("%w: %v", models.ErrMergeFailed, err)
	}
	report.State = models.MergeStateApplied

	if err := tx.Commit(ctxTx); err != nil {
		report.Reason = "failed to commit transaction"
		return report, fmt.Errorf("%w: commit: %v", models.ErrMergeFailed, err)
	}
	report.State = models.MergeStateCommitted
	report.CompletedAt = &now

	r.redirects.Record(req.EntityType, req.AwayID, req.IntoID)

	if r.enqueuer != nil {
		if err := r.enqueuer.Enqueue(ctx, req.EntityType, models.OperationStore, []int64{req.AwayID, req.IntoID}, true); err != nil {
			log.WithError(err).Error("Failed to enqueue merged entities for reprocessing")
		}
	}

	if r.emitter != nil {
		if err := r.emitter.EntityMerged(ctx, req.EntityType, req.AwayID, req.IntoID); err != nil {
			log.WithError(err).Error("Failed to emit merge event")
		}
	}

	log.WithFields(map[string]any{
		"repointed":    report.Repointed,
		"deduplicated": report.Deduplicated,
	}).Info("Merge committed")
	return report, nil
}

// validateRequest checks the preconditions. It sets the report to Rejected
// for ambiguous targets (a warning, not an error) and returns an error for
// the caller-surfaced failures.
func (r *Resolver) validateRequest(ctx context.Context, req *models.MergeRequest, report *models.MergeReport) error {
	if err := r.validate.Struct(req); err != nil {
		report.State = models.MergeStateRejected
		report.Reason = err.Error()
		return fmt.Errorf("%w: %v", models.ErrInvalidIdentifier, err)
	}

	if !req.EntityType.IsValid() {
		report.State = models.MergeStateRejected
		report.Reason = fmt.Sprintf("unknown entity type %q", req.EntityType)
		return fmt.Errorf("%w: unknown entity type %q", models.ErrInvalidIdentifier, req.EntityType)
	}

	// Follow redirects so merging into an already-merged winner lands on the
	// terminal entity. The away side is deliberately not resolved: re-merging
	// an already-merged pair is an idempotent re-apply, not an error.
	resolved := r.redirects.Resolve(req.EntityType, req.IntoID)
	if resolved != req.IntoID {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"into_id":  req.IntoID,
			"resolved": resolved,
		}).Info("Merge target was itself merged; following redirect")
		req.IntoID = resolved
	}

	if req.AwayID == req.IntoID {
		report.State = models.MergeStateRejected
		report.Reason = "away and into resolve to the same entity"
		return fmt.Errorf("%w: away and into resolve to the same entity %d", models.ErrInvalidIdentifier, req.AwayID)
	}

	for _, id := range []int64{req.AwayID, req.IntoID} {
		count, err := r.relations.CountMatches(ctx, r.db, req.EntityType, id)
		if err != nil {
			report.State = models.MergeStateRejected
			report.Reason = "failed to look up merge entities"
			return fmt.Errorf("%w: lookup: %v", models.ErrMergeFailed, err)
		}
		switch {
		case count == 0:
			report.State = models.MergeStateRejected
			report.Reason = fmt.Sprintf("%s %d not found", req.EntityType, id)
			return fmt.Errorf("%w: %s %d", models.ErrEntityNotFound, req.EntityType, id)
		case count > 1:
			// Unsupported edge case. Skip the merge and leave resolution to a
			// curator; surfaced as a warning only.
			report.State = models.MergeStateRejected
			report.Reason = fmt.Sprintf("%s %d matches %d rows", req.EntityType, id, count)
			r.logger.WithContext(ctx).WithError(models.ErrAmbiguousMergeTarget).WithFields(map[string]any{
				"entity_type": req.EntityType,
				"id":          id,
				"matches":     count,
			}).Warn("Ambiguous merge target, skipping merge")
			return nil
		}
	}

	return nil
}

func (r *Resolver) apply(ctx context.Context, tx database.Tx, req *models.MergeRequest, report *models.MergeReport, now time.Time) error {
	for _, rel := range RelationsFor(req.EntityType) {
		deduped, repointed, err := r.relations.DedupAndRepoint(ctx, tx, rel, req.EntityType, req.AwayID, req.IntoID)
		if err != nil {
			return err
		}
		if deduped > 0 {
			report.Deduplicated[rel.Table] += deduped
		}
		if repointed > 0 {
			report.Repointed[rel.Table] += repointed
		}
	}

	if req.EntityType == models.EntityTypeInstitution {
		if err := r.relations.ClearRorID(ctx, tx, req.AwayID); err != nil {
			return err
		}
	}

	filled, err := r.relations.FillForward(ctx, tx, req.EntityType, req.AwayID, req.IntoID)
	if err != nil {
		return err
	}
	report.FilledFields = filled

	if err := r.relations.Tombstone(ctx, tx, req.EntityType, req.AwayID, req.IntoID, now); err != nil {
		return err
	}

	return r.relations.StampFullUpdated(ctx, tx, req.EntityType, req.IntoID, now)
}
