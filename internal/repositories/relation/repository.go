package relation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/ourresearch/curate/pkg/database"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/tracing"
)

// Repository executes the per-relation mutations of a merge. Every method
// takes an open transaction; the resolver owns commit and rollback.
type Repository struct {
	logger ectologger.Logger
}

// NewRepository creates a new relation repository
func NewRepository(logger ectologger.Logger) *Repository {
	return &Repository{
		logger: logger,
	}
}

// DedupAndRepoint moves rel's rows from away to into. Away-side rows whose
// natural key already exists on the into side are deleted first so the
// re-point never double-inserts an equivalent reference. Returns the number
// of rows dropped and re-pointed.
func (r *Repository) DedupAndRepoint(ctx context.Context, tx database.Tx, rel models.MergeRelation, entityType models.EntityType, awayID, intoID int64) (deduped int64, repointed int64, err error) {
	ctx, span := tracing.StartSpan(ctx, "relation.Repository.DedupAndRepoint")
	defer span.End()

	if len(rel.NaturalKey) > 0 {
		deleteQuery, deleteArgs := buildDedupDelete(rel, entityType, awayID, intoID)
		result, err := tx.ExecContext(ctx, deleteQuery, deleteArgs...)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"table": rel.Table,
			}).Error("Failed to drop duplicate relation rows")
			return 0, 0, fmt.Errorf("dedup %s: %w", rel.Table, err)
		}
		deduped, _ = result.RowsAffected()
	}

	updateQuery, updateArgs := buildRepointUpdate(rel, entityType, awayID, intoID)
	result, err := tx.ExecContext(ctx, updateQuery, updateArgs...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"table": rel.Table,
		}).Error("Failed to re-point relation rows")
		return deduped, 0, fmt.Errorf("repoint %s: %w", rel.Table, err)
	}
	repointed, _ = result.RowsAffected()

	return deduped, repointed, nil
}

// buildDedupDelete deletes away-side rows that duplicate an into-side row on
// the relation's natural key. Identifiers come from the closed merge table,
// never from input.
func buildDedupDelete(rel models.MergeRelation, entityType models.EntityType, awayID, intoID int64) (string, []any) {
	conditions := make([]string, 0, len(rel.NaturalKey))
	for _, key := range rel.NaturalKey {
		conditions = append(conditions, fmt.Sprintf("b.%s = a.%s", key, key))
	}

	args := []any{awayID, intoID}
	awayClause := fmt.Sprintf("a.%s = $1", rel.Column)
	intoClause := fmt.Sprintf("b.%s = $2", rel.Column)
	if rel.TypeColumn != "" {
		args = append(args, string(entityType))
		awayClause += fmt.Sprintf(" AND a.%s = $3", rel.TypeColumn)
		intoClause += fmt.Sprintf(" AND b.%s = $3", rel.TypeColumn)
	}

	query := fmt.Sprintf(
		"DELETE FROM %s a WHERE %s AND EXISTS (SELECT 1 FROM %s b WHERE %s AND %s)",
		rel.Table, awayClause, rel.Table, intoClause, strings.Join(conditions, " AND "),
	)
	return query, args
}

func buildRepointUpdate(rel models.MergeRelation, entityType models.EntityType, awayID, intoID int64) (string, []any) {
	args := []any{intoID, awayID}
	where := fmt.Sprintf("%s = $2", rel.Column)
	if rel.TypeColumn != "" {
		args = append(args, string(entityType))
		where += fmt.Sprintf(" AND %s = $3", rel.TypeColumn)
	}

	query := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s", rel.Table, rel.Column, where)
	return query, args
}

// Tombstone zeroes away's aggregate counters and stamps the merge redirect.
// Aggregates are recomputed externally; the resolver only clears the loser.
func (r *Repository) Tombstone(ctx context.Context, tx database.Tx, entityType models.EntityType, awayID, intoID int64, now time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "relation.Repository.Tombstone")
	defer span.End()

	query := `UPDATE entities
		SET paper_count = 0,
			citation_count = 0,
			merge_into_id = $1,
			merge_into_date = $2,
			updated_date = $2
		WHERE entity_type = $3 AND id = $4`
	if _, err := tx.ExecContext(ctx, query, intoID, now, entityType, awayID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to tombstone merged entity")
		return fmt.Errorf("tombstone %s %d: %w", entityType, awayID, err)
	}

	return nil
}

// StampFullUpdated marks the winner for full reprocessing.
func (r *Repository) StampFullUpdated(ctx context.Context, tx database.Tx, entityType models.EntityType, intoID int64, now time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "relation.Repository.StampFullUpdated")
	defer span.End()

	query := `UPDATE entities SET full_updated_date = $1 WHERE entity_type = $2 AND id = $3`
	if _, err := tx.ExecContext(ctx, query, now, entityType, intoID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to stamp full_updated_date")
		return fmt.Errorf("stamp full_updated_date %s %d: %w", entityType, intoID, err)
	}

	return nil
}

// fillForwardFields are the scalar fields copied from away to into when the
// into side is empty. A populated field is never overwritten.
var fillForwardFields = []string{"abstract", "subjects"}

// FillForward copies away's scalar fields onto into where into's are null or
// empty. Returns the names of the fields that were filled.
func (r *Repository) FillForward(ctx context.Context, tx database.Tx, entityType models.EntityType, awayID, intoID int64) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "relation.Repository.FillForward")
	defer span.End()

	filled := make([]string, 0, len(fillForwardFields))
	for _, field := range fillForwardFields {
		query := fmt.Sprintf(`UPDATE entities i
			SET %s = a.%s
			FROM entities a
			WHERE i.entity_type = $1 AND i.id = $2
			AND a.entity_type = $1 AND a.id = $3
			AND (i.%s IS NULL OR i.%s = '')
			AND a.%s IS NOT NULL AND a.%s <> ''`,
			field, field, field, field, field, field)

		result, err := tx.ExecContext(ctx, query, entityType, intoID, awayID)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"field": field,
			}).Error("Failed to fill forward field")
			return filled, fmt.Errorf("fill forward %s: %w", field, err)
		}
		if rows, _ := result.RowsAffected(); rows > 0 {
			filled = append(filled, field)
		}
	}

	return filled, nil
}

// ClearRorID removes the external registry identifier from a merged-away
// institution. The identifier conceptually belongs to the winner now.
func (r *Repository) ClearRorID(ctx context.Context, tx database.Tx, awayID int64) error {
	ctx, span := tracing.StartSpan(ctx, "relation.Repository.ClearRorID")
	defer span.End()

	query := `UPDATE entities SET ror_id = NULL WHERE entity_type = $1 AND id = $2`
	if _, err := tx.ExecContext(ctx, query, models.EntityTypeInstitution, awayID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to clear ror_id on merged institution")
		return fmt.Errorf("clear ror_id %d: %w", awayID, err)
	}

	return nil
}

// CountMatches returns how many entity rows match (entity_type, id). Used by
// validation to detect ambiguous merge targets.
func (r *Repository) CountMatches(ctx context.Context, db database.DB, entityType models.EntityType, id int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "relation.Repository.CountMatches")
	defer span.End()

	var count int64
	query := `SELECT COUNT(*) FROM entities WHERE entity_type = $1 AND id = $2`
	if err := db.GetContext(ctx, &count, query, entityType, id); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count entity matches")
		return 0, fmt.Errorf("count matches %s %d: %w", entityType, id, err)
	}

	return count, nil
}
