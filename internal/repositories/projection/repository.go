package projection

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/ourresearch/curate/pkg/database"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/tracing"
)

const recordColumns = "entity_type, entity_id, updated_at, changed_at, json_save, version, merge_into_id"

// Repository persists stored projection records. Writes replace whole rows
// (delete matching keys, then insert) so a record is always exactly the last
// computed state, never a field-by-field patch.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new projection repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get returns the stored record for one entity, or nil when none exists.
func (r *Repository) Get(ctx context.Context, entityType models.EntityType, entityID int64) (*models.StoredRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "projection.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(recordColumns)
	sb.From("stored_records")
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("entity_id", entityID),
	)

	query, args := sb.Build()
	var record models.StoredRecord
	if err := r.db.GetContext(ctx, &record, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get stored record")
		return nil, fmt.Errorf("get stored record %s %d: %w", entityType, entityID, err)
	}

	return &record, nil
}

// GetMany returns the stored records for the given ids in one query.
func (r *Repository) GetMany(ctx context.Context, entityType models.EntityType, entityIDs []int64) ([]models.StoredRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "projection.Repository.GetMany")
	defer span.End()

	if len(entityIDs) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(recordColumns)
	sb.From("stored_records")
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.In("entity_id", sqlbuilder.Flatten(entityIDs)...),
	)

	query, args := sb.Build()
	var records []models.StoredRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get stored records")
		return nil, fmt.Errorf("get stored records: %w", err)
	}

	return records, nil
}

// Replace writes the given records, replacing any existing rows with the same
// keys. Delete then insert, in one transaction.
func (r *Repository) Replace(ctx context.Context, records []models.StoredRecord) error {
	ctx, span := tracing.StartSpan(ctx, "projection.Repository.Replace")
	defer span.End()

	if len(records) == 0 {
		return nil
	}

	ctxTx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace stored records: %w", err)
	}
	// Rollback with the pre-transaction context so it actually fires if we
	// return before Commit.
	defer tx.Rollback(ctx)
	ctx = ctxTx

	for _, record := range records {
		deleteBuilder := sqlbuilder.PostgreSQL.NewDeleteBuilder()
		deleteBuilder.DeleteFrom("stored_records")
		deleteBuilder.Where(
			deleteBuilder.Equal("entity_type", record.EntityType),
			deleteBuilder.Equal("entity_id", record.EntityID),
		)
		query, args := deleteBuilder.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to delete stored record")
			return fmt.Errorf("delete stored record %s %d: %w", record.EntityType, record.EntityID, err)
		}
	}

	insertBuilder := sqlbuilder.PostgreSQL.NewInsertBuilder()
	insertBuilder.InsertInto("stored_records")
	insertBuilder.Cols("entity_type", "entity_id", "updated_at", "changed_at", "json_save", "version", "merge_into_id")
	for _, record := range records {
		insertBuilder.Values(record.EntityType, record.EntityID, record.UpdatedAt, record.ChangedAt, record.JSONSave, record.Version, record.MergeIntoID)
	}

	query, args := insertBuilder.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert stored records")
		return fmt.Errorf("insert stored records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit stored records: %w", err)
	}

	return nil
}
