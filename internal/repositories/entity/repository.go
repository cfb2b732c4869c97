package entity

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/ourresearch/curate/pkg/database"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/tracing"
)

const entityColumns = "id, entity_type, display_name, ror_id, abstract, subjects, paper_count, citation_count, merge_into_id, merge_into_date, updated_date, full_updated_date, created_date"

// Repository handles entity row persistence and the batch bundle loader.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// Get retrieves one entity by type and id
func (r *Repository) Get(ctx context.Context, entityType models.EntityType, id int64) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(entityColumns)
	sb.From("entities")
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("id", id),
	)

	query, args := sb.Build()
	var ent models.Entity
	if err := r.db.GetContext(ctx, &ent, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("%s %d not found", entityType, id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity")
	}

	return &ent, nil
}

// GetMany retrieves the entity rows for the given ids in one query.
func (r *Repository) GetMany(ctx context.Context, entityType models.EntityType, ids []int64) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetMany")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(entityColumns)
	sb.From("entities")
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.In("id", sqlbuilder.Flatten(ids)...),
	)

	query, args := sb.Build()
	var entities []models.Entity
	if err := r.db.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entities")
	}

	return entities, nil
}

// LoadBundles loads the given entities together with every relation needed to
// recompute their projections. One query per relation, never per entity.
func (r *Repository) LoadBundles(ctx context.Context, entityType models.EntityType, ids []int64) ([]models.EntityBundle, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.LoadBundles")
	defer span.End()

	entities, err := r.GetMany(ctx, entityType, ids)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}

	loaded := make([]int64, 0, len(entities))
	for _, ent := range entities {
		loaded = append(loaded, ent.ID)
	}

	bundles := make(map[int64]*models.EntityBundle, len(entities))
	for _, ent := range entities {
		bundles[ent.ID] = &models.EntityBundle{Entity: ent}
	}

	if entityType == models.EntityTypeWork {
		if err := r.attachWorkRelations(ctx, loaded, bundles); err != nil {
			return nil, err
		}
	} else {
		if err := r.attachAffiliations(ctx, entityType, loaded, bundles); err != nil {
			return nil, err
		}
	}

	if err := r.attachExternalIDs(ctx, entityType, loaded, bundles); err != nil {
		return nil, err
	}

	result := make([]models.EntityBundle, 0, len(entities))
	for _, ent := range entities {
		result = append(result, *bundles[ent.ID])
	}
	return result, nil
}

// attachWorkRelations loads the paper-keyed relations for a batch of works.
func (r *Repository) attachWorkRelations(ctx context.Context, ids []int64, bundles map[int64]*models.EntityBundle) error {
	var affiliations []models.Affiliation
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("paper_id, entity_type, entity_id, author_sequence, original_affiliation")
	sb.From("affiliations")
	sb.Where(sb.In("paper_id", sqlbuilder.Flatten(ids)...))
	query, args := sb.Build()
	if err := r.db.SelectContext(ctx, &affiliations, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load affiliations")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to load affiliations")
	}
	for _, row := range affiliations {
		if b, ok := bundles[row.PaperID]; ok {
			b.Affiliations = append(b.Affiliations, row)
		}
	}

	var citations []models.Citation
	sb = sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("paper_id, paper_reference_id")
	sb.From("citations")
	sb.Where(sb.In("paper_id", sqlbuilder.Flatten(ids)...))
	query, args = sb.Build()
	if err := r.db.SelectContext(ctx, &citations, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load citations")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to load citations")
	}
	for _, row := range citations {
		if b, ok := bundles[row.PaperID]; ok {
			b.Citations = append(b.Citations, row)
		}
	}

	var locations []models.Location
	sb = sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("paper_id, entity_id, source_url, version, is_oa")
	sb.From("locations")
	sb.Where(sb.In("paper_id", sqlbuilder.Flatten(ids)...))
	query, args = sb.Build()
	if err := r.db.SelectContext(ctx, &locations, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load locations")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to load locations")
	}
	for _, row := range locations {
		if b, ok := bundles[row.PaperID]; ok {
			b.Locations = append(b.Locations, row)
		}
	}

	var related []models.RelatedWork
	sb = sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("paper_id, related_paper_id, score")
	sb.From("related_works")
	sb.Where(sb.In("paper_id", sqlbuilder.Flatten(ids)...))
	query, args = sb.Build()
	if err := r.db.SelectContext(ctx, &related, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load related works")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to load related works")
	}
	for _, row := range related {
		if b, ok := bundles[row.PaperID]; ok {
			b.RelatedWorks = append(b.RelatedWorks, row)
		}
	}

	return nil
}

// attachAffiliations loads the affiliations pointing at a batch of
// non-work entities (authors, institutions).
func (r *Repository) attachAffiliations(ctx context.Context, entityType models.EntityType, ids []int64, bundles map[int64]*models.EntityBundle) error {
	var affiliations []models.Affiliation
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("paper_id, entity_type, entity_id, author_sequence, original_affiliation")
	sb.From("affiliations")
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.In("entity_id", sqlbuilder.Flatten(ids)...),
	)
	query, args := sb.Build()
	if err := r.db.SelectContext(ctx, &affiliations, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load affiliations")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to load affiliations")
	}
	for _, row := range affiliations {
		if b, ok := bundles[row.EntityID]; ok {
			b.Affiliations = append(b.Affiliations, row)
		}
	}
	return nil
}

func (r *Repository) attachExternalIDs(ctx context.Context, entityType models.EntityType, ids []int64, bundles map[int64]*models.EntityBundle) error {
	var externalIDs []models.ExternalID
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("entity_type, entity_id, id_type, id_value")
	sb.From("external_ids")
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.In("entity_id", sqlbuilder.Flatten(ids)...),
	)
	query, args := sb.Build()
	if err := r.db.SelectContext(ctx, &externalIDs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load external ids")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to load external ids")
	}
	for _, row := range externalIDs {
		if b, ok := bundles[row.EntityID]; ok {
			b.ExternalIDs = append(b.ExternalIDs, row)
		}
	}
	return nil
}

// Redirect is one merged-away row, used to build the redirect cache.
type Redirect struct {
	EntityType  models.EntityType `db:"entity_type"`
	ID          int64             `db:"id"`
	MergeIntoID int64             `db:"merge_into_id"`
}

// ListRedirects returns every merged-away entity and its target.
func (r *Repository) ListRedirects(ctx context.Context) ([]Redirect, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListRedirects")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("entity_type, id, merge_into_id")
	sb.From("entities")
	sb.Where(sb.IsNotNull("merge_into_id"))

	query, args := sb.Build()
	var redirects []Redirect
	if err := r.db.SelectContext(ctx, &redirects, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merge redirects")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge redirects")
	}

	return redirects, nil
}
