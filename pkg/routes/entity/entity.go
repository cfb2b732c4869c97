// Package entity exposes the entity lookup endpoints
package entity

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	entityrepo "github.com/ourresearch/curate/internal/repositories/entity"
	projectionrepo "github.com/ourresearch/curate/internal/repositories/projection"
	"github.com/ourresearch/curate/pkg/identifier"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/tracing"
)

// Routes handles entity lookup requests
type Routes struct {
	entities    *entityrepo.Repository
	projections *projectionrepo.Repository
	host        string
	logger      ectologger.Logger
}

// NewRoutes creates the entity route handlers
func NewRoutes(entities *entityrepo.Repository, projections *projectionrepo.Repository, host string, logger ectologger.Logger) *Routes {
	return &Routes{
		entities:    entities,
		projections: projections,
		host:        host,
		logger:      logger,
	}
}

// RegisterRoutes registers the entity endpoints on the given group
func (r *Routes) RegisterRoutes(g *echo.Group) {
	g.GET("/entities/:id", r.GetEntity)
	g.GET("/entities/:id/record", r.GetRecord)
}

// EntityResponse is an entity row plus its canonical identifier.
type EntityResponse struct {
	ID            string            `json:"id"`
	EntityType    models.EntityType `json:"entity_type"`
	DisplayName   *string           `json:"display_name,omitempty"`
	PaperCount    int64             `json:"paper_count"`
	CitationCount int64             `json:"citation_count"`
	MergedInto    string            `json:"merged_into,omitempty"`
}

// GetEntity returns one entity by its prefixed identifier.
func (r *Routes) GetEntity(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity.Routes.GetEntity")
	defer span.End()

	id, err := identifier.Parse(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ent, err := r.entities.Get(ctx, id.Type, id.ID)
	if err != nil {
		return err
	}

	resp := EntityResponse{
		ID:            id.CanonicalURL(r.host),
		EntityType:    ent.EntityType,
		DisplayName:   ent.DisplayName,
		PaperCount:    ent.PaperCount,
		CitationCount: ent.CitationCount,
	}
	if ent.IsMerged() {
		resp.MergedInto = identifier.Identifier{Type: ent.EntityType, ID: *ent.MergeIntoID}.CanonicalURL(r.host)
	}

	return c.JSON(http.StatusOK, resp)
}

// GetRecord returns the stored projection payload for an entity. Merged-away
// entities answer with a null payload and the merge target.
func (r *Routes) GetRecord(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity.Routes.GetRecord")
	defer span.End()

	id, err := identifier.Parse(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	record, err := r.projections.Get(ctx, id.Type, id.ID)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get stored record")
	}
	if record == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "no stored record for "+id.ShortForm())
	}

	return c.JSON(http.StatusOK, record)
}
