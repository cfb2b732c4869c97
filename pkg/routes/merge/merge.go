// Package merge exposes the merge request endpoints
package merge

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/ourresearch/curate/pkg/identifier"
	"github.com/ourresearch/curate/pkg/merge"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/tracing"
)

// Routes handles merge requests
type Routes struct {
	resolver *merge.Resolver
	logger   ectologger.Logger
}

// NewRoutes creates the merge route handlers
func NewRoutes(resolver *merge.Resolver, logger ectologger.Logger) *Routes {
	return &Routes{
		resolver: resolver,
		logger:   logger,
	}
}

// RegisterRoutes registers the merge endpoints on the given group
func (r *Routes) RegisterRoutes(g *echo.Group) {
	g.POST("/merges", r.Merge)
	g.POST("/merges/batch", r.MergeBatch)
}

// MergeRequestBody carries one merge request. Away and into take any accepted
// identifier form (prefixed short form, canonical URL, or a bare numeric id
// when entity_type is given).
type MergeRequestBody struct {
	EntityType string `json:"entity_type"`
	Away       string `json:"away" validate:"required"`
	Into       string `json:"into" validate:"required"`
}

// Merge runs a single merge and returns its report. A rejected merge is a 200
// with state "rejected", not an error.
func (r *Routes) Merge(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "merge.Routes.Merge")
	defer span.End()

	var body MergeRequestBody
	if err := c.Bind(&body); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	req, err := r.buildRequest(body)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	report, err := r.resolver.Merge(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidIdentifier), errors.Is(err, models.ErrEntityNotFound):
			return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			r.logger.WithContext(ctx).WithError(err).Error("Merge failed")
			return httperror.NewHTTPError(http.StatusInternalServerError, "merge failed")
		}
	}

	return c.JSON(http.StatusOK, report)
}

// BatchRequestBody carries a batch of merge pairs for one entity type.
type BatchRequestBody struct {
	EntityType string   `json:"entity_type" validate:"required"`
	Pairs      []struct {
		Away string `json:"away" validate:"required"`
		Into string `json:"into" validate:"required"`
	} `json:"pairs" validate:"required,min=1"`
}

// MergeBatch runs each pair independently and reports per-pair outcomes.
// Individual failures do not stop the batch.
func (r *Routes) MergeBatch(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "merge.Routes.MergeBatch")
	defer span.End()

	var body BatchRequestBody
	if err := c.Bind(&body); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	entityType, ok := models.ParseEntityType(body.EntityType)
	if !ok {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown entity type "+body.EntityType)
	}
	if len(body.Pairs) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "no merge pairs")
	}

	pairs := make([]models.MergePair, 0, len(body.Pairs))
	for _, p := range body.Pairs {
		away, err := identifier.ParseWithType(p.Away, entityType)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		into, err := identifier.ParseWithType(p.Into, entityType)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		pairs = append(pairs, models.MergePair{AwayID: away.ID, IntoID: into.ID})
	}

	report := r.resolver.MergeBatch(ctx, entityType, pairs)
	return c.JSON(http.StatusOK, report)
}

func (r *Routes) buildRequest(body MergeRequestBody) (models.MergeRequest, error) {
	var away, into identifier.Identifier
	var err error

	if body.EntityType != "" {
		entityType, ok := models.ParseEntityType(body.EntityType)
		if !ok {
			return models.MergeRequest{}, errors.New("unknown entity type " + body.EntityType)
		}
		if away, err = identifier.ParseWithType(body.Away, entityType); err != nil {
			return models.MergeRequest{}, err
		}
		if into, err = identifier.ParseWithType(body.Into, entityType); err != nil {
			return models.MergeRequest{}, err
		}
	} else {
		if away, err = identifier.Parse(body.Away); err != nil {
			return models.MergeRequest{}, err
		}
		if into, err = identifier.Parse(body.Into); err != nil {
			return models.MergeRequest{}, err
		}
		if away.Type != into.Type {
			return models.MergeRequest{}, errors.New("away and into are different entity types")
		}
	}

	return models.MergeRequest{
		EntityType: away.Type,
		AwayID:     away.ID,
		IntoID:     into.ID,
	}, nil
}
