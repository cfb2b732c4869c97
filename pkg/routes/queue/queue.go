// Package queue exposes the recompute queue endpoints
package queue

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	queuerepo "github.com/ourresearch/curate/internal/repositories/queue"
	"github.com/ourresearch/curate/pkg/identifier"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/tracing"
)

// Routes handles queue management requests
type Routes struct {
	queue  *queuerepo.Repository
	logger ectologger.Logger
}

// NewRoutes creates the queue route handlers
func NewRoutes(queue *queuerepo.Repository, logger ectologger.Logger) *Routes {
	return &Routes{
		queue:  queue,
		logger: logger,
	}
}

// RegisterRoutes registers the queue endpoints on the given group
func (r *Routes) RegisterRoutes(g *echo.Group) {
	g.POST("/queue", r.Enqueue)
	g.GET("/queue/stats", r.Stats)
}

// EnqueueRequest schedules entities for an operation. IDs take any accepted
// identifier form. Priority entries sort ahead of everything never finished.
type EnqueueRequest struct {
	EntityType string   `json:"entity_type" validate:"required"`
	Operation  string   `json:"operation" validate:"required"`
	IDs        []string `json:"ids" validate:"required,min=1"`
	Priority   bool     `json:"priority"`
}

// Enqueue adds entries to the recompute queue.
func (r *Routes) Enqueue(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "queue.Routes.Enqueue")
	defer span.End()

	var body EnqueueRequest
	if err := c.Bind(&body); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	entityType, ok := models.ParseEntityType(body.EntityType)
	if !ok {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown entity type "+body.EntityType)
	}
	operation := models.Operation(body.Operation)
	if !operation.IsValid() {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown operation "+body.Operation)
	}
	if len(body.IDs) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "no ids")
	}

	ids := make([]int64, 0, len(body.IDs))
	for _, raw := range body.IDs {
		id, err := identifier.ParseWithType(raw, entityType)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		ids = append(ids, id.ID)
	}

	if err := r.queue.Enqueue(ctx, entityType, operation, ids, body.Priority); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to enqueue entities")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to enqueue")
	}

	return c.JSON(http.StatusAccepted, map[string]any{
		"entity_type": entityType,
		"operation":   operation,
		"enqueued":    len(ids),
	})
}

// Stats returns pending, in-flight, and finished counts for one
// (entity type, operation) queue.
func (r *Routes) Stats(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "queue.Routes.Stats")
	defer span.End()

	entityType, ok := models.ParseEntityType(c.QueryParam("entity_type"))
	if !ok {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown entity type "+c.QueryParam("entity_type"))
	}
	operation := models.Operation(c.QueryParam("operation"))
	if !operation.IsValid() {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown operation "+c.QueryParam("operation"))
	}

	stats, err := r.queue.Stats(ctx, entityType, operation)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get queue stats")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get queue stats")
	}

	return c.JSON(http.StatusOK, stats)
}
