package queue

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/projection"
)

// BundleLoader loads entities with their relations in bulk.
type BundleLoader interface {
	LoadBundles(ctx context.Context, entityType models.EntityType, ids []int64) ([]models.EntityBundle, error)
}

// StoreHandler is the standard queue handler: load the claimed entities in
// bulk and run them through the change-detection store.
type StoreHandler struct {
	loader BundleLoader
	store  *projection.Store
	logger ectologger.Logger
}

// NewStoreHandler creates the projection store handler.
func NewStoreHandler(loader BundleLoader, store *projection.Store, logger ectologger.Logger) *StoreHandler {
	return &StoreHandler{
		loader: loader,
		store:  store,
		logger: logger,
	}
}

func (h *StoreHandler) Handle(ctx context.Context, entityType models.EntityType, ids []int64) error {
	bundles, err := h.loader.LoadBundles(ctx, entityType, ids)
	if err != nil {
		return err
	}

	if len(bundles) < len(ids) {
		// Queue rows can outlive their entities; log and store what exists.
		h.logger.WithContext(ctx).WithFields(map[string]any{
			"claimed": len(ids),
			"loaded":  len(bundles),
		}).Warn("Some claimed entities no longer exist")
	}

	written, err := h.store.StoreBatch(ctx, entityType, bundles)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type": entityType,
		"claimed":     len(ids),
		"written":     written,
	}).Info("Stored claimed entities")
	return nil
}
