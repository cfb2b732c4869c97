package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/ourresearch/curate/pkg/canonical"
	"github.com/ourresearch/curate/pkg/database"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/tracing"
)

// RecordStore persists stored projection records.
type RecordStore interface {
	Get(ctx context.Context, entityType models.EntityType, entityID int64) (*models.StoredRecord, error)
	GetMany(ctx context.Context, entityType models.EntityType, entityIDs []int64) ([]models.StoredRecord, error)
	Replace(ctx context.Context, records []models.StoredRecord) error
}

// Emitter publishes entity-change events after a real store.
type Emitter interface {
	EntityUpdated(ctx context.Context, entityType models.EntityType, entityID int64) error
	EntityTombstoned(ctx context.Context, entityType models.EntityType, entityID int64) error
}

// Store is the change-detection store. Storing the same logical entity twice
// produces one write, not two: the changed timestamp only advances on a real
// content diff. Callers are expected to be the only writer for an entity at a
// time; the queue's claim exclusivity provides that.
type Store struct {
	records RecordStore
	builder *Builder
	emitter Emitter
	logger  ectologger.Logger
}

// NewStore creates a change-detection store. emitter may be nil to disable
// event emission.
func NewStore(records RecordStore, builder *Builder, emitter Emitter, logger ectologger.Logger) *Store {
	return &Store{
		records: records,
		builder: builder,
		emitter: emitter,
		logger:  logger,
	}
}

// Store computes the entity's projection, diffs it against the last stored
// payload and persists only when materially different. Returns the resulting
// record and whether a write happened.
func (s *Store) Store(ctx context.Context, bundle models.EntityBundle) (*models.StoredRecord, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "projection.Store.Store")
	defer span.End()

	previous, err := s.records.Get(ctx, bundle.Entity.EntityType, bundle.Entity.ID)
	if err != nil {
		return nil, false, err
	}

	record, wrote, err := s.prepare(ctx, bundle, previous)
	if err != nil || !wrote {
		return record, false, err
	}

	if err := s.records.Replace(ctx, []models.StoredRecord{*record}); err != nil {
		return nil, false, err
	}

	s.emit(ctx, bundle)
	return record, true, nil
}

// StoreBatch stores a batch of bundles with one read and one write round
// trip. Used by the queue workers.
func (s *Store) StoreBatch(ctx context.Context, entityType models.EntityType, bundles []models.EntityBundle) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "projection.Store.StoreBatch")
	defer span.End()

	if len(bundles) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(bundles))
	for _, bundle := range bundles {
		ids = append(ids, bundle.Entity.ID)
	}

	existing, err := s.records.GetMany(ctx, entityType, ids)
	if err != nil {
		return 0, err
	}
	previousByID := make(map[int64]*models.StoredRecord, len(existing))
	for i := range existing {
		previousByID[existing[i].EntityID] = &existing[i]
	}

	var toWrite []models.StoredRecord
	var written []models.EntityBundle
	for _, bundle := range bundles {
		record, wrote, err := s.prepare(ctx, bundle, previousByID[bundle.Entity.ID])
		if err != nil {
			return 0, err
		}
		if wrote {
			toWrite = append(toWrite, *record)
			written = append(written, bundle)
		}
	}

	if len(toWrite) == 0 {
		return 0, nil
	}
	if err := s.records.Replace(ctx, toWrite); err != nil {
		return 0, err
	}

	for _, bundle := range written {
		s.emit(ctx, bundle)
	}
	return len(toWrite), nil
}

// prepare decides whether the bundle needs a write and builds the record. It
// never touches the database.
func (s *Store) prepare(ctx context.Context, bundle models.EntityBundle, previous *models.StoredRecord) (*models.StoredRecord, bool, error) {
	e := bundle.Entity
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type": e.EntityType,
		"entity_id":   e.ID,
	})

	// A tombstone whose stored payload is already null has nothing left to
	// say; skip so its timestamps stop churning.
	if e.IsMerged() {
		if previous != nil && !previous.JSONSave.Valid {
			return previous, false, nil
		}

		now := time.Now().UTC()
		record := &models.StoredRecord{
			EntityType:  e.EntityType,
			EntityID:    e.ID,
			UpdatedAt:   now,
			ChangedAt:   now,
			Version:     models.ProjectionVersion,
			MergeIntoID: e.MergeIntoID,
		}
		return record, true, nil
	}

	doc := s.builder.Build(bundle)
	newPayload := canonical.Marshal(doc)

	if previous != nil && previous.JSONSave.Valid {
		equal, err := canonical.Equal(previous.JSONSave.Data, []byte(newPayload))
		if err != nil {
			// Unparseable stored payload; treat as changed and rewrite.
			log.WithError(err).Warn("Stored payload is not valid JSON, rewriting")
		} else if equal {
			return previous, false, nil
		} else {
			diff, diffErr := canonical.UnifiedDiff(previous.JSONSave.Data, []byte(newPayload))
			if diffErr == nil {
				log.WithFields(map[string]any{"diff": diff}).Debug("Projection changed")
			}
		}
	}

	now := time.Now().UTC()
	doc["updated_date"] = now.Format(time.RFC3339)
	payload := canonical.Marshal(doc)

	record := &models.StoredRecord{
		EntityType:  e.EntityType,
		EntityID:    e.ID,
		UpdatedAt:   now,
		ChangedAt:   now,
		Version:     models.ProjectionVersion,
		MergeIntoID: e.MergeIntoID,
	}

	if sizeCap := models.PayloadCap(e.EntityType); len(payload) > sizeCap {
		// Soft failure: keep the row, drop the payload.
		log.WithError(models.ErrOversizeProjection).WithFields(map[string]any{
			"size": len(payload),
			"cap":  sizeCap,
		}).Error(fmt.Sprintf("Projection for %s %d exceeds cap, storing null payload", e.EntityType, e.ID))
	} else {
		record.JSONSave = database.NewJSONB(json.RawMessage(payload))
	}

	return record, true, nil
}

func (s *Store) emit(ctx context.Context, bundle models.EntityBundle) {
	if s.emitter == nil {
		return
	}

	var err error
	if bundle.Entity.IsMerged() {
		err = s.emitter.EntityTombstoned(ctx, bundle.Entity.EntityType, bundle.Entity.ID)
	} else {
		err = s.emitter.EntityUpdated(ctx, bundle.Entity.EntityType, bundle.Entity.ID)
	}
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity change event")
	}
}
