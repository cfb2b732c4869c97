// Package events handles event emission for entity lifecycle changes
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/ourresearch/curate/pkg/identifier"
	"github.com/ourresearch/curate/pkg/kafka"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter publishes entity lifecycle events. It satisfies both the merge
// resolver's and the projection store's emitter interfaces.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EntityUpdated emits an entity.updated event after a real store.
func (e *Emitter) EntityUpdated(ctx context.Context, entityType models.EntityType, entityID int64) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EntityUpdated")
	defer span.End()

	return e.publish(ctx, &kafka.EntityEvent{
		EventType:  "entity.updated",
		EntityType: string(entityType),
		EntityID:   identifier.Identifier{Type: entityType, ID: entityID}.ShortForm(),
	})
}

// EntityTombstoned emits an entity.tombstoned event when a merged-away
// entity's projection is nulled.
func (e *Emitter) EntityTombstoned(ctx context.Context, entityType models.EntityType, entityID int64) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EntityTombstoned")
	defer span.End()

	return e.publish(ctx, &kafka.EntityEvent{
		EventType:  "entity.tombstoned",
		EntityType: string(entityType),
		EntityID:   identifier.Identifier{Type: entityType, ID: entityID}.ShortForm(),
	})
}

// EntityMerged emits an entity.merged event after a committed merge.
func (e *Emitter) EntityMerged(ctx context.Context, entityType models.EntityType, awayID, intoID int64) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EntityMerged")
	defer span.End()

	return e.publish(ctx, &kafka.EntityEvent{
		EventType:  "entity.merged",
		EntityType: string(entityType),
		EntityID:   identifier.Identifier{Type: entityType, ID: awayID}.ShortForm(),
		MergedInto: identifier.Identifier{Type: entityType, ID: intoID}.ShortForm(),
	})
}

func (e *Emitter) publish(ctx context.Context, event *kafka.EntityEvent) error {
	event.SchemaVersion = SchemaVersion
	if err := e.producer.PublishEntityEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", event.EventType)
		return err
	}
	return nil
}
