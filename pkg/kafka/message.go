package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ourresearch/curate/pkg/models"
)

// TriggerMessage is one upstream curation trigger: schedule the given entity
// ids for an operation. Produced by the ingest pipelines (ROR dumps, curation
// requests) and consumed here to feed the recompute queue.
type TriggerMessage struct {
	EntityType string  `json:"entity_type"`
	Operation  string  `json:"operation"`
	EntityIDs  []int64 `json:"entity_ids"`
	Priority   bool    `json:"priority,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// Validate checks the trigger resolves to a known (entity type, operation)
// pair and carries at least one id.
func (m *TriggerMessage) Validate() error {
	if _, ok := models.ParseEntityType(m.EntityType); !ok {
		return fmt.Errorf("trigger: unknown entity type %q", m.EntityType)
	}
	if !models.Operation(m.Operation).IsValid() {
		return fmt.Errorf("trigger: unknown operation %q", m.Operation)
	}
	if len(m.EntityIDs) == 0 {
		return fmt.Errorf("trigger: no entity ids")
	}
	return nil
}

// IncomingMessage is a fetched Kafka message plus its parsed trigger.
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	Trigger *TriggerMessage
}

// ParseTrigger parses and validates the message payload.
func (m *IncomingMessage) ParseTrigger() error {
	var trigger TriggerMessage
	if err := json.Unmarshal(m.Value, &trigger); err != nil {
		return fmt.Errorf("parse trigger: %w", err)
	}
	if err := trigger.Validate(); err != nil {
		return err
	}
	m.Trigger = &trigger
	return nil
}

// EntityEvent announces an entity lifecycle change on the output topic.
type EntityEvent struct {
	EventType     string    `json:"event_type"` // entity.updated, entity.merged, entity.tombstoned
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"` // short form, e.g. W2741809807
	MergedInto    string    `json:"merged_into,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	SchemaVersion string    `json:"schema_version"`
}
