package models

import (
	"encoding/json"
	"time"

	"github.com/ourresearch/curate/pkg/database"
)

// ProjectionVersion is the free-text format marker written with every stored
// record.
const ProjectionVersion = "new"

const (
	// DefaultPayloadCap is the byte cap for most entity projections.
	DefaultPayloadCap = 65000
	// InstitutionPayloadCap is the larger cap for institution projections.
	InstitutionPayloadCap = 131000
)

// PayloadCap returns the maximum serialized projection size for an entity
// type. Oversize projections are stored with a null payload.
func PayloadCap(t EntityType) int {
	if t == EntityTypeInstitution {
		return InstitutionPayloadCap
	}
	return DefaultPayloadCap
}

// StoredRecord is one row of the stored_records table, keyed by
// (entity_type, entity_id). JSONSave is null (Valid == false) when the entity
// is merged away or its payload exceeds the type's cap. ChangedAt only
// advances on a real content change; UpdatedAt advances on every write.
type StoredRecord struct {
	EntityType  EntityType                      `json:"entity_type" db:"entity_type"`
	EntityID    int64                           `json:"entity_id" db:"entity_id"`
	UpdatedAt   time.Time                       `json:"updated_at" db:"updated_at"`
	ChangedAt   time.Time                       `json:"changed_at" db:"changed_at"`
	JSONSave    database.JSONB[json.RawMessage] `json:"json_save" db:"json_save"`
	Version     string                          `json:"version" db:"version"`
	MergeIntoID *int64                          `json:"merge_into_id,omitempty" db:"merge_into_id"`
}
