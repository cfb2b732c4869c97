package models

import (
	"time"
)

// MergeState tracks a merge request through its lifecycle. Rejected is
// terminal and only reachable from Validated.
type MergeState string

const (
	MergeStateRequested MergeState = "requested"
	MergeStateValidated MergeState = "validated"
	MergeStateApplied   MergeState = "applied"
	MergeStateCommitted MergeState = "committed"
	MergeStateRejected  MergeState = "rejected"
)

// MergeRequest asks for away to be collapsed into into. Both must be existing,
// distinct entities of the same type.
type MergeRequest struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type" validate:"required"`
	AwayID     int64      `json:"away_id" validate:"required,gt=0"`
	IntoID     int64      `json:"into_id" validate:"required,gt=0"`
}

// MergePair is one (away, into) line of a batch merge file.
type MergePair struct {
	AwayID int64 `json:"away_id"`
	IntoID int64 `json:"into_id"`
}

// MergeReport is the outcome of a single merge request.
type MergeReport struct {
	RequestID    string           `json:"request_id"`
	EntityType   EntityType       `json:"entity_type"`
	AwayID       int64            `json:"away_id"`
	IntoID       int64            `json:"into_id"`
	State        MergeState       `json:"state"`
	Repointed    map[string]int64 `json:"repointed,omitempty"`    // rows re-pointed per relation table
	Deduplicated map[string]int64 `json:"deduplicated,omitempty"` // duplicate rows dropped per relation table
	FilledFields []string         `json:"filled_fields,omitempty"`
	Reason       string           `json:"reason,omitempty"` // populated when rejected or failed
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// MergeRelation describes one relation table the resolver re-points during a
// merge. Adding a mergeable relation means adding one entry, not new code.
type MergeRelation struct {
	// Table is the relation table name.
	Table string
	// Column holds the entity reference that moves from away to into.
	Column string
	// NaturalKey identifies "the same" related fact for de-duplication. A row
	// on the away side whose natural key already exists on the into side is
	// dropped instead of re-pointed.
	NaturalKey []string
	// TypeColumn optionally scopes the relation to an entity type (for tables
	// shared across types, like external_ids).
	TypeColumn string
}

// BatchMergeReport aggregates per-pair outcomes of a batch merge. A failed
// pair does not abort the rest of the batch.
type BatchMergeReport struct {
	EntityType EntityType    `json:"entity_type"`
	Reports    []MergeReport `json:"reports"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
}
