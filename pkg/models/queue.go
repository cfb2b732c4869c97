package models

import "time"

// Operation names a unit of queue work. The set is closed; the dispatch
// registry rejects (entity type, operation) pairs that were never registered.
type Operation string

const (
	// OperationStore recomputes an entity's projection and stores it if changed.
	OperationStore Operation = "store"
	// OperationRecompute is the queue lane for full refreshes after upstream
	// data changes. Dispatched to the same store handler as OperationStore;
	// derived aggregates are refreshed upstream before rows land here.
	OperationRecompute Operation = "recompute"
)

// AllOperations lists every supported queue operation.
var AllOperations = []Operation{OperationStore, OperationRecompute}

// IsValid reports whether op is one of the supported operations.
func (op Operation) IsValid() bool {
	for _, known := range AllOperations {
		if op == known {
			return true
		}
	}
	return false
}

func (op Operation) String() string {
	return string(op)
}

// QueueEntry is one row of the recompute queue. The primary key is
// (entity_type, operation, entity_id). A row with StartedAt set and no later
// FinishedAt is in flight.
type QueueEntry struct {
	EntityType EntityType `json:"entity_type" db:"entity_type"`
	Operation  Operation  `json:"operation" db:"operation"`
	EntityID   int64      `json:"entity_id" db:"entity_id"`
	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Rand       float64    `json:"rand" db:"rand"`
}

// QueueStats is an operator-facing count of queue rows by state.
type QueueStats struct {
	EntityType EntityType `json:"entity_type" db:"entity_type"`
	Operation  Operation  `json:"operation" db:"operation"`
	Pending    int64      `json:"pending" db:"pending"`
	InFlight   int64      `json:"in_flight" db:"in_flight"`
	Finished   int64      `json:"finished" db:"finished"`
}
