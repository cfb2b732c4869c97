package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ourresearch/curate/pkg/models"
)

// Handler processes one claimed batch of entity ids.
type Handler interface {
	Handle(ctx context.Context, entityType models.EntityType, ids []int64) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, entityType models.EntityType, ids []int64) error

func (f HandlerFunc) Handle(ctx context.Context, entityType models.EntityType, ids []int64) error {
	return f(ctx, entityType, ids)
}

// Pair is one registered (entity type, operation) combination.
type Pair struct {
	EntityType models.EntityType
	Operation  models.Operation
}

// Registry is the closed dispatch table mapping (entity type, operation) to
// its handler. Combinations are checked at registration, so an invalid pair
// fails at startup rather than when a queue row is claimed.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Pair]Handler
}

// NewRegistry creates an empty dispatch registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Pair]Handler)}
}

// Register binds a handler to an (entity type, operation) pair. Unknown
// types, unknown operations and duplicate registrations are errors.
func (r *Registry) Register(entityType models.EntityType, operation models.Operation, handler Handler) error {
	if !entityType.IsValid() {
		return fmt.Errorf("register dispatch: unknown entity type %q", entityType)
	}
	if !operation.IsValid() {
		return fmt.Errorf("register dispatch: unknown operation %q", operation)
	}
	if handler == nil {
		return fmt.Errorf("register dispatch: nil handler for %s/%s", entityType, operation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := Pair{EntityType: entityType, Operation: operation}
	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("register dispatch: %s/%s already registered", entityType, operation)
	}
	r.handlers[key] = handler
	return nil
}

// Lookup returns the handler for a pair.
func (r *Registry) Lookup(entityType models.EntityType, operation models.Operation) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[Pair{EntityType: entityType, Operation: operation}]
	return handler, ok
}

// Pairs returns every registered combination in stable order.
func (r *Registry) Pairs() []Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pairs := make([]Pair, 0, len(r.handlers))
	for pair := range r.handlers {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].EntityType != pairs[j].EntityType {
			return pairs[i].EntityType < pairs[j].EntityType
		}
		return pairs[i].Operation < pairs[j].Operation
	})
	return pairs
}
