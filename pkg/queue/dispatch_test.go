package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourresearch/curate/pkg/models"
)

func noopHandler() Handler {
	return HandlerFunc(func(ctx context.Context, entityType models.EntityType, ids []int64) error {
		return nil
	})
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(models.EntityTypeWork, models.OperationStore, noopHandler()))
	require.NoError(t, registry.Register(models.EntityTypeAuthor, models.OperationStore, noopHandler()))

	_, ok := registry.Lookup(models.EntityTypeWork, models.OperationStore)
	assert.True(t, ok)

	_, ok = registry.Lookup(models.EntityTypeWork, models.OperationRecompute)
	assert.False(t, ok)

	_, ok = registry.Lookup(models.EntityTypeFunder, models.OperationStore)
	assert.False(t, ok)
}

func TestRegistry_RejectsInvalidPairs(t *testing.T) {
	registry := NewRegistry()

	assert.Error(t, registry.Register(models.EntityType("journal"), models.OperationStore, noopHandler()))
	assert.Error(t, registry.Register(models.EntityTypeWork, models.Operation("defragment"), noopHandler()))
	assert.Error(t, registry.Register(models.EntityTypeWork, models.OperationStore, nil))
}

func TestRegistry_RejectsDuplicateRegistration(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(models.EntityTypeWork, models.OperationStore, noopHandler()))
	assert.Error(t, registry.Register(models.EntityTypeWork, models.OperationStore, noopHandler()))
}

func TestRegistry_PairsStableOrder(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(models.EntityTypeWork, models.OperationStore, noopHandler()))
	require.NoError(t, registry.Register(models.EntityTypeAuthor, models.OperationStore, noopHandler()))
	require.NoError(t, registry.Register(models.EntityTypeAuthor, models.OperationRecompute, noopHandler()))

	pairs := registry.Pairs()
	assert.Equal(t, []Pair{
		{models.EntityTypeAuthor, models.OperationRecompute},
		{models.EntityTypeAuthor, models.OperationStore},
		{models.EntityTypeWork, models.OperationStore},
	}, pairs)
}
