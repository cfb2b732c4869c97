package projection

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourresearch/curate/pkg/models"
)

type fakeRecordStore struct {
	records  map[string]models.StoredRecord
	replaces int
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: map[string]models.StoredRecord{}}
}

func key(t models.EntityType, id int64) string {
	return fmt.Sprintf("%s-%d", t, id)
}

func (f *fakeRecordStore) Get(ctx context.Context, entityType models.EntityType, entityID int64) (*models.StoredRecord, error) {
	if record, ok := f.records[key(entityType, entityID)]; ok {
		copied := record
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeRecordStore) GetMany(ctx context.Context, entityType models.EntityType, entityIDs []int64) ([]models.StoredRecord, error) {
	var out []models.StoredRecord
	for _, id := range entityIDs {
		if record, ok := f.records[key(entityType, id)]; ok {
			out = append(out, record)
		}
	}
	return out, nil
}

func (f *fakeRecordStore) Replace(ctx context.Context, records []models.StoredRecord) error {
	f.replaces++
	for _, record := range records {
		f.records[key(record.EntityType, record.EntityID)] = record
	}
	return nil
}

type countingEmitter struct {
	updated    int
	tombstoned int
}

func (c *countingEmitter) EntityUpdated(ctx context.Context, entityType models.EntityType, entityID int64) error {
	c.updated++
	return nil
}

func (c *countingEmitter) EntityTombstoned(ctx context.Context, entityType models.EntityType, entityID int64) error {
	c.tombstoned++
	return nil
}

func newTestStore() (*Store, *fakeRecordStore, *countingEmitter) {
	records := newFakeRecordStore()
	emitter := &countingEmitter{}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	store := NewStore(records, NewBuilder("openalex.org"), emitter, logger)
	return store, records, emitter
}

func workBundle(id int64) models.EntityBundle {
	name := "Some Work"
	return models.EntityBundle{
		Entity: models.Entity{
			ID:          id,
			EntityType:  models.EntityTypeWork,
			DisplayName: &name,
			CreatedDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestStore_FirstStoreWrites(t *testing.T) {
	store, records, emitter := newTestStore()

	record, wrote, err := store.Store(context.Background(), workBundle(42))
	require.NoError(t, err)
	assert.True(t, wrote)
	require.True(t, record.JSONSave.Valid)
	assert.Contains(t, string(record.JSONSave.Data), "https://openalex.org/W42")
	assert.Equal(t, models.ProjectionVersion, record.Version)
	assert.Equal(t, 1, records.replaces)
	assert.Equal(t, 1, emitter.updated)
}

func TestStore_NoOpLaw(t *testing.T) {
	store, records, emitter := newTestStore()
	ctx := context.Background()
	bundle := workBundle(42)

	first, wrote, err := store.Store(ctx, bundle)
	require.NoError(t, err)
	require.True(t, wrote)

	second, wrote, err := store.Store(ctx, bundle)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, first.ChangedAt, second.ChangedAt)
	assert.Equal(t, 1, records.replaces)
	assert.Equal(t, 1, emitter.updated)
	assert.Len(t, records.records, 1)
}

func TestStore_ContentChangeWrites(t *testing.T) {
	store, _, emitter := newTestStore()
	ctx := context.Background()

	_, wrote, err := store.Store(ctx, workBundle(42))
	require.NoError(t, err)
	require.True(t, wrote)

	changed := workBundle(42)
	newName := "Renamed Work"
	changed.Entity.DisplayName = &newName

	_, wrote, err = store.Store(ctx, changed)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, 2, emitter.updated)
}

func TestStore_OversizeLaw(t *testing.T) {
	store, _, _ := newTestStore()

	huge := strings.Repeat("x", models.DefaultPayloadCap+1)
	bundle := workBundle(7)
	bundle.Entity.Abstract = &huge

	record, wrote, err := store.Store(context.Background(), bundle)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.False(t, record.JSONSave.Valid)
	assert.Equal(t, models.ProjectionVersion, record.Version)
	assert.False(t, record.UpdatedAt.IsZero())
}

func TestStore_MergedAwayStoresNullOnceThenSkips(t *testing.T) {
	store, records, emitter := newTestStore()
	ctx := context.Background()

	into := int64(99)
	bundle := workBundle(42)
	bundle.Entity.MergeIntoID = &into

	record, wrote, err := store.Store(ctx, bundle)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.False(t, record.JSONSave.Valid)
	assert.Equal(t, &into, record.MergeIntoID)
	assert.Equal(t, 1, emitter.tombstoned)

	// Second store of the tombstone is a pure no-op.
	_, wrote, err = store.Store(ctx, bundle)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 1, records.replaces)
	assert.Equal(t, 1, emitter.tombstoned)
}

func TestStoreBatch_MixedWriteAndSkip(t *testing.T) {
	store, records, emitter := newTestStore()
	ctx := context.Background()

	_, wrote, err := store.Store(ctx, workBundle(1))
	require.NoError(t, err)
	require.True(t, wrote)

	written, err := store.StoreBatch(ctx, models.EntityTypeWork, []models.EntityBundle{
		workBundle(1), // unchanged, skipped
		workBundle(2), // new, written
		workBundle(3), // new, written
	})
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Len(t, records.records, 3)
	assert.Equal(t, 3, emitter.updated)
}

func TestStoreBatch_AllSkippedDoesNotWrite(t *testing.T) {
	store, records, _ := newTestStore()
	ctx := context.Background()

	_, _, err := store.Store(ctx, workBundle(1))
	require.NoError(t, err)
	replaces := records.replaces

	written, err := store.StoreBatch(ctx, models.EntityTypeWork, []models.EntityBundle{workBundle(1)})
	require.NoError(t, err)
	assert.Zero(t, written)
	assert.Equal(t, replaces, records.replaces)
}
