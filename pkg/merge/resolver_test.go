package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourresearch/curate/internal/repositories/entity"
	"github.com/ourresearch/curate/internal/repositories/relation"
	"github.com/ourresearch/curate/pkg/database"
	"github.com/ourresearch/curate/pkg/models"
)

type fakeEnqueuer struct {
	calls []struct {
		EntityType models.EntityType
		Operation  models.Operation
		IDs        []int64
		Priority   bool
	}
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, entityType models.EntityType, operation models.Operation, ids []int64, priority bool) error {
	f.calls = append(f.calls, struct {
		EntityType models.EntityType
		Operation  models.Operation
		IDs        []int64
		Priority   bool
	}{entityType, operation, ids, priority})
	return nil
}

type fakeEmitter struct {
	merged int
}

func (f *fakeEmitter) EntityMerged(ctx context.Context, entityType models.EntityType, awayID, intoID int64) error {
	f.merged++
	return nil
}

func newTestResolver(t *testing.T) (*Resolver, sqlmock.Sqlmock, *fakeEnqueuer, *fakeEmitter) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	logger := noopLogger()
	db := database.NewDatabaseInstance(sqlx.NewDb(mockDB, "sqlmock"), logger)

	entityRepo := entity.NewRepository(db, logger)
	relationRepo := relation.NewRepository(logger)
	redirects := NewRedirectCache(&fakeRedirectLoader{}, logger)
	enqueuer := &fakeEnqueuer{}
	emitter := &fakeEmitter{}

	resolver := NewResolver(db, entityRepo, relationRepo, redirects, enqueuer, emitter, logger)
	return resolver, mock, enqueuer, emitter
}

func countRows(n int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func TestResolver_Merge_Committed(t *testing.T) {
	resolver, mock, enqueuer, emitter := newTestResolver(t)

	// Funders only carry the external_ids relation, which keeps the
	// expectation list readable.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM entities`).WillReturnRows(countRows(1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM entities`).WillReturnRows(countRows(1))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM external_ids`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE external_ids SET entity_id`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`SET abstract`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET subjects`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`paper_count = 0`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`full_updated_date`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	report, err := resolver.Merge(context.Background(), models.MergeRequest{
		EntityType: models.EntityTypeFunder,
		AwayID:     10,
		IntoID:     20,
	})
	require.NoError(t, err)

	assert.Equal(t, models.MergeStateCommitted, report.State)
	assert.Equal(t, int64(1), report.Deduplicated["external_ids"])
	assert.Equal(t, int64(3), report.Repointed["external_ids"])
	assert.Equal(t, []string{"abstract"}, report.FilledFields)
	assert.NotNil(t, report.CompletedAt)

	// The committed merge is visible through the redirect cache without a
	// refresh, scheduled for priority reprocessing, and announced.
	assert.Equal(t, int64(20), resolver.redirects.Resolve(models.EntityTypeFunder, 10))
	require.Len(t, enqueuer.calls, 1)
	assert.Equal(t, []int64{10, 20}, enqueuer.calls[0].IDs)
	assert.True(t, enqueuer.calls[0].Priority)
	assert.Equal(t, 1, emitter.merged)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_Merge_InstitutionClearsRorID(t *testing.T) {
	resolver, mock, _, _ := newTestResolver(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM entities`).WillReturnRows(countRows(1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM entities`).WillReturnRows(countRows(1))
	mock.ExpectBegin()
	// affiliations, affiliation_strings, affiliation_string_overrides,
	// external_ids: dedup delete + re-point each.
	for i := 0; i < 4; i++ {
		mock.ExpectExec(`DELETE FROM`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`UPDATE .* SET entity_id`).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(`SET ror_id = NULL`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET abstract`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET subjects`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`paper_count = 0`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`full_updated_date`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	report, err := resolver.Merge(context.Background(), models.MergeRequest{
		EntityType: models.EntityTypeInstitution,
		AwayID:     100,
		IntoID:     200,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MergeStateCommitted, report.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_Merge_RejectsUnknownType(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t)

	report, err := resolver.Merge(context.Background(), models.MergeRequest{
		EntityType: models.EntityType("journal"),
		AwayID:     1,
		IntoID:     2,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidIdentifier))
	assert.Equal(t, models.MergeStateRejected, report.State)
}

func TestResolver_Merge_RejectsSelfMerge(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t)

	report, err := resolver.Merge(context.Background(), models.MergeRequest{
		EntityType: models.EntityTypeWork,
		AwayID:     5,
		IntoID:     5,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidIdentifier))
	assert.Equal(t, models.MergeStateRejected, report.State)
}

func TestResolver_Merge_RejectsSelfMergeAfterRedirect(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t)

	// 7 was already merged into 9; merging 9 into 7 would resolve to a
	// self-merge.
	resolver.redirects.Record(models.EntityTypeAuthor, 7, 9)

	report, err := resolver.Merge(context.Background(), models.MergeRequest{
		EntityType: models.EntityTypeAuthor,
		AwayID:     9,
		IntoID:     7,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidIdentifier))
	assert.Equal(t, models.MergeStateRejected, report.State)
}

func TestResolver_Merge_RepeatIsIdempotent(t *testing.T) {
	resolver, mock, _, _ := newTestResolver(t)

	// 10 was already merged into 20. Re-applying the same pair re-points
	// nothing (the first merge moved everything) but still commits so the
	// tombstone timestamps refresh.
	resolver.redirects.Record(models.EntityTypeFunder, 10, 20)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM entities`).WillReturnRows(countRows(1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM entities`).WillReturnRows(countRows(1))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM external_ids`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE external_ids SET entity_id`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET abstract`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET subjects`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`paper_count = 0`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`full_updated_date`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	report, err := resolver.Merge(context.Background(), models.MergeRequest{
		EntityType: models.EntityTypeFunder,
		AwayID:     10,
		IntoID:     20,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MergeStateCommitted, report.State)
	assert.Zero(t, report.Repointed["external_ids"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_Merge_RejectsMissingEntity(t *testing.T) {
	resolver, mock, _, _ := newTestResolver(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM entities`).WillReturnRows(countRows(0))

	report, err := resolver.Merge(context.Background(), models.MergeRequest{
		EntityType: models.EntityTypeWork,
		AwayID:     1,
		IntoID:     2,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrEntityNotFound))
	assert.Equal(t, models.MergeStateRejected, report.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_Merge_AmbiguousTargetIsWarningNotError(t *testing.T) {
	resolver, mock, enqueuer, _ := newTestResolver(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM entities`).WillReturnRows(countRows(2))

	report, err := resolver.Merge(context.Background(), models.MergeRequest{
		EntityType: models.EntityTypeInstitution,
		AwayID:     1,
		IntoID:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MergeStateRejected, report.State)
	assert.Contains(t, report.Reason, "matches 2 rows")
	assert.Empty(t, enqueuer.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_Merge_RollsBackOnFailure(t *testing.T) {
	resolver, mock, enqueuer, emitter := newTestResolver(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM entities`).WillReturnRows(countRows(1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM entities`).WillReturnRows(countRows(1))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM external_ids`).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	report, err := resolver.Merge(context.Background(), models.MergeRequest{
		EntityType: models.EntityTypeConcept,
		AwayID:     3,
		IntoID:     4,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrMergeFailed))
	assert.Equal(t, models.MergeStateValidated, report.State)
	assert.Empty(t, enqueuer.calls)
	assert.Zero(t, emitter.merged)
}
