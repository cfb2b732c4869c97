package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourresearch/curate/pkg/database"
	"github.com/ourresearch/curate/pkg/models"
)

func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	db := database.NewDatabaseInstance(sqlx.NewDb(mockDB, "sqlmock"), logger)
	return NewRepository(db, logger), mock
}

func TestClaim(t *testing.T) {
	repo, mock := newTestRepository(t)

	rows := sqlmock.NewRows([]string{"entity_id"}).AddRow(1).AddRow(2).AddRow(3)
	mock.ExpectQuery(`UPDATE recompute_queue q`).
		WithArgs("work", "store", float64(900), 3).
		WillReturnRows(rows)

	ids, err := repo.Claim(context.Background(), models.EntityTypeWork, models.OperationStore, 3, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaim_EmptyQueueIsNotAnError(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`UPDATE recompute_queue q`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id"}))

	ids, err := repo.Claim(context.Background(), models.EntityTypeWork, models.OperationStore, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestClaim_OrdersPriorityBeforeNeverFinished(t *testing.T) {
	repo, mock := newTestRepository(t)

	// Epoch-zero finished_at sorts before the null sentinel (epoch plus one
	// microsecond), so forced-priority rows come out ahead of never-finished
	// ones.
	mock.ExpectQuery(`COALESCE\(finished_at, TIMESTAMP 'epoch' \+ INTERVAL '1 microsecond'\)`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id"}).AddRow(1).AddRow(2).AddRow(3).AddRow(4))

	ids, err := repo.Claim(context.Background(), models.EntityTypeWork, models.OperationStore, 4, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)
}

func TestComplete(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec(`UPDATE recompute_queue SET finished_at = NOW\(\), started_at = NULL`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.Complete(context.Background(), models.EntityTypeWork, models.OperationStore, []int64{1, 2})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplete_NoIDsIsNoop(t *testing.T) {
	repo, mock := newTestRepository(t)

	err := repo.Complete(context.Background(), models.EntityTypeWork, models.OperationStore, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueue(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec(`INSERT INTO recompute_queue .* ON CONFLICT`).
		WithArgs("author", "store", int64(7), int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.Enqueue(context.Background(), models.EntityTypeAuthor, models.OperationStore, []int64{7, 8}, false)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueue_PriorityForcesEpochZero(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec(`TIMESTAMP 'epoch'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Enqueue(context.Background(), models.EntityTypeWork, models.OperationStore, []int64{42}, true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	repo, mock := newTestRepository(t)

	rows := sqlmock.NewRows([]string{"pending", "in_flight", "finished"}).AddRow(10, 2, 100)
	mock.ExpectQuery(`FROM recompute_queue`).
		WithArgs("work", "store").
		WillReturnRows(rows)

	stats, err := repo.Stats(context.Background(), models.EntityTypeWork, models.OperationStore)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Pending)
	assert.Equal(t, int64(2), stats.InFlight)
	assert.Equal(t, int64(100), stats.Finished)
}
