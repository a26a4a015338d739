package sqlstore_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/infrastructure/eventstore/sqlstore"
)

func TestPostgres_Rebind(t *testing.T) {
	got := sqlstore.Postgres{}.Rebind("SELECT * FROM events WHERE stream_id = ? AND version > ?")

	assert.Equal(t, "SELECT * FROM events WHERE stream_id = $1 AND version > $2", got)
}

func TestPostgres_SaveEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := sqlstore.New(db, sqlstore.Postgres{}, newSerializer())

	t.Run("success", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = $1")).
			WithArgs("n-1").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))
		mock.ExpectExec("INSERT INTO events").
			WithArgs("n-1", 3, "note", noteType, `{"text":"c"}`, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		version, errSave := store.SaveEvents(context.Background(), "n-1", []event.DomainEvent{note("n-1", 3, "c")}, 2)

		require.NoError(t, errSave)
		assert.Equal(t, 3, version)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("version moved", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs("n-1").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
		mock.ExpectRollback()

		_, errSave := store.SaveEvents(context.Background(), "n-1", []event.DomainEvent{note("n-1", 3, "c")}, 2)

		require.ErrorIs(t, errSave, appcore.ErrConcurrencyConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation from racing writer", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs("n-1").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))
		mock.ExpectExec("INSERT INTO events").
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
		mock.ExpectRollback()

		_, errSave := store.SaveEvents(context.Background(), "n-1", []event.DomainEvent{note("n-1", 3, "c")}, 2)

		require.ErrorIs(t, errSave, appcore.ErrConcurrencyConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other errors are not conflicts", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs("n-1").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))
		mock.ExpectExec("INSERT INTO events").
			WillReturnError(&pq.Error{Code: "53300", Message: "too many connections"})
		mock.ExpectRollback()

		_, errSave := store.SaveEvents(context.Background(), "n-1", []event.DomainEvent{note("n-1", 3, "c")}, 2)

		require.Error(t, errSave)
		assert.NotErrorIs(t, errSave, appcore.ErrConcurrencyConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgres_ReadEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := sqlstore.New(db, sqlstore.Postgres{}, newSerializer())

	rows := sqlmock.NewRows([]string{
		"stream_id", "version", "aggregate_type", "event_type", "payload", "metadata", "occurred_at",
	}).
		AddRow("n-1", 2, "note", noteType, `{"text":"b"}`, `{"user_id":"u-1"}`, int64(1767261600000)).
		AddRow("n-1", 3, "note", noteType, `{"text":"c"}`, `{}`, int64(1767261601000))
	mock.ExpectQuery(`(?s)SELECT.+FROM events.+version > \$2`).
		WithArgs("n-1", 1).
		WillReturnRows(rows)

	events, err := appcore.CollectEvents(store.ReadEvents(context.Background(), "n-1", 1))

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].(*noteAdded).Text)
	assert.Equal(t, "u-1", events[0].Metadata().UserID)
	assert.Equal(t, 3, events[1].Version())
	require.NoError(t, mock.ExpectationsWereMet())
}
