package extract

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"graph-migrator/internal/adapter"
	"graph-migrator/internal/errs"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockSource(t *testing.T, d adapter.Dialect) (*adapter.SQLSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return adapter.NewSourceFunc(d, func() (*sql.DB, error) { return db, nil }), mock
}

func TestFetchRows(t *testing.T) {
	src, mock := mockSource(t, adapter.Postgres)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "game_id", "name", "score", "release_date" FROM "game"`)).
		WillReturnRows(sqlmock.NewRows([]string{"game_id", "name", "score", "release_date"}).
			AddRow(int64(1), []byte("Doom"), int64(95), "1993-01-01").
			AddRow(int64(2), "Quake", nil, "1996-06-22"))
	mock.ExpectClose()

	e := New(src, time.Second, nil)
	rows, err := e.FetchRows(context.Background(), "game", []string{"game_id", "name", "score", "release_date"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{int64(1), "Doom", int64(95), "1993-01-01"}, rows[0])
	assert.Nil(t, rows[1][2])
	require.NoError(t, mock.ExpectationsWereMet(), "connection must be closed after the fetch")
}

func TestFetchRowsQueryError(t *testing.T) {
	src, mock := mockSource(t, adapter.MySQL)
	mock.ExpectQuery("SELECT `game_id` FROM `gme`").WillReturnError(errors.New("Table 'games.gme' doesn't exist"))
	mock.ExpectClose()

	e := New(src, 0, nil)
	_, err := e.FetchRows(context.Background(), "gme", []string{"game_id"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrQuery))
	assert.Contains(t, err.Error(), "gme")
	require.NoError(t, mock.ExpectationsWereMet(), "connection must be closed on failure too")
}

func TestFetchRowsSourceUnavailable(t *testing.T) {
	src := adapter.NewSourceFunc(adapter.Postgres, func() (*sql.DB, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	e := New(src, 0, nil)
	_, err := e.FetchRows(context.Background(), "game", []string{"game_id"})
	require.Error(t, err)
	assert.Equal(t, errs.KindSourceUnavailable, errs.KindOf(err))
}

func TestCountRows(t *testing.T) {
	src, mock := mockSource(t, adapter.Postgres)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "games_genres"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectClose()

	n, err := New(src, time.Second, nil).CountRows(context.Background(), "games_genres")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRowsQueryError(t *testing.T) {
	src, mock := mockSource(t, adapter.SQLite)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "gme"`)).WillReturnError(errors.New("no such table: gme"))
	mock.ExpectClose()

	_, err := New(src, 0, nil).CountRows(context.Background(), "gme")
	require.Error(t, err)
	assert.Equal(t, errs.KindQuery, errs.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZip(t *testing.T) {
	m := Zip([]string{"a", "b", "c"}, Row{1, 2})
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, m)
}
