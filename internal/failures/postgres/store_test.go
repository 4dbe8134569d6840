package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/kbmirror/internal/crawler"
)

func TestInsertWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "crawl_failures")
	require.NoError(t, err)

	rec := crawler.FailureRecord{
		RunID:    "run-1",
		URL:      "https://kb.example.org/articles/harness",
		Reason:   "content not found: no selector matched",
		Kind:     crawler.KindContentNotFound,
		Retries:  3,
		Stage:    crawler.StageFetch,
		FailedAt: time.Unix(1700000000, 0).UTC(),
	}

	mock.ExpectExec("INSERT INTO crawl_failures").
		WithArgs(rec.RunID, rec.URL, "fetch", "content_not_found", rec.Reason, 3, rec.FailedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO crawl_failures").
		WillReturnError(errors.New("connection reset"))

	err = store.Insert(context.Background(), crawler.FailureRecord{URL: "https://kb.example.org/a"})
	require.ErrorContains(t, err, "insert failure")
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.Insert(context.Background(), crawler.FailureRecord{}))
}

func TestEnsureTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "failures_v2")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS failures_v2").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureTable(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "ok")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "failures; DROP TABLE x")
	require.Error(t, err)

	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}
