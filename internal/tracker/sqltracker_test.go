package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestSQLAlertTracker_PutUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO alert").
		WithArgs("root-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tr := NewSQLAlertTracker(db)
	err = tr.Put(context.Background(), &Alert{RootUUID: "root-1", AlertedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLAlertTracker_GetMissingReturnsFalse(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT alerted_at, detections FROM alert").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"alerted_at", "detections"}))

	tr := NewSQLAlertTracker(db)
	_, ok, err := tr.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRequestTracker_GetRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"root_uuid", "observable_key", "amt_name", "amt_version", "root_before", "root_after",
		"lease_owner", "lease_expiry", "state", "created_at",
	}).AddRow("root-1", "ipv4\x001.2.3.4", "amt_a", "1.0", nil, nil, "worker-1", nil, "leased", now)

	mock.ExpectQuery("SELECT root_uuid, observable_key").WithArgs("req-1").WillReturnRows(rows)

	tr := NewSQLRequestTracker(db)
	req, ok, err := tr.Get(context.Background(), "req-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "amt_a", req.AMTName)
	require.NoError(t, mock.ExpectationsWereMet())
}
