package repository

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edutrack-api/pkg/database"
)

func newMock(t *testing.T) (database.Pools, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return database.Single(sqlxdb), mock, func() {
		db.Close()
	}
}

var sessionRowColumns = []string{"id", "course_id", "teacher_id", "teacher_name", "pin", "start_time", "end_time", "created_at", "updated_at"}
