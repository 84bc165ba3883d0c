package gormstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/kurobane/migrata/pkg/etl/adapter/store"
	"github.com/kurobane/migrata/pkg/etl/core/model"
)

func newMockedStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: NewGormLogger("SILENT")})
	require.NoError(t, err)

	return NewGormStore(gormDB, "mock"), mock
}

func TestGormStore_Count(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `patients`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.Count(context.Background(), "patients")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_ReadPage(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectQuery("SELECT \\* FROM `patients` LIMIT 2 OFFSET 10").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow("P000001", "Alice").
			AddRow("P000002", "Bob"))

	page, err := s.ReadPage(context.Background(), "patients", 10, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "Alice", page[0]["name"])
	assert.Equal(t, "Bob", page[1]["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_BulkInsert(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `patients`").
		WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectCommit()

	err := s.BulkInsert(context.Background(), "patients", []model.Record{
		{"id": "P000001", "name": "Alice"},
		{"id": "P000002", "name": "Bob"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_BulkInsertEmptyIsNoop(t *testing.T) {
	s, mock := newMockedStore(t)

	require.NoError(t, s.BulkInsert(context.Background(), "patients", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_DeleteAll(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `patients`").
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectCommit()

	n, err := s.DeleteAll(context.Background(), "patients")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_InTransactionRollsBackOnError(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `patients`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	err := s.InTransaction(context.Background(), func(tx store.Store) error {
		if err := tx.BulkInsert(context.Background(), "patients", []model.Record{{"id": "P000001"}}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionString(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "postgres",
			cfg:  DatabaseConfig{Type: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Database: "etl", Sslmode: "disable"},
			want: "host=db port=5432 user=u password=p dbname=etl sslmode=disable",
		},
		{
			name: "mysql",
			cfg:  DatabaseConfig{Type: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Database: "etl"},
			want: "u:p@tcp(db:3306)/etl?charset=utf8mb4&parseTime=True&loc=Local",
		},
		{
			name: "mysql without credentials",
			cfg:  DatabaseConfig{Type: "mysql", Host: "db", Port: 3306, Database: "etl"},
			want: "tcp(db:3306)/etl?charset=utf8mb4&parseTime=True&loc=Local",
		},
		{
			name: "sqlite",
			cfg:  DatabaseConfig{Type: "sqlite", Database: "/tmp/etl.db"},
			want: "/tmp/etl.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConnectionString(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ConnectionString(DatabaseConfig{Type: "oracle"})
	require.Error(t, err)
}
