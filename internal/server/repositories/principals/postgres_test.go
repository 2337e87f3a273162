package principals

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestIncrementCursor_ReturnsNewValue(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"current_cursor"}).AddRow(int64(42))
	mock.ExpectQuery(`INSERT\s+INTO\s+principal_cursors.*ON\s+CONFLICT.*RETURNING\s+current_cursor`).
		WithArgs("alice").
		WillReturnRows(rows)

	cursor, err := repo.IncrementCursor(context.Background(), "alice")
	if err != nil {
		t.Fatalf("IncrementCursor error: %v", err)
	}
	if cursor != 42 {
		t.Fatalf("expected 42, got %d", cursor)
	}
}

func TestCurrentCursor_UnknownPrincipalIsZero(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+current_cursor\s+FROM\s+principal_cursors`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	cursor, err := repo.CurrentCursor(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("CurrentCursor error: %v", err)
	}
	if cursor != 0 {
		t.Fatalf("expected 0 for unknown principal, got %d", cursor)
	}
}

func TestCurrentCursor_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+current_cursor\s+FROM\s+principal_cursors`).
		WithArgs("alice").
		WillReturnError(errors.New("db down"))

	_, err := repo.CurrentCursor(context.Background(), "alice")
	if err == nil {
		t.Fatalf("expected error")
	}
}
