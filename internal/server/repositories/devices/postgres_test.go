package devices

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/selfvault/syncengine/internal/common"
	"github.com/selfvault/syncengine/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate_SetsDefaults(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	registered := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id"}).AddRow("dev-1")
	mock.ExpectQuery(`INSERT\s+INTO\s+devices.*RETURNING\s+id`).
		WithArgs("dev-1", "alice", "laptop", int64(0), registered).
		WillReturnRows(rows)

	device, err := repo.Create(context.Background(), &models.Device{
		ID: "dev-1", PrincipalID: "alice", Name: "laptop", RegisteredAt: registered,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !device.Active {
		t.Fatalf("new device must be active")
	}
	if !device.LastSeenAt.Equal(registered) {
		t.Fatalf("last seen should equal registration time")
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+id,\s*principal_id`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestUpdateCursor(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	seen := time.Now().UTC()
	mock.ExpectExec(`UPDATE\s+devices\s+SET\s+last_cursor\s*=\s*\$2`).
		WithArgs("dev-1", int64(7), seen).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateCursor(context.Background(), "dev-1", 7, seen); err != nil {
		t.Fatalf("UpdateCursor error: %v", err)
	}

	mock.ExpectExec(`UPDATE\s+devices\s+SET\s+last_cursor\s*=\s*\$2`).
		WithArgs("ghost", int64(7), seen).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateCursor(context.Background(), "ghost", 7, seen)
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestDeactivate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+devices\s+SET\s+active\s*=\s*FALSE`).
		WithArgs("dev-1").
		WillReturnError(errors.New("db down"))

	err := repo.Deactivate(context.Background(), "dev-1")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
