package blobs

import (
	"context"
	"database/sql"
	"errors"
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

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Now().UTC()
	mock.ExpectExec(`INSERT\s+INTO\s+blobs`).
		WithArgs("abc123", int64(100), int64(40), int64(1), created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.Blob{
		Checksum: "abc123", OriginalSize: 100, CompressedSize: 40, RefCount: 1, CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+checksum,\s*original_size`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestIncrementRef_ReportsExistence(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+blobs\s+SET\s+ref_count\s*=\s*ref_count\s*\+\s*1`).
		WithArgs("abc123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := repo.IncrementRef(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("IncrementRef error: %v", err)
	}
	if !found {
		t.Fatalf("expected found=true for existing blob")
	}

	mock.ExpectExec(`UPDATE\s+blobs\s+SET\s+ref_count\s*=\s*ref_count\s*\+\s*1`).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err = repo.IncrementRef(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("IncrementRef error: %v", err)
	}
	if found {
		t.Fatalf("expected found=false for missing blob")
	}
}

func TestDecrementRef_GuardedAtZero(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	// The WHERE ref_count > 0 guard makes a zero-count decrement a no-op
	// that surfaces as not found.
	mock.ExpectExec(`UPDATE\s+blobs\s+SET\s+ref_count\s*=\s*ref_count\s*-\s*1\s+WHERE\s+checksum\s*=\s*\$1\s+AND\s+ref_count\s*>\s*0`).
		WithArgs("abc123").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DecrementRef(context.Background(), "abc123")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestDeleteIfUnreferenced_Conditional(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE\s+FROM\s+blobs\s+WHERE\s+checksum\s*=\s*\$1\s+AND\s+ref_count\s*=\s*0`).
		WithArgs("abc123").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.DeleteIfUnreferenced(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("DeleteIfUnreferenced error: %v", err)
	}
	if deleted {
		t.Fatalf("re-referenced blob must not be deleted")
	}
}

func TestListUnreferenced(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"checksum"}).AddRow("aaa").AddRow("bbb")
	mock.ExpectQuery(`SELECT\s+checksum\s+FROM\s+blobs\s+WHERE\s+ref_count\s*=\s*0`).
		WithArgs(int64(10)).
		WillReturnRows(rows)

	checksums, err := repo.ListUnreferenced(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListUnreferenced error: %v", err)
	}
	if len(checksums) != 2 || checksums[0] != "aaa" || checksums[1] != "bbb" {
		t.Fatalf("unexpected checksums: %v", checksums)
	}
}

func TestUsedBytes(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(4096))
	mock.ExpectQuery(`SELECT\s+COALESCE\(SUM\(b\.compressed_size\),\s*0\)`).
		WithArgs("alice").
		WillReturnRows(rows)

	used, err := repo.UsedBytes(context.Background(), "alice")
	if err != nil {
		t.Fatalf("UsedBytes error: %v", err)
	}
	if used != 4096 {
		t.Fatalf("expected 4096, got %d", used)
	}
}

func TestStats(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"count", "compressed", "original", "shared", "saved", "unreferenced"}).
		AddRow(int64(5), int64(500), int64(1500), int64(2), int64(300), int64(1))
	mock.ExpectQuery(`SELECT\s+COUNT\(\*\)`).WillReturnRows(rows)

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.TotalBlobs != 5 || stats.SharedBlobs != 2 || stats.SavedBytes != 300 || stats.UnreferencedSeen != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
