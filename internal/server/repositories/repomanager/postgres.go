package repomanager

import (
	"context"
	"database/sql"

	"github.com/selfvault/syncengine/internal/dbx"
	"github.com/selfvault/syncengine/internal/server/migrations"
	"github.com/selfvault/syncengine/internal/server/repositories/blobs"
	"github.com/selfvault/syncengine/internal/server/repositories/devices"
	"github.com/selfvault/syncengine/internal/server/repositories/files"
	"github.com/selfvault/syncengine/internal/server/repositories/principals"
	"github.com/selfvault/syncengine/internal/server/repositories/quotas"
	"github.com/selfvault/syncengine/internal/server/repositories/transfers"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type PostgresRepositoryManager struct {
}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) Devices(db dbx.DBTX) devices.Repository {
	return devices.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Principals(db dbx.DBTX) principals.Repository {
	return principals.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Files(db dbx.DBTX) files.Repository {
	return files.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Blobs(db dbx.DBTX) blobs.Repository {
	return blobs.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Transfers(db dbx.DBTX) transfers.Repository {
	return transfers.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Quotas(db dbx.DBTX) quotas.Repository {
	return quotas.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return err
	}

	return nil
}
