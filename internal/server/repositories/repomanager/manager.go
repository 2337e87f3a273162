// Package repomanager hands out repository implementations bound to a DBTX,
// so services can run several repositories inside one transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/selfvault/syncengine/internal/dbx"
	"github.com/selfvault/syncengine/internal/server/repositories/blobs"
	"github.com/selfvault/syncengine/internal/server/repositories/devices"
	"github.com/selfvault/syncengine/internal/server/repositories/files"
	"github.com/selfvault/syncengine/internal/server/repositories/principals"
	"github.com/selfvault/syncengine/internal/server/repositories/quotas"
	"github.com/selfvault/syncengine/internal/server/repositories/transfers"
)

type RepositoryManager interface {
	Devices(db dbx.DBTX) devices.Repository
	Principals(db dbx.DBTX) principals.Repository
	Files(db dbx.DBTX) files.Repository
	Blobs(db dbx.DBTX) blobs.Repository
	Transfers(db dbx.DBTX) transfers.Repository
	Quotas(db dbx.DBTX) quotas.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
