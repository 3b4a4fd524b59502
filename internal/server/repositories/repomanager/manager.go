package repomanager

import (
	"context"
	"database/sql"

	"github.com/avolkov/quantvault/internal/dbx"
	"github.com/avolkov/quantvault/internal/server/repositories/custodytransfers"
	"github.com/avolkov/quantvault/internal/server/repositories/devices"
	"github.com/avolkov/quantvault/internal/server/repositories/guardianshares"
	"github.com/avolkov/quantvault/internal/server/repositories/recoveryrequests"
	"github.com/avolkov/quantvault/internal/server/repositories/users"
)

// RepositoryManager vends repository implementations bound to a DBTX, so
// services can run several repositories inside one transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Devices(db dbx.DBTX) devices.Repository
	GuardianShares(db dbx.DBTX) guardianshares.Repository
	RecoveryRequests(db dbx.DBTX) recoveryrequests.Repository
	CustodyTransfers(db dbx.DBTX) custodytransfers.Repository
}
