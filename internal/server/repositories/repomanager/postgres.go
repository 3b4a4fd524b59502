// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/avolkov/quantvault/internal/dbx"
	"github.com/avolkov/quantvault/internal/server/migrations"
	"github.com/avolkov/quantvault/internal/server/repositories/custodytransfers"
	"github.com/avolkov/quantvault/internal/server/repositories/devices"
	"github.com/avolkov/quantvault/internal/server/repositories/guardianshares"
	"github.com/avolkov/quantvault/internal/server/repositories/recoveryrequests"
	"github.com/avolkov/quantvault/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Devices(db dbx.DBTX) devices.Repository {
	return devices.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) GuardianShares(db dbx.DBTX) guardianshares.Repository {
	return guardianshares.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RecoveryRequests(db dbx.DBTX) recoveryrequests.Repository {
	return recoveryrequests.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) CustodyTransfers(db dbx.DBTX) custodytransfers.Repository {
	return custodytransfers.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}
