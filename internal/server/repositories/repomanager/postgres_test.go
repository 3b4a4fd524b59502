package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/avolkov/quantvault/internal/server/repositories/custodytransfers"
	"github.com/avolkov/quantvault/internal/server/repositories/devices"
	"github.com/avolkov/quantvault/internal/server/repositories/guardianshares"
	"github.com/avolkov/quantvault/internal/server/repositories/recoveryrequests"
	"github.com/avolkov/quantvault/internal/server/repositories/users"
	"github.com/pressly/goose/v3"
)

func newDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	m := NewPostgresRepositoryManager()
	var _ RepositoryManager = m

	var _ users.Repository = m.Users(db)
	var _ devices.Repository = m.Devices(db)
	var _ guardianshares.Repository = m.GuardianShares(db)
	var _ recoveryrequests.Repository = m.RecoveryRequests(db)
	var _ custodytransfers.Repository = m.CustodyTransfers(db)

	if m.Users(db) == nil || m.Devices(db) == nil || m.GuardianShares(db) == nil ||
		m.RecoveryRequests(db) == nil || m.CustodyTransfers(db) == nil {
		t.Fatal("nil repository returned")
	}
}

func TestRunMigrations_Success(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		return nil
	}
	defer func() { gooseUpContext = orig }()

	m := NewPostgresRepositoryManager()
	if err := m.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}
}

func TestRunMigrations_Error(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	m := NewPostgresRepositoryManager()
	if err := m.RunMigrations(context.Background(), db); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}
