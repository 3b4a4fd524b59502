package guardianshares

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/avolkov/quantvault/internal/common"
	"github.com/avolkov/quantvault/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	share := &models.GuardianShare{
		ID:          "s-1",
		OwnerUserID: "u-1",
		GuardianID:  "guardian-a",
		ShareIndex:  0,
		SealedShare: []byte("sealed"),
		CreatedAt:   time.Now(),
	}

	mock.ExpectExec(`INSERT\s+INTO\s+guardian_shares`).
		WithArgs("s-1", "u-1", "guardian-a", 0, []byte("sealed"), share.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), share); err != nil {
		t.Fatalf("Create error: %v", err)
	}
}

func TestListByOwner_OrderedByIndex(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "owner_user_id", "guardian_id", "share_index", "sealed_share", "created_at"}).
		AddRow("s-1", "u-1", "guardian-a", 0, []byte("a"), time.Now()).
		AddRow("s-2", "u-1", "guardian-b", 1, []byte("b"), time.Now())

	mock.ExpectQuery(`SELECT\s+id,\s*owner_user_id,\s*guardian_id,.*ORDER\s+BY\s+share_index`).
		WithArgs("u-1").WillReturnRows(rows)

	got, err := repo.ListByOwner(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("ListByOwner error: %v", err)
	}
	if len(got) != 2 || got[0].ShareIndex != 0 || got[1].GuardianID != "guardian-b" {
		t.Fatalf("unexpected shares: %+v", got)
	}
}

func TestGetByGuardian_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+id,\s*owner_user_id,\s*guardian_id,.*WHERE\s+owner_user_id\s*=\s*\$1\s+AND\s+guardian_id\s*=\s*\$2`).
		WithArgs("u-1", "ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByGuardian(context.Background(), "u-1", "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestDeleteByGuardian(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `DELETE\s+FROM\s+guardian_shares\s+WHERE\s+owner_user_id\s*=\s*\$1\s+AND\s+guardian_id\s*=\s*\$2`

	mock.ExpectExec(q).WithArgs("u-1", "guardian-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.DeleteByGuardian(context.Background(), "u-1", "guardian-a"); err != nil {
		t.Fatalf("DeleteByGuardian error: %v", err)
	}

	mock.ExpectExec(q).WithArgs("u-1", "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.DeleteByGuardian(context.Background(), "u-1", "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestDeleteAllForOwner(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE\s+FROM\s+guardian_shares\s+WHERE\s+owner_user_id\s*=\s*\$1`).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := repo.DeleteAllForOwner(context.Background(), "u-1"); err != nil {
		t.Fatalf("DeleteAllForOwner error: %v", err)
	}
}
