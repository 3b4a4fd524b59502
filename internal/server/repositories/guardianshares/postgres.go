// Package guardianshares provides a PostgreSQL-backed repository for sealed
// guardian share rows. The sealed blobs are opaque to the server.
package guardianshares

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/avolkov/quantvault/internal/common"
	"github.com/avolkov/quantvault/internal/dbx"
	"github.com/avolkov/quantvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, share *models.GuardianShare) error {
	query := `
		INSERT INTO guardian_shares (id, owner_user_id, guardian_id, share_index, sealed_share, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, query,
		share.ID, share.OwnerUserID, share.GuardianID,
		share.ShareIndex, share.SealedShare, share.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]*models.GuardianShare, error) {
	query := `
		SELECT id, owner_user_id, guardian_id, share_index, sealed_share, created_at
		FROM guardian_shares
		WHERE owner_user_id = $1
		ORDER BY share_index
	`
	rows, err := r.db.QueryContext(ctx, query, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.GuardianShare
	for rows.Next() {
		var item models.GuardianShare
		if err := rows.Scan(&item.ID, &item.OwnerUserID, &item.GuardianID,
			&item.ShareIndex, &item.SealedShare, &item.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) GetByGuardian(ctx context.Context, ownerUserID, guardianID string) (*models.GuardianShare, error) {
	query := `
		SELECT id, owner_user_id, guardian_id, share_index, sealed_share, created_at
		FROM guardian_shares
		WHERE owner_user_id = $1 AND guardian_id = $2
	`
	share := &models.GuardianShare{}
	err := r.db.QueryRowContext(ctx, query, ownerUserID, guardianID).Scan(
		&share.ID, &share.OwnerUserID, &share.GuardianID,
		&share.ShareIndex, &share.SealedShare, &share.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return share, nil
}

func (r *PostgresRepository) CountByOwner(ctx context.Context, ownerUserID string) (int, error) {
	query := `SELECT COUNT(*) FROM guardian_shares WHERE owner_user_id = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, query, ownerUserID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) DeleteByGuardian(ctx context.Context, ownerUserID, guardianID string) error {
	query := `DELETE FROM guardian_shares WHERE owner_user_id = $1 AND guardian_id = $2`
	res, err := r.db.ExecContext(ctx, query, ownerUserID, guardianID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteAllForOwner(ctx context.Context, ownerUserID string) error {
	query := `DELETE FROM guardian_shares WHERE owner_user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, ownerUserID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
