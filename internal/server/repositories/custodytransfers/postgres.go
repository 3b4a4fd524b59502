// Package custodytransfers provides a PostgreSQL-backed repository for
// blind-relay custody transfer rows.
package custodytransfers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

func (r *PostgresRepository) Create(ctx context.Context, transfer *models.CustodyTransfer) error {
	query := `
		INSERT INTO custody_transfers (id, user_id, target_device_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query,
		transfer.ID, transfer.UserID, transfer.TargetDeviceID,
		transfer.Status, transfer.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.CustodyTransfer, error) {
	query := `
		SELECT id, user_id, source_device_id, target_device_id, status, created_at, completed_at
		FROM custody_transfers
		WHERE id = $1
	`
	transfer := &models.CustodyTransfer{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&transfer.ID, &transfer.UserID, &transfer.SourceDeviceID,
		&transfer.TargetDeviceID, &transfer.Status,
		&transfer.CreatedAt, &transfer.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return transfer, nil
}

func (r *PostgresRepository) ListPendingByUser(ctx context.Context, userID string) ([]*models.CustodyTransfer, error) {
	query := `
		SELECT id, user_id, source_device_id, target_device_id, status, created_at, completed_at
		FROM custody_transfers
		WHERE user_id = $1 AND status = 'PENDING'
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.CustodyTransfer
	for rows.Next() {
		var item models.CustodyTransfer
		if err := rows.Scan(&item.ID, &item.UserID, &item.SourceDeviceID,
			&item.TargetDeviceID, &item.Status,
			&item.CreatedAt, &item.CompletedAt); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) CompletePending(ctx context.Context, id, sourceDeviceID string, now time.Time) (string, error) {
	query := `
		UPDATE custody_transfers SET status = 'COMPLETED', source_device_id = $2, completed_at = $3
		WHERE id = $1 AND status = 'PENDING'
		RETURNING target_device_id
	`
	var targetDeviceID string
	if err := r.db.QueryRowContext(ctx, query, id, sourceDeviceID, now).Scan(&targetDeviceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return targetDeviceID, nil
}
