// Package devices provides a PostgreSQL-backed repository for enrolled device
// rows and their wrapped Master Key blobs.
package devices

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

// PostgresRepository implements device storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (id, owner_user_id, display_name, encapsulation_public_key, wrapped_master_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	var wrapped any
	if device.WrappedMasterKey != nil {
		wrapped = device.WrappedMasterKey
	}
	if _, err := r.db.ExecContext(ctx, query,
		device.ID, device.OwnerUserID, device.DisplayName,
		device.EncapsulationPublicKey, wrapped, device.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	query := `
		SELECT id, owner_user_id, display_name, encapsulation_public_key, wrapped_master_key, last_used_at, created_at
		FROM devices
		WHERE id = $1
	`
	device := &models.Device{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&device.ID, &device.OwnerUserID, &device.DisplayName,
		&device.EncapsulationPublicKey, &device.WrappedMasterKey,
		&device.LastUsedAt, &device.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return device, nil
}

// ListByOwner returns the owner's devices without wrapped key material; the
// listing surface only needs metadata.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]*models.Device, error) {
	query := `
		SELECT id, owner_user_id, display_name, last_used_at, created_at
		FROM devices
		WHERE owner_user_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Device
	for rows.Next() {
		var item models.Device
		if err := rows.Scan(&item.ID, &item.OwnerUserID, &item.DisplayName,
			&item.LastUsedAt, &item.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) CountByOwner(ctx context.Context, ownerUserID string) (int, error) {
	query := `SELECT COUNT(*) FROM devices WHERE owner_user_id = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, query, ownerUserID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) TouchLastUsed(ctx context.Context, id string) error {
	query := `UPDATE devices SET last_used_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now()); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SetWrappedMasterKey fills in the wrapped blob on a device whose custody
// transfer just completed. The IS NULL guard keeps the column write-once.
func (r *PostgresRepository) SetWrappedMasterKey(ctx context.Context, id string, wrapped []byte) error {
	query := `
		UPDATE devices SET wrapped_master_key = $2
		WHERE id = $1 AND wrapped_master_key IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, wrapped)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorAlreadyExists
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM devices WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
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
