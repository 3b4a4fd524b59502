// Package recoveryrequests provides a PostgreSQL-backed repository for the
// ephemeral recovery request ledger.
package recoveryrequests

import (
	"context"
	"database/sql"
	"encoding/json"
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

func (r *PostgresRepository) Create(ctx context.Context, request *models.RecoveryRequest) error {
	indexes, err := json.Marshal(request.RequiredShareIndexes)
	if err != nil {
		return fmt.Errorf("marshal share indexes: %w", err)
	}
	query := `
		INSERT INTO recovery_requests (id, user_id, required_share_indexes, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, query,
		request.ID, request.UserID, indexes,
		request.Status, request.CreatedAt, request.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.RecoveryRequest, error) {
	query := `
		SELECT id, user_id, required_share_indexes, status, created_at, expires_at
		FROM recovery_requests
		WHERE id = $1
	`
	request := &models.RecoveryRequest{}
	var indexes []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&request.ID, &request.UserID, &indexes,
		&request.Status, &request.CreatedAt, &request.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := json.Unmarshal(indexes, &request.RequiredShareIndexes); err != nil {
		return nil, fmt.Errorf("unmarshal share indexes: %w", err)
	}
	return request, nil
}

func (r *PostgresRepository) HasPending(ctx context.Context, userID string, now time.Time) (bool, error) {
	query := `
		SELECT COUNT(*) FROM recovery_requests
		WHERE user_id = $1 AND status = 'PENDING' AND expires_at > $2
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, userID, now).Scan(&n); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) CompletePending(ctx context.Context, id string, now time.Time) (string, error) {
	query := `
		UPDATE recovery_requests SET status = 'COMPLETED'
		WHERE id = $1 AND status = 'PENDING' AND expires_at > $2
		RETURNING user_id
	`
	var userID string
	if err := r.db.QueryRowContext(ctx, query, id, now).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return userID, nil
}

func (r *PostgresRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE recovery_requests SET status = 'EXPIRED'
		WHERE status = 'PENDING' AND expires_at <= $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
