package recoveryrequests

import (
	"context"
	"time"

	"github.com/avolkov/quantvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, request *models.RecoveryRequest) error
	GetByID(ctx context.Context, id string) (*models.RecoveryRequest, error)
	HasPending(ctx context.Context, userID string, now time.Time) (bool, error)
	// CompletePending atomically transitions the request from PENDING to
	// COMPLETED if it has not expired, returning the request's user ID.
	// It returns common.ErrorNotFound when the request is absent, expired,
	// or already terminal, making the transition a compare-and-set.
	CompletePending(ctx context.Context, id string, now time.Time) (string, error)
	// ExpireStale marks overdue PENDING requests EXPIRED and returns how many
	// rows were transitioned.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}
