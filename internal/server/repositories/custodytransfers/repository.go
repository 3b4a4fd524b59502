package custodytransfers

import (
	"context"
	"time"

	"github.com/avolkov/quantvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, transfer *models.CustodyTransfer) error
	GetByID(ctx context.Context, id string) (*models.CustodyTransfer, error)
	ListPendingByUser(ctx context.Context, userID string) ([]*models.CustodyTransfer, error)
	// CompletePending atomically transitions the transfer PENDING→COMPLETED,
	// recording the serving device. Returns the target device ID, or
	// common.ErrorNotFound when the transfer is absent or already terminal.
	CompletePending(ctx context.Context, id, sourceDeviceID string, now time.Time) (string, error)
}
