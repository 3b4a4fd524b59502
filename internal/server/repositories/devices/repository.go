package devices

import (
	"context"

	"github.com/avolkov/quantvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, device *models.Device) error
	GetByID(ctx context.Context, id string) (*models.Device, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]*models.Device, error)
	CountByOwner(ctx context.Context, ownerUserID string) (int, error)
	TouchLastUsed(ctx context.Context, id string) error
	// SetWrappedMasterKey writes the wrapped blob onto a device that does not
	// have one yet. A device's wrapped key is write-once.
	SetWrappedMasterKey(ctx context.Context, id string, wrapped []byte) error
	Delete(ctx context.Context, id string) error
}
