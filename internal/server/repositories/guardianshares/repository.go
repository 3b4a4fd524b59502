package guardianshares

import (
	"context"

	"github.com/avolkov/quantvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, share *models.GuardianShare) error
	ListByOwner(ctx context.Context, ownerUserID string) ([]*models.GuardianShare, error)
	GetByGuardian(ctx context.Context, ownerUserID, guardianID string) (*models.GuardianShare, error)
	CountByOwner(ctx context.Context, ownerUserID string) (int, error)
	DeleteByGuardian(ctx context.Context, ownerUserID, guardianID string) error
	DeleteAllForOwner(ctx context.Context, ownerUserID string) error
}
