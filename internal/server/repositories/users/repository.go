package users

import (
	"context"

	"github.com/avolkov/quantvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, username string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	// LockByID takes a row lock on the user, serializing custody-critical
	// sections (first-device detection) within the surrounding transaction.
	LockByID(ctx context.Context, id string) error
}
