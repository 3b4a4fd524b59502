package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/avolkov/quantvault/internal/server/auth"
	"github.com/avolkov/quantvault/internal/server/config"
	"github.com/avolkov/quantvault/internal/server/models"
	"github.com/avolkov/quantvault/internal/server/repositories/repomanager"
)

// UserService is the enrollment hook for the external identity collaborator:
// it creates the minimal user row the custody core keys off and mints an
// access token for it. Real deployments replace the minting side with the
// identity service; the shared HMAC secret keeps the tokens interchangeable.
type UserService struct {
	db            *sql.DB
	repos         repomanager.RepositoryManager
	jwtSecret     []byte
	tokenValidity time.Duration
}

func NewUserService(db *sql.DB, repos repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		db:            db,
		repos:         repos,
		jwtSecret:     []byte(cfg.SecretKey),
		tokenValidity: cfg.AccessTokenValidityDuration,
	}
}

// Enroll creates the user and returns an access token for follow-up
// device-scoped calls.
func (s *UserService) Enroll(ctx context.Context, username string) (*models.User, string, error) {
	user, err := s.repos.Users(s.db).Create(ctx, username)
	if err != nil {
		return nil, "", err
	}

	token, err := auth.GenerateToken(user.ID, s.jwtSecret, s.tokenValidity)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}
