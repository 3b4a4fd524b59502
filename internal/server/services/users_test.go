package services

import (
	"context"
	"testing"
	"time"

	"github.com/avolkov/quantvault/internal/common"
	"github.com/avolkov/quantvault/internal/server/auth"
	"github.com/avolkov/quantvault/internal/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnroll(t *testing.T) {
	repos := newFakeRepoManager()
	cfg := &config.Config{SecretKey: "secret", AccessTokenValidityDuration: time.Minute}
	svc := NewUserService(newServiceDB(t), repos, cfg)

	user, token, err := svc.Enroll(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotEmpty(t, user.ID)

	// the minted token resolves back to the new user
	userID, err := auth.GetUserIDFromToken(token, []byte("secret"))
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
}

func TestEnroll_DuplicateUsername(t *testing.T) {
	repos := newFakeRepoManager()
	cfg := &config.Config{SecretKey: "secret", AccessTokenValidityDuration: time.Minute}
	svc := NewUserService(newServiceDB(t), repos, cfg)

	_, _, err := svc.Enroll(context.Background(), "alice")
	require.NoError(t, err)

	_, _, err = svc.Enroll(context.Background(), "alice")
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}
