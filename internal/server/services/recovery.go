package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avolkov/quantvault/internal/common"
	"github.com/avolkov/quantvault/internal/cryptox"
	"github.com/avolkov/quantvault/internal/dbx"
	"github.com/avolkov/quantvault/internal/server/models"
	"github.com/avolkov/quantvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// Fixed threshold configuration: the Master Key splits into GuardianCount
// shares of which GuardianThreshold reconstruct it.
const (
	GuardianCount     = 3
	GuardianThreshold = 2
)

// GuardianKey names one guardian and carries their KEM public key.
type GuardianKey struct {
	GuardianID string
	PublicKey  []byte
}

// RecoveredDevice is the outcome of a completed recovery: a brand-new device
// row plus the Master Key wrapped for its public key.
type RecoveredDevice struct {
	Device           *models.Device
	WrappedMasterKey []byte
}

// RecoveryService implements threshold guardian recovery and the recovery
// request ledger. Guardian shares are sealed to guardian public keys before
// they are persisted; decryption of a share happens off-platform and the
// server only ever combines shares the recovering party already decrypted.
type RecoveryService struct {
	db         *sql.DB
	repos      repomanager.RepositoryManager
	kem        cryptox.KEM
	sealer     *cryptox.Sealer
	splitter   cryptox.Splitter
	audit      Auditor
	requestTTL time.Duration
}

func NewRecoveryService(db *sql.DB, repos repomanager.RepositoryManager, kem cryptox.KEM, splitter cryptox.Splitter, audit Auditor, requestTTL time.Duration) *RecoveryService {
	return &RecoveryService{
		db:         db,
		repos:      repos,
		kem:        kem,
		sealer:     cryptox.NewSealer(kem),
		splitter:   splitter,
		audit:      audit,
		requestTTL: requestTTL,
	}
}

// SetupGuardians splits masterKey into GuardianCount shares (threshold
// GuardianThreshold), seals each to the corresponding guardian's public key
// and replaces any previous configuration atomically: either all new rows are
// written and the old ones deleted, or the prior configuration stays intact.
func (s *RecoveryService) SetupGuardians(ctx context.Context, userID string, guardians []GuardianKey, masterKey []byte) ([]*models.GuardianShare, error) {
	if len(guardians) != GuardianCount {
		return nil, fmt.Errorf("%w: exactly %d guardians required, got %d",
			common.ErrInsufficientGuardians, GuardianCount, len(guardians))
	}
	seen := make(map[string]struct{}, len(guardians))
	for _, g := range guardians {
		if len(g.PublicKey) != s.kem.PublicKeySize() {
			return nil, fmt.Errorf("%w: guardian %s public key must be %d bytes",
				common.ErrInvalidKeyMaterial, g.GuardianID, s.kem.PublicKeySize())
		}
		if _, dup := seen[g.GuardianID]; dup {
			return nil, fmt.Errorf("%w: duplicate guardian %s", common.ErrorAlreadyExists, g.GuardianID)
		}
		seen[g.GuardianID] = struct{}{}
	}
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes", common.ErrInvalidKeyMaterial, MasterKeySize)
	}

	// All cryptography happens before any persistence mutation.
	shares, err := s.splitter.Split(masterKey, GuardianCount, GuardianThreshold)
	if err != nil {
		return nil, fmt.Errorf("splitting master key: %w", err)
	}
	defer func() {
		for _, share := range shares {
			common.WipeByteArray(share)
		}
	}()

	rows := make([]*models.GuardianShare, len(shares))
	for i, share := range shares {
		sealed, err := s.sealer.Wrap(share, guardians[i].PublicKey, cryptox.InfoGuardianShare)
		if err != nil {
			return nil, fmt.Errorf("sealing share %d: %w", i, err)
		}
		rows[i] = &models.GuardianShare{
			ID:          uuid.NewString(),
			OwnerUserID: userID,
			GuardianID:  guardians[i].GuardianID,
			ShareIndex:  i,
			SealedShare: sealed,
			CreatedAt:   time.Now(),
		}
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		shareRepo := s.repos.GuardianShares(tx)
		if err := shareRepo.DeleteAllForOwner(ctx, userID); err != nil {
			return err
		}
		for _, row := range rows {
			if err := shareRepo.Create(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, EventGuardiansSetup,
		"user_id", userID,
		"share_count", GuardianCount,
		"threshold", GuardianThreshold)
	return rows, nil
}

// ListGuardianShares returns the caller's sealed shares, e.g. for
// distribution to guardians after setup.
func (s *RecoveryService) ListGuardianShares(ctx context.Context, userID string) ([]*models.GuardianShare, error) {
	return s.repos.GuardianShares(s.db).ListByOwner(ctx, userID)
}

// InitiateRecovery opens a recovery request for the named user. The response
// never distinguishes an unknown username from a user without guardians, and
// carries share indexes only — no sealed or plaintext share material.
func (s *RecoveryService) InitiateRecovery(ctx context.Context, username string, guardianIDs []string) (*models.RecoveryRequest, error) {
	now := time.Now()

	// lazy expiry at read time
	if _, err := s.repos.RecoveryRequests(s.db).ExpireStale(ctx, now); err != nil {
		return nil, err
	}

	user, err := s.repos.Users(s.db).GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	shares, err := s.repos.GuardianShares(s.db).ListByOwner(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(shares) == 0 {
		// indistinguishable from an unknown user
		return nil, common.ErrorNotFound
	}

	byGuardian := make(map[string]*models.GuardianShare, len(shares))
	for _, share := range shares {
		byGuardian[share.GuardianID] = share
	}
	var indexes []int
	for _, id := range guardianIDs {
		if share, ok := byGuardian[id]; ok {
			indexes = append(indexes, share.ShareIndex)
		}
	}
	if len(indexes) < GuardianThreshold {
		return nil, fmt.Errorf("%w: %d of %d named guardians hold shares",
			common.ErrInsufficientGuardians, len(indexes), len(guardianIDs))
	}

	pending, err := s.repos.RecoveryRequests(s.db).HasPending(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, common.ErrRecoveryAlreadyPending
	}

	request := &models.RecoveryRequest{
		ID:                   uuid.NewString(),
		UserID:               user.ID,
		RequiredShareIndexes: indexes,
		Status:               models.RecoveryPending,
		CreatedAt:            now,
		ExpiresAt:            now.Add(s.requestTTL),
	}
	if err := s.repos.RecoveryRequests(s.db).Create(ctx, request); err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, EventRecoveryInitiated,
		"user_id", user.ID,
		"request_id", request.ID,
		"share_indexes", len(indexes),
		"expires_at", request.ExpiresAt)
	return request, nil
}

// CompleteRecovery combines the supplied already-decrypted shares, treats the
// reconstructed value as the Master Key and enrolls a brand-new device wrapped
// for newDevicePublicKey. The PENDING→COMPLETED transition is a single
// compare-and-set: concurrent completions of the same request yield exactly
// one new device, the loser observes ErrRecoveryExpiredOrInvalid. Combine
// failures roll the transaction back and leave the request PENDING so the
// caller may retry with corrected shares.
func (s *RecoveryService) CompleteRecovery(ctx context.Context, requestID string, shares [][]byte, newDeviceName string, newDevicePublicKey []byte) (*RecoveredDevice, error) {
	if len(newDevicePublicKey) != s.kem.PublicKeySize() {
		return nil, fmt.Errorf("%w: encapsulation public key must be %d bytes, got %d",
			common.ErrInvalidKeyMaterial, s.kem.PublicKeySize(), len(newDevicePublicKey))
	}
	if len(shares) < GuardianThreshold {
		return nil, fmt.Errorf("%w: %d shares supplied, threshold is %d",
			common.ErrInsufficientGuardians, len(shares), GuardianThreshold)
	}

	var (
		result *RecoveredDevice
		userID string
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ledger := s.repos.RecoveryRequests(tx)

		request, err := ledger.GetByID(ctx, requestID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrRecoveryExpiredOrInvalid
			}
			return err
		}
		if request.Status != models.RecoveryPending || request.Expired(time.Now()) {
			return common.ErrRecoveryExpiredOrInvalid
		}

		// Combining is pure and happens before any mutation: bad shares leave
		// the request PENDING for a retry with corrected ones.
		masterKey, err := s.splitter.Combine(shares)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrInvalidShares, err)
		}
		defer common.WipeByteArray(masterKey)
		if len(masterKey) != MasterKeySize {
			return fmt.Errorf("%w: reconstructed value has wrong length", common.ErrInvalidShares)
		}

		userID, err = ledger.CompletePending(ctx, requestID, time.Now())
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrRecoveryExpiredOrInvalid
			}
			return err
		}

		wrapped, err := s.sealer.Wrap(masterKey, newDevicePublicKey, cryptox.InfoDeviceMasterKey)
		if err != nil {
			return fmt.Errorf("wrapping recovered master key: %w", err)
		}

		device := &models.Device{
			ID:                     uuid.NewString(),
			OwnerUserID:            userID,
			DisplayName:            newDeviceName,
			EncapsulationPublicKey: newDevicePublicKey,
			WrappedMasterKey:       wrapped,
			CreatedAt:              time.Now(),
		}
		if err := s.repos.Devices(tx).Create(ctx, device); err != nil {
			return err
		}
		result = &RecoveredDevice{Device: device, WrappedMasterKey: wrapped}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, EventRecoveryCompleted,
		"user_id", userID,
		"request_id", requestID,
		"new_device_id", result.Device.ID)
	return result, nil
}

// RevokeGuardian removes one guardian's share unless that would leave fewer
// shares than the recovery threshold.
func (s *RecoveryService) RevokeGuardian(ctx context.Context, callerUserID, guardianID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		shareRepo := s.repos.GuardianShares(tx)

		if _, err := shareRepo.GetByGuardian(ctx, callerUserID, guardianID); err != nil {
			return err
		}

		n, err := shareRepo.CountByOwner(ctx, callerUserID)
		if err != nil {
			return err
		}
		if n-1 < GuardianThreshold {
			return common.ErrThresholdViolation
		}

		return shareRepo.DeleteByGuardian(ctx, callerUserID, guardianID)
	})
	if err != nil {
		return err
	}

	s.audit.Emit(ctx, EventGuardianRevoked, "user_id", callerUserID, "guardian_id", guardianID)
	return nil
}

// ExpireStale transitions overdue PENDING requests to EXPIRED. Called lazily
// on reads and periodically by the background sweeper.
func (s *RecoveryService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.repos.RecoveryRequests(s.db).ExpireStale(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.audit.Emit(ctx, EventRecoveryExpired, "count", n)
	}
	return n, nil
}
