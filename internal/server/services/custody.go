package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avolkov/quantvault/internal/common"
	"github.com/avolkov/quantvault/internal/cryptox"
	"github.com/avolkov/quantvault/internal/dbx"
	"github.com/avolkov/quantvault/internal/server/models"
	"github.com/avolkov/quantvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// MasterKeySize is the length of the symmetric secret protecting a vault.
const MasterKeySize = 32

// CustodyService implements multi-device Master Key custody: device
// registration, wrapped-key retrieval, revocation, and the blind-relay
// custody transfer that propagates the key to additional devices.
//
// The Master Key exists in server memory only while minting it for a user's
// first device (and transiently during recovery); it is wiped immediately
// after wrapping and never persisted or logged.
type CustodyService struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	kem       cryptox.KEM
	sealer    *cryptox.Sealer
	audit     Auditor
	userLocks sync.Map // userID -> *sync.Mutex
}

func NewCustodyService(db *sql.DB, repos repomanager.RepositoryManager, kem cryptox.KEM, audit Auditor) *CustodyService {
	return &CustodyService{
		db:     db,
		repos:  repos,
		kem:    kem,
		sealer: cryptox.NewSealer(kem),
		audit:  audit,
	}
}

// lockUser serializes custody-critical sections per user within this process.
// The row lock taken inside the transaction covers other processes.
func (s *CustodyService) lockUser(userID string) func() {
	v, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// RegisterResult is the outcome of a device registration. For a first device
// WrappedMasterKey carries the sealed blob the device can decapsulate with its
// private key. For subsequent devices the blob is not available yet and
// Transfer describes the pending custody hand-off instead.
type RegisterResult struct {
	Device           *models.Device
	WrappedMasterKey []byte
	Transfer         *models.CustodyTransfer
}

// RegisterDevice enrolls a device for ownerUserID.
//
// The first device for a user triggers minting of a fresh random Master Key,
// which is wrapped for the device's public key and wiped. Every later
// registration stores the device without key material and opens a PENDING
// custody transfer that an already-enrolled device must serve; the server
// never re-materializes the Master Key for this path.
func (s *CustodyService) RegisterDevice(ctx context.Context, ownerUserID, displayName string, publicKey []byte) (*RegisterResult, error) {
	if len(publicKey) != s.kem.PublicKeySize() {
		return nil, fmt.Errorf("%w: encapsulation public key must be %d bytes, got %d",
			common.ErrInvalidKeyMaterial, s.kem.PublicKeySize(), len(publicKey))
	}

	unlock := s.lockUser(ownerUserID)
	defer unlock()

	var (
		result      *RegisterResult
		deviceCount int
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Users(tx).LockByID(ctx, ownerUserID); err != nil {
			return err
		}

		devRepo := s.repos.Devices(tx)
		n, err := devRepo.CountByOwner(ctx, ownerUserID)
		if err != nil {
			return err
		}
		deviceCount = n + 1

		device := &models.Device{
			ID:                     uuid.NewString(),
			OwnerUserID:            ownerUserID,
			DisplayName:            displayName,
			EncapsulationPublicKey: publicKey,
			CreatedAt:              time.Now(),
		}

		if n == 0 {
			masterKey := common.GenerateRandByteArray(MasterKeySize)
			defer common.WipeByteArray(masterKey)

			wrapped, err := s.sealer.Wrap(masterKey, publicKey, cryptox.InfoDeviceMasterKey)
			if err != nil {
				return fmt.Errorf("wrapping master key: %w", err)
			}
			device.WrappedMasterKey = wrapped

			if err := devRepo.Create(ctx, device); err != nil {
				return err
			}
			result = &RegisterResult{Device: device, WrappedMasterKey: wrapped}
			return nil
		}

		if err := devRepo.Create(ctx, device); err != nil {
			return err
		}
		transfer := &models.CustodyTransfer{
			ID:             uuid.NewString(),
			UserID:         ownerUserID,
			TargetDeviceID: device.ID,
			Status:         models.TransferPending,
			CreatedAt:      time.Now(),
		}
		if err := s.repos.CustodyTransfers(tx).Create(ctx, transfer); err != nil {
			return err
		}
		result = &RegisterResult{Device: device, Transfer: transfer}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, EventDeviceRegistered,
		"user_id", ownerUserID,
		"device_id", result.Device.ID,
		"device_count", deviceCount,
		"first_device", deviceCount == 1)
	return result, nil
}

// ListDevices returns the caller's devices. Metadata only: neither wrapped
// keys nor public key bytes are included.
func (s *CustodyService) ListDevices(ctx context.Context, userID string) ([]*models.Device, error) {
	return s.repos.Devices(s.db).ListByOwner(ctx, userID)
}

// FetchWrappedKey returns the sealed Master Key blob for one of the caller's
// devices and bumps its last-used timestamp. Devices of other users are
// reported as not found rather than forbidden.
func (s *CustodyService) FetchWrappedKey(ctx context.Context, callerUserID, deviceID string) ([]byte, error) {
	devRepo := s.repos.Devices(s.db)

	device, err := devRepo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.OwnerUserID != callerUserID {
		return nil, common.ErrorNotFound
	}
	if device.WrappedMasterKey == nil {
		return nil, common.ErrCustodyPending
	}

	if err := devRepo.TouchLastUsed(ctx, deviceID); err != nil {
		return nil, err
	}
	return device.WrappedMasterKey, nil
}

// RevokeDevice deletes one of the caller's devices. The last remaining device
// cannot be revoked. Revocation removes that device's ability to unwrap; it
// deliberately does not rotate the Master Key, which every other enrolled
// device still wraps.
func (s *CustodyService) RevokeDevice(ctx context.Context, callerUserID, deviceID string) error {
	unlock := s.lockUser(callerUserID)
	defer unlock()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Users(tx).LockByID(ctx, callerUserID); err != nil {
			return err
		}

		devRepo := s.repos.Devices(tx)
		device, err := devRepo.GetByID(ctx, deviceID)
		if err != nil {
			return err
		}
		if device.OwnerUserID != callerUserID {
			return common.ErrorNotFound
		}

		n, err := devRepo.CountByOwner(ctx, callerUserID)
		if err != nil {
			return err
		}
		if n <= 1 {
			return common.ErrLastDeviceProtected
		}

		return devRepo.Delete(ctx, deviceID)
	})
	if err != nil {
		return err
	}

	s.audit.Emit(ctx, EventDeviceRevoked, "user_id", callerUserID, "device_id", deviceID)
	return nil
}

// PendingTransfer pairs a custody transfer with the target device's public
// material, which the serving device needs to re-wrap the Master Key.
type PendingTransfer struct {
	Transfer          *models.CustodyTransfer
	TargetDisplayName string
	TargetPublicKey   []byte
}

// ListPendingTransfers returns the caller's open custody transfers.
func (s *CustodyService) ListPendingTransfers(ctx context.Context, callerUserID string) ([]*PendingTransfer, error) {
	transfers, err := s.repos.CustodyTransfers(s.db).ListPendingByUser(ctx, callerUserID)
	if err != nil {
		return nil, err
	}

	devRepo := s.repos.Devices(s.db)
	result := make([]*PendingTransfer, 0, len(transfers))
	for _, transfer := range transfers {
		target, err := devRepo.GetByID(ctx, transfer.TargetDeviceID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				// target revoked while the transfer was open
				continue
			}
			return nil, err
		}
		result = append(result, &PendingTransfer{
			Transfer:          transfer,
			TargetDisplayName: target.DisplayName,
			TargetPublicKey:   target.EncapsulationPublicKey,
		})
	}
	return result, nil
}

// CompleteTransfer stores the wrapped Master Key an enrolled device produced
// for the transfer's target device. The server acts as a blind relay: it
// validates ownership and blob shape, never the plaintext.
func (s *CustodyService) CompleteTransfer(ctx context.Context, callerUserID, transferID, sourceDeviceID string, wrappedKey []byte) error {
	if len(wrappedKey) <= s.kem.CiphertextSize() {
		return fmt.Errorf("%w: wrapped key blob too short", common.ErrInvalidKeyMaterial)
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		transferRepo := s.repos.CustodyTransfers(tx)
		transfer, err := transferRepo.GetByID(ctx, transferID)
		if err != nil {
			return err
		}
		if transfer.UserID != callerUserID {
			return common.ErrorNotFound
		}

		source, err := s.repos.Devices(tx).GetByID(ctx, sourceDeviceID)
		if err != nil {
			return err
		}
		if source.OwnerUserID != callerUserID {
			return common.ErrorNotFound
		}
		if source.WrappedMasterKey == nil {
			// a device still waiting on its own transfer cannot serve others
			return common.ErrCustodyPending
		}

		targetDeviceID, err := transferRepo.CompletePending(ctx, transferID, sourceDeviceID, time.Now())
		if err != nil {
			return err
		}
		return s.repos.Devices(tx).SetWrappedMasterKey(ctx, targetDeviceID, wrappedKey)
	})
	if err != nil {
		return err
	}

	s.audit.Emit(ctx, EventCustodyTransferCompleted,
		"user_id", callerUserID,
		"transfer_id", transferID,
		"source_device_id", sourceDeviceID)
	return nil
}
