package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/avolkov/quantvault/internal/common"
	"github.com/avolkov/quantvault/internal/dbx"
	"github.com/avolkov/quantvault/internal/server/models"
	custodytransfersrepo "github.com/avolkov/quantvault/internal/server/repositories/custodytransfers"
	devicesrepo "github.com/avolkov/quantvault/internal/server/repositories/devices"
	guardiansharesrepo "github.com/avolkov/quantvault/internal/server/repositories/guardianshares"
	recoveryrequestsrepo "github.com/avolkov/quantvault/internal/server/repositories/recoveryrequests"
	usersrepo "github.com/avolkov/quantvault/internal/server/repositories/users"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// newServiceDB returns a database handle the services use for transaction
// scoping only; all reads and writes in these tests go through memStore.
func newServiceDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:service_tests?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// -------- in-memory store backing the test fakes --------

type memStore struct {
	mu        sync.Mutex
	users     map[string]*models.User
	devices   map[string]*models.Device
	shares    map[string]*models.GuardianShare
	requests  map[string]*models.RecoveryRequest
	transfers map[string]*models.CustodyTransfer
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*models.User),
		devices:   make(map[string]*models.Device),
		shares:    make(map[string]*models.GuardianShare),
		requests:  make(map[string]*models.RecoveryRequest),
		transfers: make(map[string]*models.CustodyTransfer),
	}
}

type fakeUsersRepo struct{ s *memStore }

func (f *fakeUsersRepo) Create(ctx context.Context, username string) (*models.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, u := range f.s.users {
		if u.Username == username {
			return nil, common.ErrorAlreadyExists
		}
	}
	user := &models.User{ID: uuid.NewString(), Username: username, CreatedAt: time.Now()}
	f.s.users[user.ID] = user
	return user, nil
}

func (f *fakeUsersRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, u := range f.s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if u, ok := f.s.users[id]; ok {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) LockByID(ctx context.Context, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.users[id]; !ok {
		return common.ErrorNotFound
	}
	return nil
}

type fakeDevicesRepo struct{ s *memStore }

func (f *fakeDevicesRepo) Create(ctx context.Context, device *models.Device) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.devices[device.ID]; ok {
		return common.ErrorAlreadyExists
	}
	f.s.devices[device.ID] = device
	return nil
}

func (f *fakeDevicesRepo) GetByID(ctx context.Context, id string) (*models.Device, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if d, ok := f.s.devices[id]; ok {
		return d, nil
	}
	return nil, common.ErrorNotFound
}

// ListByOwner mirrors the production repository: metadata only, no key bytes.
func (f *fakeDevicesRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]*models.Device, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.Device
	for _, d := range f.s.devices {
		if d.OwnerUserID == ownerUserID {
			out = append(out, &models.Device{
				ID:          d.ID,
				OwnerUserID: d.OwnerUserID,
				DisplayName: d.DisplayName,
				LastUsedAt:  d.LastUsedAt,
				CreatedAt:   d.CreatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDevicesRepo) CountByOwner(ctx context.Context, ownerUserID string) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	n := 0
	for _, d := range f.s.devices {
		if d.OwnerUserID == ownerUserID {
			n++
		}
	}
	return n, nil
}

func (f *fakeDevicesRepo) TouchLastUsed(ctx context.Context, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	d, ok := f.s.devices[id]
	if !ok {
		return common.ErrorNotFound
	}
	d.LastUsedAt = sql.NullTime{Time: time.Now(), Valid: true}
	return nil
}

func (f *fakeDevicesRepo) SetWrappedMasterKey(ctx context.Context, id string, wrapped []byte) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	d, ok := f.s.devices[id]
	if !ok {
		return common.ErrorNotFound
	}
	if d.WrappedMasterKey != nil {
		return common.ErrorAlreadyExists
	}
	d.WrappedMasterKey = wrapped
	return nil
}

func (f *fakeDevicesRepo) Delete(ctx context.Context, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.devices[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.s.devices, id)
	return nil
}

type fakeGuardianSharesRepo struct{ s *memStore }

func (f *fakeGuardianSharesRepo) Create(ctx context.Context, share *models.GuardianShare) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, existing := range f.s.shares {
		if existing.OwnerUserID == share.OwnerUserID &&
			(existing.GuardianID == share.GuardianID || existing.ShareIndex == share.ShareIndex) {
			return common.ErrorAlreadyExists
		}
	}
	f.s.shares[share.ID] = share
	return nil
}

func (f *fakeGuardianSharesRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]*models.GuardianShare, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.GuardianShare
	for _, sh := range f.s.shares {
		if sh.OwnerUserID == ownerUserID {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShareIndex < out[j].ShareIndex })
	return out, nil
}

func (f *fakeGuardianSharesRepo) GetByGuardian(ctx context.Context, ownerUserID, guardianID string) (*models.GuardianShare, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, sh := range f.s.shares {
		if sh.OwnerUserID == ownerUserID && sh.GuardianID == guardianID {
			return sh, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeGuardianSharesRepo) CountByOwner(ctx context.Context, ownerUserID string) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	n := 0
	for _, sh := range f.s.shares {
		if sh.OwnerUserID == ownerUserID {
			n++
		}
	}
	return n, nil
}

func (f *fakeGuardianSharesRepo) DeleteByGuardian(ctx context.Context, ownerUserID, guardianID string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for id, sh := range f.s.shares {
		if sh.OwnerUserID == ownerUserID && sh.GuardianID == guardianID {
			delete(f.s.shares, id)
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *fakeGuardianSharesRepo) DeleteAllForOwner(ctx context.Context, ownerUserID string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for id, sh := range f.s.shares {
		if sh.OwnerUserID == ownerUserID {
			delete(f.s.shares, id)
		}
	}
	return nil
}

type fakeRecoveryRequestsRepo struct{ s *memStore }

func (f *fakeRecoveryRequestsRepo) Create(ctx context.Context, request *models.RecoveryRequest) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, r := range f.s.requests {
		if r.UserID == request.UserID && r.Status == models.RecoveryPending {
			return common.ErrorAlreadyExists
		}
	}
	f.s.requests[request.ID] = request
	return nil
}

func (f *fakeRecoveryRequestsRepo) GetByID(ctx context.Context, id string) (*models.RecoveryRequest, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if r, ok := f.s.requests[id]; ok {
		return r, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeRecoveryRequestsRepo) HasPending(ctx context.Context, userID string, now time.Time) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, r := range f.s.requests {
		if r.UserID == userID && r.Status == models.RecoveryPending && !r.Expired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRecoveryRequestsRepo) CompletePending(ctx context.Context, id string, now time.Time) (string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	r, ok := f.s.requests[id]
	if !ok || r.Status != models.RecoveryPending || r.Expired(now) {
		return "", common.ErrorNotFound
	}
	r.Status = models.RecoveryCompleted
	return r.UserID, nil
}

func (f *fakeRecoveryRequestsRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var n int64
	for _, r := range f.s.requests {
		if r.Status == models.RecoveryPending && r.Expired(now) {
			r.Status = models.RecoveryExpired
			n++
		}
	}
	return n, nil
}

type fakeCustodyTransfersRepo struct{ s *memStore }

func (f *fakeCustodyTransfersRepo) Create(ctx context.Context, transfer *models.CustodyTransfer) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.transfers[transfer.ID] = transfer
	return nil
}

func (f *fakeCustodyTransfersRepo) GetByID(ctx context.Context, id string) (*models.CustodyTransfer, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if tr, ok := f.s.transfers[id]; ok {
		return tr, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeCustodyTransfersRepo) ListPendingByUser(ctx context.Context, userID string) ([]*models.CustodyTransfer, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.CustodyTransfer
	for _, tr := range f.s.transfers {
		if tr.UserID == userID && tr.Status == models.TransferPending {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCustodyTransfersRepo) CompletePending(ctx context.Context, id, sourceDeviceID string, now time.Time) (string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	tr, ok := f.s.transfers[id]
	if !ok || tr.Status != models.TransferPending {
		return "", common.ErrorNotFound
	}
	tr.Status = models.TransferCompleted
	tr.SourceDeviceID = sql.NullString{String: sourceDeviceID, Valid: true}
	tr.CompletedAt = sql.NullTime{Time: now, Valid: true}
	return tr.TargetDeviceID, nil
}

type fakeRepoManager struct{ s *memStore }

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{s: newMemStore()}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository {
	return &fakeUsersRepo{s: m.s}
}
func (m *fakeRepoManager) Devices(db dbx.DBTX) devicesrepo.Repository {
	return &fakeDevicesRepo{s: m.s}
}
func (m *fakeRepoManager) GuardianShares(db dbx.DBTX) guardiansharesrepo.Repository {
	return &fakeGuardianSharesRepo{s: m.s}
}
func (m *fakeRepoManager) RecoveryRequests(db dbx.DBTX) recoveryrequestsrepo.Repository {
	return &fakeRecoveryRequestsRepo{s: m.s}
}
func (m *fakeRepoManager) CustodyTransfers(db dbx.DBTX) custodytransfersrepo.Repository {
	return &fakeCustodyTransfersRepo{s: m.s}
}
