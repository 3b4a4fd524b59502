package models

import (
	"database/sql"
	"time"
)

// Device is one enrolled device of a user. EncapsulationPublicKey is the
// device's KEM public key, length-validated before the row is created.
// WrappedMasterKey is the opaque sealed blob (KEM ciphertext ‖ nonce ‖ AEAD
// ciphertext); it is NULL while a custody transfer to this device is pending
// and is never mutated after it is set.
type Device struct {
	ID                     string
	OwnerUserID            string
	DisplayName            string
	EncapsulationPublicKey []byte
	WrappedMasterKey       []byte
	LastUsedAt             sql.NullTime
	CreatedAt              time.Time
}

// CustodyTransferStatus values.
const (
	TransferPending   = "PENDING"
	TransferCompleted = "COMPLETED"
)

// CustodyTransfer tracks the blind-relay hand-off of the wrapped Master Key to
// a newly registered device. The row itself never carries key material: the
// target device's public key lives on its Device row and completion writes the
// relayed ciphertext directly into that row's wrapped_master_key.
type CustodyTransfer struct {
	ID             string
	UserID         string
	SourceDeviceID sql.NullString
	TargetDeviceID string
	Status         string
	CreatedAt      time.Time
	CompletedAt    sql.NullTime
}
