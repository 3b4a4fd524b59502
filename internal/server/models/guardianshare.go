package models

import "time"

// GuardianShare is one sealed Shamir share of a user's Master Key, sealed to a
// guardian's KEM public key. Exactly GuardianCount rows exist per active
// configuration, with contiguous ShareIndex values starting at 0.
type GuardianShare struct {
	ID          string
	OwnerUserID string
	GuardianID  string
	ShareIndex  int
	SealedShare []byte
	CreatedAt   time.Time
}
