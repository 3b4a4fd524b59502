package models

import "time"

// RecoveryRequest status values. PENDING transitions to COMPLETED exactly once
// or to EXPIRED after the TTL; both are terminal.
const (
	RecoveryPending   = "PENDING"
	RecoveryCompleted = "COMPLETED"
	RecoveryExpired   = "EXPIRED"
)

// RecoveryRequest is an in-flight guardian recovery attempt.
// RequiredShareIndexes names the share positions the recovering party is
// expected to collect.
type RecoveryRequest struct {
	ID                   string
	UserID               string
	RequiredShareIndexes []int
	Status               string
	CreatedAt            time.Time
	ExpiresAt            time.Time
}

// Expired reports whether the request's TTL has elapsed at the given instant.
func (r *RecoveryRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
