// Package common defines shared constants and sentinel errors used across the
// custody and recovery layers of QuantVault. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors. ErrorNotFound is also returned for
	// cross-tenant access attempts so that callers cannot probe for the
	// existence of resources they do not own.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Key-material validation.
	ErrInvalidKeyMaterial = errors.New("invalid key material")

	// Safety-invariant refusals. No partial effect occurs when these are
	// returned.
	ErrLastDeviceProtected = errors.New("last device cannot be revoked")
	ErrThresholdViolation  = errors.New("guardian threshold would be violated")

	// Custody transfer lifecycle.
	ErrCustodyPending = errors.New("custody transfer pending")

	// Recovery flow errors. ErrInvalidShares leaves the recovery request
	// PENDING so the caller may retry with corrected shares.
	ErrInsufficientGuardians    = errors.New("insufficient guardians")
	ErrInvalidShares            = errors.New("invalid shares")
	ErrRecoveryAlreadyPending   = errors.New("recovery already pending")
	ErrRecoveryExpiredOrInvalid = errors.New("recovery request expired or invalid")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
