// Package services contains the server-side business logic of the custody and
// recovery subsystem.
package services

import (
	"context"

	"github.com/avolkov/quantvault/internal/logging"
)

// AuditEvent identifies a structured audit record.
type AuditEvent string

const (
	EventDeviceRegistered         AuditEvent = "DEVICE_REGISTERED"
	EventDeviceRevoked            AuditEvent = "DEVICE_REVOKED"
	EventCustodyTransferCompleted AuditEvent = "CUSTODY_TRANSFER_COMPLETED"
	EventGuardiansSetup           AuditEvent = "GUARDIANS_SETUP"
	EventGuardianRevoked          AuditEvent = "GUARDIAN_REVOKED"
	EventRecoveryInitiated        AuditEvent = "RECOVERY_INITIATED"
	EventRecoveryCompleted        AuditEvent = "RECOVERY_COMPLETED"
	EventRecoveryExpired          AuditEvent = "RECOVERY_EXPIRED"
)

// Auditor receives structured audit events. Payloads carry identifiers,
// counts and timestamps only — never key material.
type Auditor interface {
	Emit(ctx context.Context, event AuditEvent, args ...any)
}

// LogAuditor emits audit events through the structured logger.
type LogAuditor struct {
	log logging.Logger
}

func NewLogAuditor(l logging.Logger) *LogAuditor {
	return &LogAuditor{log: l.With("module", "audit")}
}

func (a *LogAuditor) Emit(ctx context.Context, event AuditEvent, args ...any) {
	a.log.Info(ctx, string(event), args...)
}

// NopAuditor discards events; used in tests.
type NopAuditor struct{}

func (NopAuditor) Emit(ctx context.Context, event AuditEvent, args ...any) {}
