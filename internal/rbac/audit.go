package rbac

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Audit actions emitted by the services.
const (
	AuditRoleCreated       = "role.created"
	AuditRoleUpdated       = "role.permissions_updated"
	AuditRoleDeleted       = "role.deleted"
	AuditRoleAssigned      = "role.assigned"
	AuditRoleRemoved       = "role.removed"
	AuditOverrideUpserted  = "override.upserted"
	AuditOverrideRemoved   = "override.removed"
	AuditPermissionsSeeded = "catalog.permissions_seeded"
	AuditRolesSeeded       = "catalog.roles_seeded"
)

// AuditEvent records one policy-relevant mutation. Events are forwarded to
// the platform's external hash-chained audit service post-commit; the
// before/after permission-code sets let the trail reconstruct the change.
type AuditEvent struct {
	ID         string    `json:"id"`
	ActorID    int64     `json:"actor_id"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	Before     []string  `json:"before,omitempty"`
	After      []string  `json:"after,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewAuditEvent stamps an event with an id and timestamp.
func NewAuditEvent(actorID int64, action, targetType, targetID string) AuditEvent {
	return AuditEvent{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		OccurredAt: time.Now().UTC(),
	}
}

// AuditSink receives events after the owning mutation has committed.
// Implementations must be fire-and-forget: a sink failure never fails the
// mutation, it is logged and dropped.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// NopSink discards events. Used when no sink is configured.
type NopSink struct{}

// Record implements AuditSink.
func (NopSink) Record(context.Context, AuditEvent) error { return nil }

// recordAudit sends an event to the sink, logging (not returning) failures.
func recordAudit(ctx context.Context, sink AuditSink, logger *slog.Logger, event AuditEvent) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, event); err != nil && logger != nil {
		logger.Warn("audit sink record", slog.String("action", event.Action), slog.Any("error", err))
	}
}
