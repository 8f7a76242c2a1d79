package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction enumerates the compliance-relevant actions recorded in the
// audit log.
type AuditAction string

const (
	AuditWorkflowCreated     AuditAction = "workflow_created"
	AuditWorkflowUpdated     AuditAction = "workflow_updated"
	AuditWorkflowActivated   AuditAction = "workflow_activated"
	AuditWorkflowDeactivated AuditAction = "workflow_deactivated"
	AuditExecutionStarted    AuditAction = "execution_started"
	AuditExecutionCompleted  AuditAction = "execution_completed"
	AuditExecutionFailed     AuditAction = "execution_failed"
	AuditExecutionCancelled  AuditAction = "execution_cancelled"
	AuditNodeApproved        AuditAction = "node_approved"
	AuditNodeRejected        AuditAction = "node_rejected"
)

// AuditLogEntry is an append-only compliance record. Entries are never
// updated or deleted.
type AuditLogEntry struct {
	ID          string         `json:"id"`
	WorkflowID  *string        `json:"workflow_id,omitempty"`
	ExecutionID *string        `json:"execution_id,omitempty"`
	Actor       string         `json:"actor"`
	Action      AuditAction    `json:"action"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewAuditLogEntry builds an entry with a fresh ID and UTC timestamp.
func NewAuditLogEntry(actor string, action AuditAction, description string) *AuditLogEntry {
	return &AuditLogEntry{
		ID:          uuid.New().String(),
		Actor:       actor,
		Action:      action,
		Description: description,
		Metadata:    make(map[string]any),
		Timestamp:   time.Now().UTC(),
	}
}
