// Package events defines event types and structures for workflow lifecycle
// notifications.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/mbarbosa/gantry/pkg/models"
)

type EventType string

// Topic events are published to.
const Topic = "gantry.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow definition lifecycle events.
	WorkflowActivatedEvent   EventType = "workflow.activated"
	WorkflowDeactivatedEvent EventType = "workflow.deactivated"

	// Execution lifecycle events.
	ExecutionRequestedEvent EventType = "execution.requested"
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"

	// Node-level events.
	NodeStartedEvent  EventType = "node.started"
	NodeFinishedEvent EventType = "node.finished"
	NodeFailedEvent   EventType = "node.failed"

	// Approval gate events.
	ApprovalRequestedEvent EventType = "approval.requested"
	ApprovalResolvedEvent  EventType = "approval.resolved"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent builds the shared envelope with a fresh ID and UTC timestamp.
func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

type WorkflowActivated struct {
	BaseEvent

	Actor string `json:"actor"`
}

func (w WorkflowActivated) GetType() EventType {
	return WorkflowActivatedEvent
}

type WorkflowDeactivated struct {
	BaseEvent

	Actor string `json:"actor"`
}

func (w WorkflowDeactivated) GetType() EventType {
	return WorkflowDeactivatedEvent
}

// ExecutionRequested asks a worker to start traversal of a created
// execution. Published by the API, consumed by the worker pool.
type ExecutionRequested struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	TriggeredBy string `json:"triggered_by"`
}

func (e ExecutionRequested) GetType() EventType {
	return ExecutionRequestedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	TriggeredBy string `json:"triggered_by"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID     string  `json:"execution_id"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID     string  `json:"execution_id"`
	Error           string  `json:"error"`
	FailedNode      string  `json:"failed_node,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	CancelledBy string `json:"cancelled_by"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// ExecutionPaused is published when a run suspends on an approval gate.
type ExecutionPaused struct {
	BaseEvent

	ExecutionID  string     `json:"execution_id"`
	NodeID       string     `json:"node_id"`
	AssignedUser string     `json:"assigned_user,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (e ExecutionPaused) GetType() EventType {
	return ExecutionPausedEvent
}

type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type NodeStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	RetryCount  int    `json:"retry_count"`
}

func (n NodeStarted) GetType() EventType {
	return NodeStartedEvent
}

type NodeFinished struct {
	BaseEvent

	ExecutionID     string                     `json:"execution_id"`
	NodeID          string                     `json:"node_id"`
	Status          models.NodeExecutionStatus `json:"status"`
	OutputData      map[string]any             `json:"output_data,omitempty"`
	DurationSeconds float64                    `json:"duration_seconds"`
}

func (n NodeFinished) GetType() EventType {
	return NodeFinishedEvent
}

type NodeFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	Error       string `json:"error"`
	RetryCount  int    `json:"retry_count"`
}

func (n NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

type ApprovalRequested struct {
	BaseEvent

	ExecutionID  string     `json:"execution_id"`
	NodeID       string     `json:"node_id"`
	AssignedUser string     `json:"assigned_user,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (a ApprovalRequested) GetType() EventType {
	return ApprovalRequestedEvent
}

// ApprovalResolved records a human (or the expiry sweep) deciding an
// approval gate.
type ApprovalResolved struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	Approved    bool   `json:"approved"`
	Actor       string `json:"actor"`
	Notes       string `json:"notes,omitempty"`
}

func (a ApprovalResolved) GetType() EventType {
	return ApprovalResolvedEvent
}
