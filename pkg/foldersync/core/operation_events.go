package core

import (
	"time"
)

// Operation event types
const (
	EventOperationStarted   = "operation.started"
	EventOperationCompleted = "operation.completed"
	EventOperationFailed    = "operation.failed"
)

// OperationEventData contains common data for operation events. SourcePath
// and ReplicaPath are absolute paths on the host.
type OperationEventData struct {
	Operation   Operation
	SourcePath  string
	ReplicaPath string
	DryRun      bool
}

// OperationStartedEvent is emitted when an operation begins execution
type OperationStartedEvent struct {
	*BaseEvent
	Operation OperationEventData
}

// NewOperationStartedEvent creates a new operation started event
func NewOperationStartedEvent(data OperationEventData) *OperationStartedEvent {
	return &OperationStartedEvent{
		BaseEvent: NewBaseEvent(EventOperationStarted, data),
		Operation: data,
	}
}

// OperationCompletedEvent is emitted when an operation completes successfully
type OperationCompletedEvent struct {
	*BaseEvent
	Operation OperationEventData
	Duration  time.Duration
	Bytes     int64
}

// NewOperationCompletedEvent creates a new operation completed event
func NewOperationCompletedEvent(data OperationEventData, duration time.Duration, bytes int64) *OperationCompletedEvent {
	return &OperationCompletedEvent{
		BaseEvent: NewBaseEvent(EventOperationCompleted, data),
		Operation: data,
		Duration:  duration,
		Bytes:     bytes,
	}
}

// OperationFailedEvent is emitted when an operation fails
type OperationFailedEvent struct {
	*BaseEvent
	Operation OperationEventData
	Error     error
	Duration  time.Duration
}

// NewOperationFailedEvent creates a new operation failed event
func NewOperationFailedEvent(data OperationEventData, err error, duration time.Duration) *OperationFailedEvent {
	return &OperationFailedEvent{
		BaseEvent: NewBaseEvent(EventOperationFailed, data),
		Operation: data,
		Error:     err,
		Duration:  duration,
	}
}
