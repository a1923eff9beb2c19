package foldersync

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/arthur-debert/foldersync/pkg/foldersync/core"
)

// Journal turns operation events into the human-readable change log.
type Journal struct {
	logger zerolog.Logger
}

// NewJournal creates a journal writing to logger.
func NewJournal(logger zerolog.Logger) *Journal {
	return &Journal{logger: logger}
}

// Attach subscribes the journal to bus and returns a function that detaches it.
func (j *Journal) Attach(bus core.EventBus) func() {
	completed := bus.Subscribe(core.EventOperationCompleted, core.EventHandlerFunc(j.handleCompleted))
	failed := bus.Subscribe(core.EventOperationFailed, core.EventHandlerFunc(j.handleFailed))
	return func() {
		bus.Unsubscribe(completed)
		bus.Unsubscribe(failed)
	}
}

func (j *Journal) handleCompleted(_ context.Context, event core.Event) error {
	e, ok := event.(*core.OperationCompletedEvent)
	if !ok {
		return nil
	}
	data := e.Operation
	entry := j.logger.Info().Str("op", string(data.Operation.Type))
	if data.DryRun {
		entry = entry.Bool("dry_run", true)
	}

	switch data.Operation.Type {
	case core.OpCopyFile:
		entry.Msgf("Copied: %s -> %s", data.SourcePath, data.ReplicaPath)
	case core.OpCreateDirectory:
		entry.Msgf("Created folder: %s", data.ReplicaPath)
	case core.OpDelete:
		if data.Operation.Kind == core.KindDirectory {
			entry.Msgf("Deleted folder: %s", data.ReplicaPath)
		} else {
			entry.Msgf("Deleted file: %s", data.ReplicaPath)
		}
	default:
		entry.Msgf("Applied %s: %s", data.Operation.Type, data.ReplicaPath)
	}
	return nil
}

func (j *Journal) handleFailed(_ context.Context, event core.Event) error {
	e, ok := event.(*core.OperationFailedEvent)
	if !ok {
		return nil
	}
	data := e.Operation
	j.logger.Error().
		Str("op", string(data.Operation.Type)).
		Err(e.Error).
		Msgf("Failed to %s %s", verb(data.Operation), data.ReplicaPath)
	return nil
}

func verb(op core.Operation) string {
	switch op.Type {
	case core.OpCopyFile:
		return "copy"
	case core.OpCreateDirectory:
		return "create folder"
	case core.OpDelete:
		if op.Kind == core.KindDirectory {
			return "delete folder"
		}
		return "delete file"
	default:
		return string(op.Type)
	}
}
