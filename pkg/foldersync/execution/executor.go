// Package execution applies planned operations to the replica tree.
package execution

import (
	"context"
	"io"
	"io/fs"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/arthur-debert/foldersync/pkg/foldersync/core"
	"github.com/arthur-debert/foldersync/pkg/foldersync/filesystem"
	"github.com/arthur-debert/foldersync/pkg/foldersync/fingerprint"
)

// DirPerm is the mode used for directories created in the replica.
const DirPerm fs.FileMode = 0o755

// Executor applies operations in order and publishes an event for each one.
type Executor struct {
	logger   zerolog.Logger
	eventBus core.EventBus
	dryRun   bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithDryRun makes the executor report operations without touching the replica.
func WithDryRun(dryRun bool) Option {
	return func(e *Executor) {
		e.dryRun = dryRun
	}
}

// WithEventBus replaces the executor's default in-memory bus.
func WithEventBus(bus core.EventBus) Option {
	return func(e *Executor) {
		if bus != nil {
			e.eventBus = bus
		}
	}
}

// NewExecutor creates a new Executor
func NewExecutor(logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		logger:   logger,
		eventBus: core.NewMemoryEventBus(logger),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EventBus returns the executor's event bus for subscription
func (e *Executor) EventBus() core.EventBus {
	return e.eventBus
}

// DryRun reports whether the executor leaves the replica untouched.
func (e *Executor) DryRun() bool {
	return e.dryRun
}

// Run applies ops to replica, reading file content from source. A failed
// operation does not stop the run. When ctx is cancelled the remaining
// operations are reported as skipped and Result.Err is set.
func (e *Executor) Run(ctx context.Context, source, replica *filesystem.Tree, ops []core.Operation) *core.Result {
	start := time.Now()
	result := &core.Result{
		Operations: make([]core.OperationResult, 0, len(ops)),
		Errors:     []error{},
		Success:    true,
	}

	e.logger.Debug().
		Int("operation_count", len(ops)).
		Bool("dry_run", e.dryRun).
		Msg("starting execution")

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			for _, rest := range ops[i:] {
				result.Operations = append(result.Operations, core.OperationResult{
					Operation: rest,
					Status:    core.StatusSkipped,
				})
			}
			result.Err = err
			result.Success = false
			e.logger.Debug().
				Int("skipped_operations", len(ops)-i).
				Msg("execution cancelled")
			break
		}

		data := core.OperationEventData{
			Operation:   op,
			SourcePath:  source.Abs(op.Path),
			ReplicaPath: replica.Abs(op.Path),
			DryRun:      e.dryRun,
		}
		e.publish(ctx, core.NewOperationStartedEvent(data))

		opStart := time.Now()
		var (
			bytes int64
			err   error
		)
		if !e.dryRun {
			bytes, err = e.apply(source, replica, op)
		}
		opDuration := time.Since(opStart)

		opResult := core.OperationResult{
			Operation: op,
			Duration:  opDuration,
			Bytes:     bytes,
		}

		if err != nil {
			opErr := &core.OperationError{Operation: op, Cause: err}
			e.logger.Debug().
				Str("op_id", string(op.ID)).
				Str("op_type", string(op.Type)).
				Str("path", op.Path).
				Err(err).
				Dur("duration", opDuration).
				Msg("operation execution failed")

			opResult.Status = core.StatusFailure
			opResult.Error = opErr
			result.Success = false
			result.Errors = append(result.Errors, opErr)
			e.publish(ctx, core.NewOperationFailedEvent(data, opErr, opDuration))
		} else {
			e.logger.Debug().
				Str("op_id", string(op.ID)).
				Str("op_type", string(op.Type)).
				Str("path", op.Path).
				Dur("duration", opDuration).
				Msg("operation execution completed successfully")

			opResult.Status = core.StatusSuccess
			e.publish(ctx, core.NewOperationCompletedEvent(data, opDuration, bytes))
		}

		result.Operations = append(result.Operations, opResult)
	}

	result.Duration = time.Since(start)

	e.logger.Debug().
		Bool("success", result.Success).
		Int("total_operations", len(ops)).
		Int("failed_operations", len(result.Errors)).
		Dur("total_duration", result.Duration).
		Msg("execution completed")

	return result
}

func (e *Executor) publish(ctx context.Context, event core.Event) {
	// delivery must not depend on the caller's cancellation
	if err := e.eventBus.Publish(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Warn().Err(err).Str("event_type", event.Type()).Msg("failed to publish event")
	}
}

func (e *Executor) apply(source, replica *filesystem.Tree, op core.Operation) (int64, error) {
	switch op.Type {
	case core.OpDelete:
		return 0, deleteEntry(replica, op)
	case core.OpCreateDirectory:
		return 0, replica.MkdirAll(op.Path, DirPerm)
	case core.OpCopyFile:
		return copyFile(source, replica, op.Path)
	default:
		return 0, errors.Errorf("unknown operation type %q", op.Type)
	}
}

func deleteEntry(replica *filesystem.Tree, op core.Operation) error {
	var err error
	if op.Kind == core.KindDirectory {
		err = replica.RemoveAll(op.Path)
	} else {
		err = replica.Remove(op.Path)
	}
	if err != nil && filesystem.IsMissing(err) {
		// already gone
		return nil
	}
	return err
}

// copyFile streams the source file over the replica path and carries over
// the permission bits and modification time.
func copyFile(source, replica *filesystem.Tree, name string) (int64, error) {
	info, err := source.Stat(name)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, errors.Errorf("source %s is not a regular file", name)
	}

	in, err := source.Open(name)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = in.Close()
	}()

	if err := replica.MkdirAll(filesystem.Parent(name), DirPerm); err != nil {
		return 0, err
	}

	perm := info.Mode().Perm()
	out, err := replica.Create(name, perm)
	if err != nil && errors.Is(err, fs.ErrPermission) {
		// read-only replica file, replace it
		if rmErr := replica.Remove(name); rmErr == nil {
			out, err = replica.Create(name, perm)
		}
	}
	if err != nil {
		return 0, err
	}

	n, err := io.CopyBuffer(out, in, make([]byte, fingerprint.ChunkSize))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, err
	}

	if err := replica.Chmod(name, perm); err != nil {
		return n, err
	}
	if err := replica.Chtimes(name, info.ModTime(), info.ModTime()); err != nil {
		return n, err
	}
	return n, nil
}
