// Package foldersync keeps a replica directory an exact one-way mirror of a
// source directory, re-checking on a fixed interval.
//
// Each cycle snapshots the source, plans the operations that bring the replica
// in line, and applies them in dependency order. Every applied change is
// written to the injected logger.
package foldersync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"

	"github.com/arthur-debert/foldersync/pkg/foldersync/core"
	"github.com/arthur-debert/foldersync/pkg/foldersync/execution"
	"github.com/arthur-debert/foldersync/pkg/foldersync/filesystem"
	"github.com/arthur-debert/foldersync/pkg/foldersync/plan"
	"github.com/arthur-debert/foldersync/pkg/foldersync/snapshot"
)

// Syncer mirrors a source tree into a replica tree.
type Syncer struct {
	source   *filesystem.Tree
	replica  *filesystem.Tree
	interval time.Duration
	logger   zerolog.Logger
	clock    clockwork.Clock
	workers  int
	dryRun   bool
	executor *execution.Executor
}

// CycleReport summarises one cycle.
type CycleReport struct {
	Copied   int
	Created  int
	Deleted  int
	Failed   int
	Skipped  int // operations not attempted because the cycle was cancelled
	Warnings int // entries left out of the plan
	Bytes    int64
	Duration time.Duration
	Result   *core.Result
}

// Changes returns the number of operations applied successfully.
func (r *CycleReport) Changes() int {
	return r.Copied + r.Created + r.Deleted
}

// New creates a Syncer. Both roots are made absolute; on the host filesystem
// symlinks in them are resolved. The interval must be positive and neither
// root may contain the other.
func New(source, replica string, interval time.Duration, logger zerolog.Logger, opts ...Option) (*Syncer, error) {
	if interval <= 0 {
		return nil, errors.Errorf("%w: %s", core.ErrInvalidInterval, interval)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	fsys := o.fs
	onHost := fsys == nil
	if onHost {
		fsys = afero.NewOsFs()
	}

	sourceRoot, err := resolveRoot(source, onHost)
	if err != nil {
		return nil, errors.Errorf("source %s: %w", source, err)
	}
	replicaRoot, err := resolveRoot(replica, onHost)
	if err != nil {
		return nil, errors.Errorf("replica %s: %w", replica, err)
	}
	if within(sourceRoot, replicaRoot) || within(replicaRoot, sourceRoot) {
		return nil, errors.Errorf("%w: %s and %s", core.ErrOverlappingRoots, sourceRoot, replicaRoot)
	}

	sourceTree, err := filesystem.NewTree(fsys, sourceRoot, o.excludes...)
	if err != nil {
		return nil, err
	}
	replicaTree, err := filesystem.NewTree(fsys, replicaRoot, o.excludes...)
	if err != nil {
		return nil, err
	}

	executor := execution.NewExecutor(logger, execution.WithDryRun(o.dryRun))
	NewJournal(logger).Attach(executor.EventBus())

	return &Syncer{
		source:   sourceTree,
		replica:  replicaTree,
		interval: interval,
		logger:   logger,
		clock:    o.clock,
		workers:  o.workers,
		dryRun:   o.dryRun,
		executor: executor,
	}, nil
}

// Source returns the absolute source root.
func (s *Syncer) Source() string {
	return s.source.Root()
}

// Replica returns the absolute replica root.
func (s *Syncer) Replica() string {
	return s.replica.Root()
}

// Interval returns the wait between cycles.
func (s *Syncer) Interval() time.Duration {
	return s.interval
}

// EventBus exposes the operation events of every cycle.
func (s *Syncer) EventBus() core.EventBus {
	return s.executor.EventBus()
}

// Run performs a cycle immediately and then one every interval until ctx is
// cancelled, which returns nil. A cycle-level failure stops the loop and is
// returned.
func (s *Syncer) Run(ctx context.Context) error {
	s.logger.Info().
		Str("source", s.source.Root()).
		Str("replica", s.replica.Root()).
		Dur("interval", s.interval).
		Bool("dry_run", s.dryRun).
		Msg("Starting sync")

	for {
		if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			return err
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Stopping sync")
			return nil
		case <-s.clock.After(s.interval):
		}
	}
}

// RunCycle brings the replica in line with the source once.
func (s *Syncer) RunCycle(ctx context.Context) (*CycleReport, error) {
	start := s.clock.Now()

	replica, err := s.prepareReplica()
	if err != nil {
		return nil, err
	}

	snapOpts := []snapshot.Option{
		snapshot.WithConcurrency(s.workers),
		snapshot.WithLogger(s.logger),
	}
	if info, err := replica.Fs().Stat(replica.Root()); err == nil {
		// a source link into the replica would grow it every cycle
		snapOpts = append(snapOpts, snapshot.WithAvoid(info))
	}
	snap, err := snapshot.Take(ctx, s.source, snapOpts...)
	if err != nil {
		return nil, err
	}

	queue, err := plan.NewPlanner(s.source, replica, s.logger).Plan(ctx, snap)
	if err != nil {
		return nil, err
	}

	result := s.executor.Run(ctx, s.source, replica, queue.Operations())

	report := &CycleReport{
		Copied:   result.Count(core.OpCopyFile, core.StatusSuccess),
		Created:  result.Count(core.OpCreateDirectory, core.StatusSuccess),
		Deleted:  result.Count(core.OpDelete, core.StatusSuccess),
		Failed:   len(result.Errors),
		Warnings: len(snap.Skipped()) + len(queue.Warnings()),
		Bytes:    result.BytesCopied(),
		Duration: s.clock.Now().Sub(start),
		Result:   result,
	}
	for _, res := range result.Operations {
		if res.Status == core.StatusSkipped {
			report.Skipped++
		}
	}

	s.logReport(report)

	if result.Err != nil {
		return report, result.Err
	}
	return report, nil
}

func (s *Syncer) logReport(r *CycleReport) {
	event := s.logger.Debug()
	if r.Changes() > 0 || r.Failed > 0 || r.Warnings > 0 {
		event = s.logger.Info()
	}
	event.
		Int("copied", r.Copied).
		Int("created", r.Created).
		Int("deleted", r.Deleted).
		Int("failed", r.Failed).
		Int("warnings", r.Warnings).
		Str("bytes", humanize.Bytes(uint64(r.Bytes))).
		Dur("duration", r.Duration).
		Msg("Cycle complete")
}

// prepareReplica makes sure the replica root exists. In dry-run mode nothing
// is created; a missing root is planned against as an empty tree.
func (s *Syncer) prepareReplica() (*filesystem.Tree, error) {
	if !s.dryRun {
		if err := s.replica.MkdirAll(".", execution.DirPerm); err != nil {
			return nil, errors.Errorf("%w: create %s: %w", core.ErrReplicaRoot, s.replica.Root(), err)
		}
		return s.replica, nil
	}

	err := s.replica.CheckRoot()
	if err == nil {
		return s.replica, nil
	}
	if !filesystem.IsMissing(err) {
		return nil, errors.Errorf("%w: %s: %w", core.ErrReplicaRoot, s.replica.Root(), err)
	}
	empty := afero.NewMemMapFs()
	if err := empty.MkdirAll(s.replica.Root(), execution.DirPerm); err != nil {
		return nil, err
	}
	return filesystem.NewTree(empty, s.replica.Root())
}

// resolveRoot returns the absolute form of root. On the host, symlinks are
// resolved for the longest existing prefix so overlap checks see real paths.
func resolveRoot(root string, followLinks bool) (string, error) {
	if root == "" {
		return "", errors.New("path is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if !followLinks {
		return abs, nil
	}
	return evalExisting(abs)
}

func evalExisting(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	parent := filepath.Dir(p)
	if parent == p {
		return p, nil
	}
	resolvedParent, err := evalExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(p)), nil
}

// within reports whether p equals dir or lies beneath it.
func within(p, dir string) bool {
	if p == dir {
		return true
	}
	prefix := dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}
