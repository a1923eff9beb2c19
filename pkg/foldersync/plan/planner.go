// Package plan computes the operations that turn a replica tree into a mirror
// of a source snapshot.
package plan

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/arthur-debert/foldersync/pkg/foldersync/core"
	"github.com/arthur-debert/foldersync/pkg/foldersync/filesystem"
	"github.com/arthur-debert/foldersync/pkg/foldersync/fingerprint"
	"github.com/arthur-debert/foldersync/pkg/foldersync/snapshot"
)

// Planner diffs a source snapshot against the live replica tree.
type Planner struct {
	source  *filesystem.Tree
	replica *filesystem.Tree
	logger  zerolog.Logger
}

// NewPlanner creates a planner for the given pair of trees.
func NewPlanner(source, replica *filesystem.Tree, logger zerolog.Logger) *Planner {
	return &Planner{
		source:  source,
		replica: replica,
		logger:  logger,
	}
}

// replicaEntry is what the replica holds at a path, without following links.
type replicaEntry struct {
	exists bool
	kind   core.Kind // KindUnknown for links and special files
	isDir  bool
}

func (e replicaEntry) deleteKind() core.Kind {
	if e.isDir {
		return core.KindDirectory
	}
	return core.KindFile
}

func replicaEntryOf(info fs.FileInfo) replicaEntry {
	if info.Mode()&fs.ModeSymlink != 0 {
		return replicaEntry{exists: true, kind: core.KindUnknown}
	}
	return replicaEntry{
		exists: true,
		kind:   filesystem.KindOfInfo(info),
		isDir:  info.IsDir(),
	}
}

// Plan returns the resolved queue of operations for one cycle.
//
// The deletion pass walks the live replica and checks every entry against the
// live source. The creation pass walks the snapshot and compares each entry to
// the replica, recomputing replica fingerprints. Entries that cannot be
// inspected are left out of the plan and listed in Queue.Warnings.
func (p *Planner) Plan(ctx context.Context, snap *snapshot.Snapshot) (*Queue, error) {
	queue := NewQueue()
	deleted := make(map[string]bool)

	if err := p.planDeletions(ctx, queue, deleted); err != nil {
		return nil, err
	}
	if err := p.planCreations(ctx, snap, queue, deleted); err != nil {
		return nil, err
	}

	if err := queue.Resolve(); err != nil {
		return nil, errors.Errorf("resolve plan: %w", err)
	}

	p.logger.Debug().
		Int("operations", queue.Len()).
		Int("warnings", len(queue.warnings)).
		Msg("plan computed")

	return queue, nil
}

func (p *Planner) planDeletions(ctx context.Context, queue *Queue, deleted map[string]bool) error {
	err := p.replica.Walk(func(name string, info fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			p.warn(queue, name, err, "cannot read replica entry, left alone this cycle")
			return nil
		}

		entry := replicaEntryOf(info)
		sourceKind, statErr := p.source.KindOf(name)
		if statErr != nil {
			p.warn(queue, name, statErr, "cannot stat source entry, replica entry kept")
			if entry.isDir {
				return filepath.SkipDir
			}
			return nil
		}
		if sourceKind != core.KindUnknown && sourceKind == entry.kind {
			return nil
		}

		if err := queue.Add(core.NewDelete(name, entry.deleteKind())); err != nil {
			return err
		}
		deleted[name] = true
		if entry.isDir {
			// recursive delete covers the subtree
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.Errorf("%w: walk %s: %w", core.ErrReplicaRoot, p.replica.Root(), err)
	}
	return nil
}

func (p *Planner) planCreations(ctx context.Context, snap *snapshot.Snapshot, queue *Queue, deleted map[string]bool) error {
	for _, src := range snap.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.replica.Excluded(src.Path) {
			continue
		}

		dst := replicaEntry{}
		if !isDeleted(deleted, src.Path) {
			var err error
			dst, err = p.inspectReplica(src.Path)
			if err != nil {
				p.warn(queue, src.Path, err, "cannot stat replica entry, skipped this cycle")
				continue
			}
		}

		if dst.exists && dst.kind != src.Kind {
			// source changed kind after the deletion pass looked
			if err := queue.Add(core.NewDelete(src.Path, dst.deleteKind())); err != nil {
				return err
			}
			deleted[src.Path] = true
			dst = replicaEntry{}
		}

		switch src.Kind {
		case core.KindDirectory:
			if !dst.exists {
				if err := queue.Add(core.NewCreateDirectory(src.Path)); err != nil {
					return err
				}
			}
		case core.KindFile:
			if dst.exists {
				rec, err := fingerprint.Compute(p.replica.Fs(), p.replica.Abs(src.Path))
				if err != nil {
					p.warn(queue, src.Path, err, "cannot fingerprint replica file, skipped this cycle")
					continue
				}
				if rec.Fingerprint == src.Fingerprint {
					continue
				}
			}
			if err := queue.Add(core.NewCopyFile(src.Path)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Planner) inspectReplica(name string) (replicaEntry, error) {
	info, err := p.replica.Lstat(name)
	if err != nil {
		if filesystem.IsMissing(err) {
			return replicaEntry{}, nil
		}
		return replicaEntry{}, err
	}
	return replicaEntryOf(info), nil
}

func (p *Planner) warn(queue *Queue, name string, err error, msg string) {
	p.logger.Warn().Str("path", name).Err(err).Msg(msg)
	queue.warnings = append(queue.warnings, &core.EntryError{Path: name, Cause: err})
}

// isDeleted reports whether name or one of its ancestors is scheduled for
// deletion.
func isDeleted(deleted map[string]bool, name string) bool {
	for p := name; p != "." && p != "/"; p = path.Dir(p) {
		if deleted[p] {
			return true
		}
	}
	return false
}
