// Package snapshot walks a tree and records every entry with its kind and
// content fingerprint.
package snapshot

import (
	"context"
	"io/fs"
	"runtime"
	"sort"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/arthur-debert/foldersync/pkg/foldersync/core"
	"github.com/arthur-debert/foldersync/pkg/foldersync/filesystem"
	"github.com/arthur-debert/foldersync/pkg/foldersync/fingerprint"
)

// Snapshot is an immutable point-in-time view of a tree.
type Snapshot struct {
	root    string
	entries map[string]core.Entry
	skipped []*core.EntryError
}

// New builds a snapshot from a list of entries. Later duplicates win.
func New(root string, entries ...core.Entry) *Snapshot {
	s := &Snapshot{
		root:    root,
		entries: make(map[string]core.Entry, len(entries)),
	}
	for _, e := range entries {
		s.entries[e.Path] = e
	}
	return s
}

// Root returns the host path the snapshot was taken from.
func (s *Snapshot) Root() string {
	return s.root
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Get returns the entry at path.
func (s *Snapshot) Get(path string) (core.Entry, bool) {
	e, ok := s.entries[path]
	return e, ok
}

// Entries returns all entries sorted by path, so parents precede children.
func (s *Snapshot) Entries() []core.Entry {
	out := make([]core.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Skipped returns the files left out because they could not be fingerprinted.
func (s *Snapshot) Skipped() []*core.EntryError {
	return append([]*core.EntryError(nil), s.skipped...)
}

// Size sums the sizes of all file entries.
func (s *Snapshot) Size() int64 {
	var total int64
	for _, e := range s.entries {
		total += e.Size
	}
	return total
}

type options struct {
	concurrency int
	logger      zerolog.Logger
	avoid       []fs.FileInfo
}

// Option configures Take.
type Option func(*options)

// WithConcurrency bounds the number of files hashed at once.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLogger sets the logger used for skipped entries.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithAvoid keeps the walk out of the given directories when a symlink leads
// into them, typically the replica root.
func WithAvoid(dirs ...fs.FileInfo) Option {
	return func(o *options) {
		o.avoid = append(o.avoid, dirs...)
	}
}

type pendingFile struct {
	path string
	size int64
}

// Take walks tree and fingerprints every file. Symlinks are followed, so a
// linked directory is recorded with its content. Entries that vanish during
// the walk are omitted. Unreadable files and linked directories leading back
// to an ancestor or into an avoided directory are omitted too and listed in
// Skipped. Only an unusable root fails the whole snapshot.
func Take(ctx context.Context, tree *filesystem.Tree, opts ...Option) (*Snapshot, error) {
	o := options{
		concurrency: runtime.NumCPU(),
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := tree.CheckRoot(); err != nil {
		return nil, errors.Errorf("%w: %s: %w", core.ErrSourceRoot, tree.Root(), err)
	}

	snap := New(tree.Root())
	var pending []pendingFile

	err := tree.WalkLinks(func(name string, info fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, core.ErrLinkCycle) || errors.Is(err, core.ErrOverlappingRoots) {
			o.logger.Warn().Str("path", name).Err(err).Msg("linked directory not followed, skipped this cycle")
			snap.skipped = append(snap.skipped, &core.EntryError{Path: name, Cause: err})
			return nil
		}
		if err != nil {
			o.logger.Debug().Str("path", name).Err(err).Msg("entry unreadable during walk, omitted")
			return nil
		}

		if info.Mode()&fs.ModeSymlink != 0 {
			resolved, statErr := tree.Stat(name)
			if statErr != nil {
				o.logger.Debug().Str("path", name).Err(statErr).Msg("dangling link omitted")
				return nil
			}
			info = resolved
		}

		switch filesystem.KindOfInfo(info) {
		case core.KindDirectory:
			snap.entries[name] = core.Entry{Path: name, Kind: core.KindDirectory}
		case core.KindFile:
			pending = append(pending, pendingFile{path: name, size: info.Size()})
		default:
			o.logger.Debug().Str("path", name).Str("mode", info.Mode().String()).Msg("special file omitted")
		}
		return nil
	}, o.avoid...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Errorf("%w: walk %s: %w", core.ErrSourceRoot, tree.Root(), err)
	}

	records := make([]fingerprint.Record, len(pending))
	failures := make([]error, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, f := range pending {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := fingerprint.Compute(tree.Fs(), tree.Abs(f.path))
			if err != nil {
				// entry-level, recorded below
				failures[i] = err
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, f := range pending {
		if failures[i] != nil {
			if errors.Is(failures[i], fs.ErrNotExist) {
				// removed between walk and hash
				continue
			}
			o.logger.Warn().Str("path", f.path).Err(failures[i]).Msg("cannot fingerprint file, skipped this cycle")
			snap.skipped = append(snap.skipped, &core.EntryError{Path: f.path, Cause: failures[i]})
			continue
		}
		snap.entries[f.path] = core.Entry{
			Path:        f.path,
			Kind:        core.KindFile,
			Fingerprint: records[i].Fingerprint,
			Size:        records[i].Size,
		}
	}

	o.logger.Debug().
		Str("root", tree.Root()).
		Int("entries", snap.Len()).
		Int("skipped", len(snap.skipped)).
		Msg("snapshot taken")

	return snap, nil
}
