package foldersync

import (
	"runtime"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

type options struct {
	clock    clockwork.Clock
	excludes []string
	workers  int
	dryRun   bool
	fs       afero.Fs
}

func defaultOptions() options {
	return options{
		clock:   clockwork.NewRealClock(),
		workers: runtime.NumCPU(),
	}
}

// Option configures a Syncer.
type Option func(*options)

// WithClock sets the clock the loop waits on. Tests pass a fake clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithExcludes sets doublestar patterns, relative to each root, that are
// neither copied nor deleted.
func WithExcludes(patterns ...string) Option {
	return func(o *options) {
		o.excludes = append(o.excludes, patterns...)
	}
}

// WithWorkers bounds how many source files are fingerprinted at once.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithDryRun plans and logs every cycle without changing the replica.
func WithDryRun(dryRun bool) Option {
	return func(o *options) {
		o.dryRun = dryRun
	}
}

// WithFs runs the syncer on fsys instead of the host filesystem. Roots are
// then taken as given, without resolving symlinks.
func WithFs(fsys afero.Fs) Option {
	return func(o *options) {
		o.fs = fsys
	}
}
