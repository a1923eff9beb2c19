// Package testutil builds source and replica trees for tests and checks that
// one mirrors the other.
package testutil

import (
	"io/fs"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/foldersync/pkg/foldersync/filesystem"
	"github.com/arthur-debert/foldersync/pkg/foldersync/fingerprint"
)

// TreeHelper provides utilities for building and inspecting one tree.
type TreeHelper struct {
	t    *testing.T
	fs   afero.Fs
	root string
}

// NewTreeHelper creates a helper for the tree at root on fsys and makes sure
// the root exists.
func NewTreeHelper(t *testing.T, fsys afero.Fs, root string) *TreeHelper {
	t.Helper()
	require.NoError(t, fsys.MkdirAll(root, 0o755))
	return &TreeHelper{t: t, fs: fsys, root: root}
}

// NewMemTrees returns a source and a replica helper sharing one in-memory
// filesystem, rooted at /source and /replica.
func NewMemTrees(t *testing.T) (*TreeHelper, *TreeHelper) {
	t.Helper()
	mfs := afero.NewMemMapFs()
	return NewTreeHelper(t, mfs, "/source"), NewTreeHelper(t, mfs, "/replica")
}

// NewRealTrees returns a source and a replica helper in fresh temporary
// directories on the host. Skipped on Windows.
func NewRealTrees(t *testing.T) (*TreeHelper, *TreeHelper) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("real filesystem tests run on unix only")
	}
	osfs := afero.NewOsFs()
	base := t.TempDir()
	return NewTreeHelper(t, osfs, filepath.Join(base, "source")), NewTreeHelper(t, osfs, filepath.Join(base, "replica"))
}

// Fs returns the filesystem the tree lives on.
func (h *TreeHelper) Fs() afero.Fs {
	return h.fs
}

// Root returns the host path of the tree root.
func (h *TreeHelper) Root() string {
	return h.root
}

// Path returns the host path of a relative slash-separated name.
func (h *TreeHelper) Path(name string) string {
	return filepath.Join(h.root, filepath.FromSlash(name))
}

// Tree returns a filesystem.Tree over the helper's root.
func (h *TreeHelper) Tree(excludes ...string) *filesystem.Tree {
	h.t.Helper()
	tree, err := filesystem.NewTree(h.fs, h.root, excludes...)
	require.NoError(h.t, err)
	return tree
}

// WriteFile writes content to name, creating parent directories.
func (h *TreeHelper) WriteFile(name, content string) {
	h.t.Helper()
	p := h.Path(name)
	require.NoError(h.t, h.fs.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(h.t, afero.WriteFile(h.fs, p, []byte(content), 0o644))
}

// Mkdir creates the directory name and its parents.
func (h *TreeHelper) Mkdir(name string) {
	h.t.Helper()
	require.NoError(h.t, h.fs.MkdirAll(h.Path(name), 0o755))
}

// Remove deletes name and everything beneath it.
func (h *TreeHelper) Remove(name string) {
	h.t.Helper()
	require.NoError(h.t, h.fs.RemoveAll(h.Path(name)))
}

// ReadFile returns the content of name.
func (h *TreeHelper) ReadFile(name string) string {
	h.t.Helper()
	content, err := afero.ReadFile(h.fs, h.Path(name))
	require.NoError(h.t, err)
	return string(content)
}

// Exists reports whether name is present.
func (h *TreeHelper) Exists(name string) bool {
	_, err := h.fs.Stat(h.Path(name))
	return err == nil
}

// Listing maps every path below the root to "dir/" for directories and to
// the content fingerprint for files. Symlinks are followed.
func (h *TreeHelper) Listing() map[string]string {
	h.t.Helper()
	tree := h.Tree()
	listing := make(map[string]string)
	err := tree.WalkLinks(func(name string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			if info, err = tree.Stat(name); err != nil {
				return err
			}
		}
		if info.IsDir() {
			listing[name] = "dir/"
			return nil
		}
		rec, err := fingerprint.Compute(h.fs, tree.Abs(name))
		if err != nil {
			return err
		}
		listing[name] = string(rec.Fingerprint)
		return nil
	})
	require.NoError(h.t, err)
	return listing
}

// AssertMirror checks that replica holds exactly the paths of source, with
// identical file content.
func AssertMirror(t *testing.T, source, replica *TreeHelper) bool {
	t.Helper()
	return assert.Equal(t, source.Listing(), replica.Listing(), "replica does not mirror source")
}
