// Package filesystem provides a rooted view over an afero filesystem. All
// names handed to a Tree are slash separated and relative to its root.
package filesystem

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"

	"github.com/arthur-debert/foldersync/pkg/foldersync/core"
)

// Tree is a directory tree rooted at an absolute path on an afero filesystem.
type Tree struct {
	fs       afero.Fs
	root     string
	excludes []string
}

// NewTree creates a Tree rooted at root. Exclude patterns use doublestar
// syntax and are matched against relative slash-separated paths.
func NewTree(fsys afero.Fs, root string, excludes ...string) (*Tree, error) {
	if root == "" {
		return nil, errors.New("tree root is empty")
	}
	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	return &Tree{
		fs:       fsys,
		root:     filepath.Clean(root),
		excludes: excludes,
	}, nil
}

// NewOSTree creates a Tree on the host filesystem.
func NewOSTree(root string, excludes ...string) (*Tree, error) {
	return NewTree(afero.NewOsFs(), root, excludes...)
}

// Root returns the host path of the tree root.
func (t *Tree) Root() string {
	return t.root
}

// Fs returns the underlying filesystem.
func (t *Tree) Fs() afero.Fs {
	return t.fs
}

// Abs returns the host path for a relative name.
func (t *Tree) Abs(name string) string {
	if name == "" || name == "." {
		return t.root
	}
	return filepath.Join(t.root, filepath.FromSlash(name))
}

// Rel converts a host path below the root into a relative slash-separated name.
func (t *Tree) Rel(hostPath string) (string, error) {
	rel, err := filepath.Rel(t.root, hostPath)
	if err != nil {
		return "", errors.Errorf("relative path of %s: %w", hostPath, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errors.Errorf("%s is outside %s", hostPath, t.root)
	}
	return rel, nil
}

// Excluded reports whether name matches one of the tree's exclude patterns.
func (t *Tree) Excluded(name string) bool {
	for _, pattern := range t.excludes {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// CheckRoot verifies that the root exists and is a directory.
func (t *Tree) CheckRoot() error {
	info, err := t.fs.Stat(t.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "stat", Path: t.root, Err: syscall.ENOTDIR}
	}
	return nil
}

func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}

// IsMissing reports whether err means the entry does not exist, including the
// case where an ancestor is not a directory.
func IsMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || isNotDir(err)
}

// validName accepts "." and unrooted slash-separated names without empty, "."
// or ".." elements. Unlike fs.ValidPath it allows any bytes, since host
// filenames need not be UTF-8.
func validName(name string) bool {
	if name == "." {
		return true
	}
	if name == "" || strings.HasPrefix(name, "/") {
		return false
	}
	for _, elem := range strings.Split(name, "/") {
		if elem == "" || elem == "." || elem == ".." {
			return false
		}
	}
	return true
}

// Stat follows symlinks.
func (t *Tree) Stat(name string) (fs.FileInfo, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	return t.fs.Stat(t.Abs(name))
}

// Lstat does not follow symlinks when the underlying filesystem supports it.
func (t *Tree) Lstat(name string) (fs.FileInfo, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: fs.ErrInvalid}
	}
	if lstater, ok := t.fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(t.Abs(name))
		return info, err
	}
	return t.fs.Stat(t.Abs(name))
}

// KindOf returns the kind of the entry at name, following symlinks. A missing
// entry (or a dangling link, or a special file) is KindUnknown with no error.
func (t *Tree) KindOf(name string) (core.Kind, error) {
	info, err := t.Stat(name)
	if err != nil {
		if IsMissing(err) {
			return core.KindUnknown, nil
		}
		return core.KindUnknown, err
	}
	return KindOfInfo(info), nil
}

// KindOfInfo maps file info to a Kind.
func KindOfInfo(info fs.FileInfo) core.Kind {
	switch {
	case info.IsDir():
		return core.KindDirectory
	case info.Mode().IsRegular():
		return core.KindFile
	default:
		return core.KindUnknown
	}
}

// WalkFunc is called for every entry below the root with its relative name.
type WalkFunc func(name string, info fs.FileInfo, err error) error

// Walk visits every entry below the root, skipping excluded paths and their
// subtrees. The root itself is not reported. Symlinked directories are
// reported but not descended.
func (t *Tree) Walk(fn WalkFunc) error {
	return afero.Walk(t.fs, t.root, func(hostPath string, info os.FileInfo, err error) error {
		if hostPath == t.root {
			// a broken root is the caller's problem, surface it as is
			return err
		}
		name, relErr := t.Rel(hostPath)
		if relErr != nil {
			return relErr
		}
		if t.Excluded(name) {
			if err == nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return fn(name, info, err)
	})
}

// WalkLinks is Walk in name order that also descends symlinked directories.
// fn sees link entries unresolved. A linked directory that resolves to one of
// its own ancestors is reported with an error wrapping core.ErrLinkCycle, and
// a directory that is the same file as one in avoid with an error wrapping
// core.ErrOverlappingRoots. Neither is descended.
func (t *Tree) WalkLinks(fn WalkFunc, avoid ...fs.FileInfo) error {
	rootInfo, err := t.fs.Stat(t.root)
	if err != nil {
		return err
	}
	return t.walkLinks(".", []fs.FileInfo{rootInfo}, avoid, fn)
}

func (t *Tree) walkLinks(dir string, chain, avoid []fs.FileInfo, fn WalkFunc) error {
	infos, err := afero.ReadDir(t.fs, t.Abs(dir))
	if err != nil {
		if dir == "." {
			return err
		}
		return fn(dir, chain[len(chain)-1], err)
	}

	for _, info := range infos {
		name := path.Join(dir, info.Name())
		if t.Excluded(name) {
			continue
		}

		target := info
		if info.Mode()&fs.ModeSymlink != 0 {
			if resolved, statErr := t.fs.Stat(t.Abs(name)); statErr == nil && resolved.IsDir() {
				target = resolved
			}
		}

		var walkErr error
		switch {
		case !target.IsDir():
		case onChain(chain, target):
			walkErr = core.ErrLinkCycle
		case onChain(avoid, target):
			walkErr = core.ErrOverlappingRoots
		}
		if walkErr != nil {
			if err := fn(name, info, &fs.PathError{Op: "walk", Path: name, Err: walkErr}); err != nil {
				return err
			}
			continue
		}

		if err := fn(name, info, nil); err != nil {
			if errors.Is(err, filepath.SkipDir) {
				continue
			}
			return err
		}
		if !target.IsDir() {
			continue
		}
		if err := t.walkLinks(name, append(chain[:len(chain):len(chain)], target), avoid, fn); err != nil {
			return err
		}
	}
	return nil
}

func onChain(chain []fs.FileInfo, info fs.FileInfo) bool {
	for _, ancestor := range chain {
		if os.SameFile(ancestor, info) {
			return true
		}
	}
	return false
}

// Open opens the named file for reading.
func (t *Tree) Open(name string) (afero.File, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	return t.fs.Open(t.Abs(name))
}

// Create creates or truncates the named file.
func (t *Tree) Create(name string, perm fs.FileMode) (afero.File, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "create", Path: name, Err: fs.ErrInvalid}
	}
	return t.fs.OpenFile(t.Abs(name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
}

// MkdirAll creates the named directory and any missing ancestors.
func (t *Tree) MkdirAll(name string, perm fs.FileMode) error {
	if !validName(name) {
		return &fs.PathError{Op: "mkdirall", Path: name, Err: fs.ErrInvalid}
	}
	return t.fs.MkdirAll(t.Abs(name), perm)
}

// Remove removes a single file or empty directory.
func (t *Tree) Remove(name string) error {
	if !validName(name) || name == "." {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrInvalid}
	}
	return t.fs.Remove(t.Abs(name))
}

// RemoveAll removes name and everything beneath it.
func (t *Tree) RemoveAll(name string) error {
	if !validName(name) || name == "." {
		return &fs.PathError{Op: "removeall", Path: name, Err: fs.ErrInvalid}
	}
	return t.fs.RemoveAll(t.Abs(name))
}

// Chmod changes the mode of the named file.
func (t *Tree) Chmod(name string, mode fs.FileMode) error {
	if !validName(name) {
		return &fs.PathError{Op: "chmod", Path: name, Err: fs.ErrInvalid}
	}
	return t.fs.Chmod(t.Abs(name), mode)
}

// Chtimes changes the access and modification times of the named file.
func (t *Tree) Chtimes(name string, atime, mtime time.Time) error {
	if !validName(name) {
		return &fs.PathError{Op: "chtimes", Path: name, Err: fs.ErrInvalid}
	}
	return t.fs.Chtimes(t.Abs(name), atime, mtime)
}

// Parent returns the relative parent of name, "." for top-level entries.
func Parent(name string) string {
	return path.Dir(name)
}

// IsBelow reports whether name lies strictly beneath dir.
func IsBelow(name, dir string) bool {
	if dir == "." {
		return name != "."
	}
	return strings.HasPrefix(name, dir+"/")
}
