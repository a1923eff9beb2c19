package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/foldersync/pkg/foldersync/core"
	"github.com/arthur-debert/foldersync/pkg/foldersync/filesystem"
	"github.com/arthur-debert/foldersync/pkg/foldersync/fingerprint"
)

func memTree(t *testing.T, files map[string]string, dirs ...string) *filesystem.Tree {
	t.Helper()
	mfs := afero.NewMemMapFs()
	require.NoError(t, mfs.MkdirAll("/src", 0o755))
	for _, d := range dirs {
		require.NoError(t, mfs.MkdirAll(filepath.Join("/src", d), 0o755))
	}
	for name, content := range files {
		require.NoError(t, mfs.MkdirAll(filepath.Dir(filepath.Join("/src", name)), 0o755))
		require.NoError(t, afero.WriteFile(mfs, filepath.Join("/src", name), []byte(content), 0o644))
	}
	tree, err := filesystem.NewTree(mfs, "/src")
	require.NoError(t, err)
	return tree
}

func fp(t *testing.T, content string) core.Fingerprint {
	t.Helper()
	rec, err := fingerprint.Reader(strings.NewReader(content))
	require.NoError(t, err)
	return rec.Fingerprint
}

func TestTake(t *testing.T) {
	tree := memTree(t, map[string]string{
		"a.txt":     "X",
		"sub/b.txt": "Y",
	}, "empty")

	snap, err := Take(context.Background(), tree, WithConcurrency(2))
	require.NoError(t, err)

	assert.Equal(t, []core.Entry{
		{Path: "a.txt", Kind: core.KindFile, Fingerprint: fp(t, "X"), Size: 1},
		{Path: "empty", Kind: core.KindDirectory},
		{Path: "sub", Kind: core.KindDirectory},
		{Path: "sub/b.txt", Kind: core.KindFile, Fingerprint: fp(t, "Y"), Size: 1},
	}, snap.Entries())
	assert.Empty(t, snap.Skipped())
	assert.Equal(t, int64(2), snap.Size())
	assert.Equal(t, "/src", filepath.ToSlash(snap.Root()))

	e, ok := snap.Get("sub")
	require.True(t, ok)
	assert.True(t, e.IsDir())
	assert.True(t, e.Fingerprint.IsZero())
}

func TestTakeIsFreshEachTime(t *testing.T) {
	tree := memTree(t, map[string]string{"a.txt": "X"})

	first, err := Take(context.Background(), tree)
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(tree.Fs(), tree.Abs("a.txt"), []byte("Z"), 0o644))
	second, err := Take(context.Background(), tree)
	require.NoError(t, err)

	a1, _ := first.Get("a.txt")
	a2, _ := second.Get("a.txt")
	assert.Equal(t, fp(t, "X"), a1.Fingerprint)
	assert.Equal(t, fp(t, "Z"), a2.Fingerprint)
}

func TestTakeRespectsExcludes(t *testing.T) {
	mfs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mfs, "/src/keep.txt", []byte("k"), 0o644))
	require.NoError(t, afero.WriteFile(mfs, "/src/cache/x.bin", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(mfs, "/src/notes.tmp", []byte("t"), 0o644))
	tree, err := filesystem.NewTree(mfs, "/src", "cache", "**/*.tmp")
	require.NoError(t, err)

	snap, err := Take(context.Background(), tree)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Len())
	_, ok := snap.Get("keep.txt")
	assert.True(t, ok)
}

func TestTakeMissingRoot(t *testing.T) {
	tree, err := filesystem.NewTree(afero.NewMemMapFs(), "/nope")
	require.NoError(t, err)

	_, err = Take(context.Background(), tree)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSourceRoot)
}

func TestTakeCancelled(t *testing.T) {
	tree := memTree(t, map[string]string{"a.txt": "X"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Take(ctx, tree)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTakeSkipsUnreadableFile(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced here")
	}
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.txt"), []byte("ok"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("s"), 0o000))

	tree, err := filesystem.NewOSTree(root)
	require.NoError(t, err)

	snap, err := Take(context.Background(), tree)
	require.NoError(t, err)

	_, ok := snap.Get("secret.txt")
	assert.False(t, ok)
	_, ok = snap.Get("ok.txt")
	assert.True(t, ok)
	require.Len(t, snap.Skipped(), 1)
	assert.Equal(t, "secret.txt", snap.Skipped()[0].Path)
	assert.ErrorIs(t, snap.Skipped()[0], core.ErrFingerprint)
}

func TestTakeSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dir", "f.txt"), []byte("f"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(root, "dir", "f.txt"), filepath.Join(root, "file-link")))
	require.NoError(t, os.Symlink(filepath.Join(root, "dir"), filepath.Join(root, "dir-link")))
	require.NoError(t, os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "dangling")))

	tree, err := filesystem.NewOSTree(root)
	require.NoError(t, err)

	snap, err := Take(context.Background(), tree)
	require.NoError(t, err)

	fileLink, ok := snap.Get("file-link")
	require.True(t, ok)
	assert.Equal(t, core.KindFile, fileLink.Kind)
	assert.Equal(t, fp(t, "f"), fileLink.Fingerprint)

	dirLink, ok := snap.Get("dir-link")
	require.True(t, ok)
	assert.Equal(t, core.KindDirectory, dirLink.Kind)
	linked, ok := snap.Get("dir-link/f.txt")
	require.True(t, ok, "linked directories are descended")
	assert.Equal(t, fp(t, "f"), linked.Fingerprint)

	_, ok = snap.Get("dangling")
	assert.False(t, ok)
	assert.Empty(t, snap.Skipped())
}

func TestTakeLinkLoops(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	base := t.TempDir()
	root := filepath.Join(base, "src")
	outside := filepath.Join(base, "replica")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "f.txt"), []byte("f"), 0o644))
	require.NoError(t, os.Symlink(root, filepath.Join(root, "sub", "up")))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "into-replica")))

	tree, err := filesystem.NewOSTree(root)
	require.NoError(t, err)
	outsideInfo, err := os.Stat(outside)
	require.NoError(t, err)

	snap, err := Take(context.Background(), tree, WithAvoid(outsideInfo))
	require.NoError(t, err)

	var paths []string
	for _, e := range snap.Entries() {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"sub", "sub/f.txt"}, paths)

	require.Len(t, snap.Skipped(), 2)
	assert.Equal(t, "into-replica", snap.Skipped()[0].Path)
	assert.ErrorIs(t, snap.Skipped()[0], core.ErrOverlappingRoots)
	assert.Equal(t, "sub/up", snap.Skipped()[1].Path)
	assert.ErrorIs(t, snap.Skipped()[1], core.ErrLinkCycle)
}

func TestNewSnapshotFromEntries(t *testing.T) {
	snap := New("/r",
		core.Entry{Path: "b", Kind: core.KindFile, Fingerprint: "1"},
		core.Entry{Path: "a", Kind: core.KindDirectory},
		core.Entry{Path: "b", Kind: core.KindFile, Fingerprint: "2"},
	)

	require.Equal(t, 2, snap.Len())
	b, _ := snap.Get("b")
	assert.Equal(t, core.Fingerprint("2"), b.Fingerprint)
	assert.Equal(t, "a", snap.Entries()[0].Path)
}
