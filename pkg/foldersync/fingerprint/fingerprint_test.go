package fingerprint

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/arthur-debert/foldersync/pkg/foldersync/core"
)

func TestCompute(t *testing.T) {
	mfs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mfs, "/t/x.txt", []byte("X"), 0o644))
	require.NoError(t, afero.WriteFile(mfs, "/t/empty", nil, 0o644))
	require.NoError(t, afero.WriteFile(mfs, "/t/x-copy.txt", []byte("X"), 0o600))

	rec, err := Compute(mfs, "/t/x.txt")
	require.NoError(t, err)
	// md5("X")
	assert.Equal(t, core.Fingerprint("02129bb861061d1a052c592e2dc6b383"), rec.Fingerprint)
	assert.Equal(t, int64(1), rec.Size)

	empty, err := Compute(mfs, "/t/empty")
	require.NoError(t, err)
	assert.Equal(t, core.Fingerprint("d41d8cd98f00b204e9800998ecf8427e"), empty.Fingerprint)
	assert.False(t, empty.Fingerprint.IsZero())

	// same bytes, different mode: same fingerprint
	dup, err := Compute(mfs, "/t/x-copy.txt")
	require.NoError(t, err)
	assert.Equal(t, rec.Fingerprint, dup.Fingerprint)
}

func TestComputeDirectoryHasNoFingerprint(t *testing.T) {
	mfs := afero.NewMemMapFs()
	require.NoError(t, mfs.MkdirAll("/t/dir", 0o755))

	rec, err := Compute(mfs, "/t/dir")
	require.NoError(t, err)
	assert.True(t, rec.Fingerprint.IsZero())
}

func TestComputeMissingFile(t *testing.T) {
	_, err := Compute(afero.NewMemMapFs(), "/gone")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrFingerprint))
}

func TestReaderStreamsLargeContent(t *testing.T) {
	// several chunks plus a tail
	content := bytes.Repeat([]byte("0123456789abcdef"), ChunkSize/4+3)

	streamed, err := Reader(bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), streamed.Size)

	mfs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mfs, "/big", content, 0o644))
	fromFile, err := Compute(mfs, "/big")
	require.NoError(t, err)
	assert.Equal(t, streamed.Fingerprint, fromFile.Fingerprint)
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestReaderError(t *testing.T) {
	_, err := Reader(io.MultiReader(strings.NewReader("partial"), failingReader{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFingerprint)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
