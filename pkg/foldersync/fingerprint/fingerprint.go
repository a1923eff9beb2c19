// Package fingerprint computes content digests used to detect changed files.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"

	"github.com/arthur-debert/foldersync/pkg/foldersync/core"
)

// ChunkSize is the size of the buffer files are streamed through.
const ChunkSize = 64 * 1024

// Record is a fingerprint together with the size of the hashed content.
type Record struct {
	Fingerprint core.Fingerprint
	Size        int64
}

// Compute returns the MD5 fingerprint of the file at path. Directories have
// no fingerprint and return a zero Record. Errors wrap core.ErrFingerprint.
func Compute(fsys afero.Fs, path string) (Record, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return Record{}, errors.Errorf("%w: stat %s: %w", core.ErrFingerprint, path, err)
	}
	if info.IsDir() {
		return Record{}, nil
	}

	file, err := fsys.Open(path)
	if err != nil {
		return Record{}, errors.Errorf("%w: open %s: %w", core.ErrFingerprint, path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	return digest(file, path)
}

// Reader fingerprints an arbitrary stream.
func Reader(r io.Reader) (Record, error) {
	return digest(r, "stream")
}

func digest(r io.Reader, path string) (Record, error) {
	hash := md5.New()
	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(hash, r, buf)
	if err != nil {
		return Record{}, errors.Errorf("%w: read %s: %w", core.ErrFingerprint, path, err)
	}
	return Record{
		Fingerprint: core.Fingerprint(hex.EncodeToString(hash.Sum(nil))),
		Size:        n,
	}, nil
}
