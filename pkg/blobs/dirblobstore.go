package blobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// DirBlobstore keeps blobs as files named by their hash under Dir.
type DirBlobstore struct {
	Dir string
}

var _ Blobstore = (*DirBlobstore)(nil)

func (s *DirBlobstore) path(info BlobInfo) (string, error) {
	if !IsValidHash(info.Hash) {
		return "", fmt.Errorf("invalid blob hash %q", info.Hash)
	}
	return filepath.Join(s.Dir, info.Hash), nil
}

func (s *DirBlobstore) Open(ctx context.Context, info BlobInfo) (io.ReadCloser, error) {
	p, err := s.path(info)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("opening blob %q: %w", info.Hash, err)
	}
	return f, nil
}

// Stat reports whether the blob is present, and its path.
func (s *DirBlobstore) Stat(info BlobInfo) (string, bool, error) {
	p, err := s.path(info)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return p, false, nil
		}
		return "", false, fmt.Errorf("checking blob %q: %w", info.Hash, err)
	}
	return p, true, nil
}

func (s *DirBlobstore) Put(ctx context.Context, info BlobInfo, r io.Reader) error {
	p, exists, err := s.Stat(info)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("creating directory %q: %w", s.Dir, err)
	}
	return writeToFile(ctx, r, p)
}

// writeToFile writes r to destPath through a temp file in the same
// directory, so destPath is only ever seen complete.
func writeToFile(ctx context.Context, r io.Reader, destPath string) error {
	log := klog.FromContext(ctx)

	dir := filepath.Dir(destPath)
	tempFile, err := os.CreateTemp(dir, "blob")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				log.Error(err, "closing temp file", "path", tempFile.Name())
			}
		}
	}()

	if _, err := io.Copy(tempFile, r); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	shouldCloseTempFile = false

	if err := os.Rename(tempFile.Name(), destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false

	return nil
}
