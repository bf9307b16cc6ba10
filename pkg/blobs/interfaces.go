package blobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
)

type BlobReader interface {
	// Open returns the content of a blob. If no such blob exists, the error
	// satisfies errors.Is(err, os.ErrNotExist).
	Open(ctx context.Context, info BlobInfo) (io.ReadCloser, error)
}

type Blobstore interface {
	BlobReader
	// Put stores the content of r under info.Hash. If a blob with the same
	// hash already exists, Put does nothing and returns no error.
	Put(ctx context.Context, info BlobInfo, r io.Reader) error
}

// BlobInfo identifies a blob by the sha256 of its content.
type BlobInfo struct {
	Hash string
}

// InfoFor computes the BlobInfo for data.
func InfoFor(data []byte) BlobInfo {
	sum := sha256.Sum256(data)
	return BlobInfo{Hash: hex.EncodeToString(sum[:])}
}

// IsValidHash reports whether hash is a lower-case hex sha256, which also
// makes it safe to use as a file name or object key.
func IsValidHash(hash string) bool {
	if len(hash) != 2*sha256.Size {
		return false
	}
	for _, c := range hash {
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
