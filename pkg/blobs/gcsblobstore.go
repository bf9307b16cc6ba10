package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"k8s.io/klog/v2"
)

// GCSBlobstore keeps encoded tensors as objects in a GCS bucket.
type GCSBlobstore struct {
	Bucket string
	// Prefix is prepended to the hash to form the object key, e.g. "tensors/".
	Prefix string

	// Client is used if set; otherwise a client is created per call.
	Client *storage.Client
}

var _ Blobstore = (*GCSBlobstore)(nil)

func (j *GCSBlobstore) objectKey(info BlobInfo) string {
	return path.Join(j.Prefix, info.Hash)
}

func (j *GCSBlobstore) client(ctx context.Context) (*storage.Client, func(), error) {
	if j.Client != nil {
		return j.Client, func() {}, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCS storage client: %w", err)
	}
	return client, func() { client.Close() }, nil
}

func (j *GCSBlobstore) Put(ctx context.Context, info BlobInfo, src io.Reader) error {
	log := klog.FromContext(ctx)

	objectKey := j.objectKey(info)
	gcsURL := "gs://" + j.Bucket + "/" + objectKey

	client, done, err := j.client(ctx)
	if err != nil {
		return err
	}
	defer done()

	obj := client.Bucket(j.Bucket).Object(objectKey)
	if _, err := obj.Attrs(ctx); err == nil {
		log.Info("tensor already exists in GCS", "url", gcsURL)
		return nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("getting object attributes for %q: %w", gcsURL, err)
	}

	log.Info("uploading tensor to GCS", "destination", gcsURL)

	startedAt := time.Now()
	// DoesNotExist makes a concurrent upload of the same hash a no-op.
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	n, err := io.Copy(w, src)
	if err != nil {
		w.Close()
		return fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing GCS writer: %w", err)
	}

	log.Info("uploaded tensor to GCS", "url", gcsURL, "bytes", n, "duration", time.Since(startedAt))
	return nil
}

func (j *GCSBlobstore) Open(ctx context.Context, info BlobInfo) (io.ReadCloser, error) {
	log := klog.FromContext(ctx)

	objectKey := j.objectKey(info)
	gcsURL := "gs://" + j.Bucket + "/" + objectKey

	client, done, err := j.client(ctx)
	if err != nil {
		return nil, err
	}

	log.V(2).Info("reading tensor from GCS", "url", gcsURL)

	r, err := client.Bucket(j.Bucket).Object(objectKey).NewReader(ctx)
	if err != nil {
		done()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("tensor %q not found in GCS: %w", gcsURL, os.ErrNotExist)
		}
		return nil, fmt.Errorf("opening object from GCS %q: %w", gcsURL, err)
	}
	return &closeBoth{ReadCloser: r, done: done}, nil
}

// closeBoth closes the reader and then releases the client it came from.
type closeBoth struct {
	io.ReadCloser
	done func()
}

func (c *closeBoth) Close() error {
	err := c.ReadCloser.Close()
	c.done()
	return err
}
