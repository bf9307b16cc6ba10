package blobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"k8s.io/klog/v2"
)

// BlobServer reads and writes blobs through a tensor-store over HTTP.
type BlobServer struct {
	// BaseURL is the base URL to the tensor-store, typically http://tensor-store
	BaseURL *url.URL

	// Token is sent as a bearer token on uploads.
	Token string

	// Client is used if set, otherwise http.DefaultClient.
	Client *http.Client
}

var _ Blobstore = &BlobServer{}

func (l *BlobServer) httpClient() *http.Client {
	if l.Client != nil {
		return l.Client
	}
	return http.DefaultClient
}

func (l *BlobServer) Open(ctx context.Context, info BlobInfo) (io.ReadCloser, error) {
	log := klog.FromContext(ctx)

	u := l.BaseURL.JoinPath(info.Hash).String()
	log.V(2).Info("downloading from url", "url", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := l.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("doing request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("blob %q not found: %w", info.Hash, os.ErrNotExist)
		}
		return nil, fmt.Errorf("unexpected status downloading from upstream source: %v", resp.Status)
	}
	return resp.Body, nil
}

func (l *BlobServer) Put(ctx context.Context, info BlobInfo, r io.Reader) error {
	log := klog.FromContext(ctx)

	u := l.BaseURL.JoinPath(info.Hash).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, r)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if l.Token != "" {
		req.Header.Set("Authorization", "Bearer "+l.Token)
	}

	resp, err := l.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status uploading blob %q: %v: %s", info.Hash, resp.Status, body)
	}

	log.Info("uploaded blob", "url", u)
	return nil
}
