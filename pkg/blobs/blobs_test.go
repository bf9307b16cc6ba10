package blobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/examples/AI/tensoreval/pkg/engine/fallback"
)

func encodedVector(t *testing.T) (engine.Value, []byte) {
	t.Helper()
	spec := engine.NewTensorSpec("tensor(x[3])").
		Add(engine.Address{"x": engine.Idx(0)}, 1).
		Add(engine.Address{"x": engine.Idx(1)}, 2).
		Add(engine.Address{"x": engine.Idx(2)}, 3)
	v, err := engine.CreateValue(fallback.Engine, spec)
	if err != nil {
		t.Fatalf("creating tensor: %v", err)
	}
	var buf bytes.Buffer
	if err := fallback.Engine.Encode(v, &buf); err != nil {
		t.Fatalf("encoding tensor: %v", err)
	}
	return v, buf.Bytes()
}

func TestIsValidHash(t *testing.T) {
	info := InfoFor([]byte("hello"))
	if !IsValidHash(info.Hash) {
		t.Errorf("IsValidHash(%q) = false", info.Hash)
	}
	for _, h := range []string{"", "abc", strings.ToUpper(info.Hash), "../" + info.Hash[3:]} {
		if IsValidHash(h) {
			t.Errorf("IsValidHash(%q) = true", h)
		}
	}
}

func TestDirBlobstore(t *testing.T) {
	ctx := context.Background()
	store := &DirBlobstore{Dir: t.TempDir()}

	data := []byte("some bytes")
	info := InfoFor(data)

	if _, err := store.Open(ctx, info); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Open of missing blob: got %v, want os.ErrNotExist", err)
	}
	if err := store.Put(ctx, info, bytes.NewReader(data)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// A second put of the same hash is a no-op.
	if err := store.Put(ctx, info, strings.NewReader("ignored")); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	r, err := store.Open(ctx, info)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading blob: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %q, want %q", got, data)
	}

	if _, err := store.Open(ctx, BlobInfo{Hash: "../etc/passwd"}); err == nil {
		t.Errorf("Open accepted an invalid hash")
	}
}

func newTestServer(t *testing.T, token string) (*Server, *httptest.Server) {
	t.Helper()
	tokenHash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing token: %v", err)
	}
	s := &Server{
		Cache:     &DirBlobstore{Dir: t.TempDir()},
		TokenHash: tokenHash,
		Engines:   []engine.TensorEngine{fallback.Engine},
	}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func TestServerRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, ts := newTestServer(t, "secret")

	baseURL, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("parsing url: %v", err)
	}
	client := &BlobServer{BaseURL: baseURL, Token: "secret"}

	want, data := encodedVector(t)
	info := InfoFor(data)

	if _, err := client.Open(ctx, info); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Open before upload: got %v, want os.ErrNotExist", err)
	}
	if err := client.Put(ctx, info, bytes.NewReader(data)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	loader := &TensorLoader{Reader: client, MaxAttempts: 1}
	got, err := loader.Load(ctx, fallback.Engine, info)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("loaded %v, want %v", got, want)
	}
}

func TestServerRejectsUploads(t *testing.T) {
	ctx := context.Background()
	_, ts := newTestServer(t, "secret")
	baseURL, _ := url.Parse(ts.URL)

	_, data := encodedVector(t)
	info := InfoFor(data)

	wrongToken := &BlobServer{BaseURL: baseURL, Token: "guess"}
	if err := wrongToken.Put(ctx, info, bytes.NewReader(data)); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("Put with wrong token: got %v, want 401", err)
	}

	client := &BlobServer{BaseURL: baseURL, Token: "secret"}
	if err := client.Put(ctx, InfoFor([]byte("x")), bytes.NewReader(data)); err == nil {
		t.Errorf("Put with mismatched hash succeeded")
	}

	garbage := []byte("not a tensor")
	if err := client.Put(ctx, InfoFor(garbage), bytes.NewReader(garbage)); err == nil {
		t.Errorf("Put of undecodable blob succeeded")
	}

	resp, err := http.Get(ts.URL + "/not-a-hash")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("GET of invalid hash: status %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestServerFillsFromBacking(t *testing.T) {
	ctx := context.Background()
	s, ts := newTestServer(t, "secret")

	backing := &DirBlobstore{Dir: t.TempDir()}
	s.Backing = backing

	_, data := encodedVector(t)
	info := InfoFor(data)
	if err := backing.Put(ctx, info, bytes.NewReader(data)); err != nil {
		t.Fatalf("Put to backing: %v", err)
	}

	baseURL, _ := url.Parse(ts.URL)
	client := &BlobServer{BaseURL: baseURL}
	r, err := client.Open(ctx, info)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(r)
	r.Close()
	if !bytes.Equal(got, data) {
		t.Errorf("served %d bytes, want %d", len(got), len(data))
	}

	if _, found, err := s.Cache.Stat(info); err != nil || !found {
		t.Errorf("blob not cached after fill: found=%v err=%v", found, err)
	}
}

type flakyReader struct {
	failures int
	calls    int
	data     []byte
}

func (f *flakyReader) Open(ctx context.Context, info BlobInfo) (io.ReadCloser, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("transient failure %d", f.calls)
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func TestLoaderRetries(t *testing.T) {
	ctx := context.Background()
	want, data := encodedVector(t)

	reader := &flakyReader{failures: 2, data: data}
	loader := &TensorLoader{Reader: reader, MaxAttempts: 3, RetryDelay: time.Millisecond}
	got, err := loader.Load(ctx, fallback.Engine, InfoFor(data))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("loaded %v, want %v", got, want)
	}
	if reader.calls != 3 {
		t.Errorf("made %d attempts, want 3", reader.calls)
	}

	reader = &flakyReader{failures: 5, data: data}
	loader = &TensorLoader{Reader: reader, MaxAttempts: 2, RetryDelay: time.Millisecond}
	if _, err := loader.Load(ctx, fallback.Engine, InfoFor(data)); err == nil {
		t.Fatalf("Load succeeded, want error after 2 attempts")
	}
	if reader.calls != 2 {
		t.Errorf("made %d attempts, want 2", reader.calls)
	}
}

func TestLoaderDoesNotRetryBadEncoding(t *testing.T) {
	reader := &flakyReader{data: []byte("junk junk junk")}
	loader := &TensorLoader{Reader: reader, MaxAttempts: 5, RetryDelay: time.Millisecond}
	_, err := loader.Load(context.Background(), fallback.Engine, BlobInfo{})
	if err == nil {
		t.Fatalf("Load of junk succeeded")
	}
	if reader.calls != 1 {
		t.Errorf("made %d attempts, want 1", reader.calls)
	}
}
