package blobs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/klog/v2"
)

// maxUploadSize bounds the body of a PUT.
const maxUploadSize = 256 << 20

// Server serves blobs over HTTP: GET /<hash> and PUT /<hash>.
//
// Blobs are served from Cache, falling back to Backing (if set) and filling
// the cache on the way. Uploads require a bearer token matching TokenHash and
// must decode as a tensor on one of Engines.
type Server struct {
	Cache   *DirBlobstore
	Backing Blobstore

	// TokenHash is the bcrypt hash of the upload token. If empty, uploads
	// are rejected.
	TokenHash []byte

	Engines []engine.TensorEngine
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokens := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(tokens) != 1 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	hash := tokens[0]
	if !IsValidHash(hash) {
		http.Error(w, "invalid blob hash", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.serveGETBlob(w, r, BlobInfo{Hash: hash})
	case http.MethodPut:
		s.servePUTBlob(w, r, BlobInfo{Hash: hash})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveGETBlob(w http.ResponseWriter, r *http.Request, info BlobInfo) {
	ctx := r.Context()
	log := klog.FromContext(ctx)

	p, found, err := s.Cache.Stat(info)
	if err == nil && !found {
		err = s.fill(r, info)
		if err == nil {
			found = true
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Error(err, "error getting blob", "hash", info.Hash)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	log.V(2).Info("serving blob", "path", p)
	http.ServeFile(w, r, p)
}

// fill copies a blob from the backing store into the cache.
func (s *Server) fill(r *http.Request, info BlobInfo) error {
	if s.Backing == nil {
		return fmt.Errorf("blob %q not found: %w", info.Hash, os.ErrNotExist)
	}
	ctx := r.Context()
	src, err := s.Backing.Open(ctx, info)
	if err != nil {
		return err
	}
	defer src.Close()

	klog.FromContext(ctx).Info("filling cache from backing store", "hash", info.Hash)
	return s.Cache.Put(ctx, info, src)
}

func (s *Server) authorized(r *http.Request) bool {
	if len(s.TokenHash) == 0 {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.TokenHash, []byte(token)) == nil
}

func (s *Server) servePUTBlob(w http.ResponseWriter, r *http.Request, info BlobInfo) {
	ctx := r.Context()
	log := klog.FromContext(ctx)

	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		http.Error(w, "reading body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if got := InfoFor(data); got.Hash != info.Hash {
		http.Error(w, fmt.Sprintf("content hash is %s", got.Hash), http.StatusBadRequest)
		return
	}
	if err := s.validate(data); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.Cache.Put(ctx, info, bytes.NewReader(data)); err != nil {
		log.Error(err, "error writing blob to cache", "hash", info.Hash)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if s.Backing != nil {
		if err := s.Backing.Put(ctx, info, bytes.NewReader(data)); err != nil {
			log.Error(err, "error writing blob to backing store", "hash", info.Hash)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
	}

	log.Info("stored blob", "hash", info.Hash, "bytes", len(data))
	w.WriteHeader(http.StatusCreated)
}

// validate checks that data decodes as a tensor on some engine.
func (s *Server) validate(data []byte) error {
	var errs []error
	for _, e := range s.Engines {
		_, err := e.Decode(bytes.NewReader(data))
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("not a tensor: %w", errors.Join(errs...))
}
