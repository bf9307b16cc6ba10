package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/xyproto/env/v2"
	"golang.org/x/crypto/bcrypt"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/tensoreval/pkg/blobs"
	"k8s.io/examples/AI/tensoreval/pkg/calc"
	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	listen := env.Str("TENSOR_STORE_LISTEN", ":8080")
	// We expect CACHE_DIR to be set when running on kubernetes, but default sensibly for local dev
	cacheDir := env.Str("CACHE_DIR", "~/.cache/tensor-store/blobs")
	cacheBucket := env.Str("CACHE_BUCKET")
	tokenHash := env.Str("TENSOR_STORE_TOKEN_HASH")

	flag.StringVar(&listen, "listen", listen, "listen address")
	flag.StringVar(&cacheDir, "cache-dir", cacheDir, "cache directory")
	flag.StringVar(&cacheBucket, "cache-bucket", cacheBucket, "backing GCS bucket (gs://<bucketName>[/prefix]); local cache only if empty")
	flag.StringVar(&tokenHash, "token-hash", tokenHash, "bcrypt hash of the token required for uploads; uploads are disabled if empty")
	hashToken := ""
	flag.StringVar(&hashToken, "hash-token", hashToken, "print the bcrypt hash of this token, for use as TENSOR_STORE_TOKEN_HASH, and exit")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	if hashToken != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(hashToken), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing token: %w", err)
		}
		fmt.Println(string(hash))
		return nil
	}

	if strings.HasPrefix(cacheDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		cacheDir = filepath.Join(homeDir, strings.TrimPrefix(cacheDir, "~/"))
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
	}

	var backing blobs.Blobstore
	if cacheBucket != "" {
		if !strings.HasPrefix(cacheBucket, "gs://") {
			return fmt.Errorf("CACHE_BUCKET must be a GCS bucket URL (gs://<bucketName>)")
		}
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(cacheBucket, "gs://"), "/")
		log.Info("using GCS cache", "bucket", bucket, "prefix", prefix)

		backing = &blobs.GCSBlobstore{
			Bucket: bucket,
			Prefix: prefix,
		}
	}

	var engines []engine.TensorEngine
	for _, name := range calc.EngineNames() {
		e, _ := calc.LookupEngine(name)
		engines = append(engines, e)
	}

	s := &blobs.Server{
		Cache:     &blobs.DirBlobstore{Dir: cacheDir},
		Backing:   backing,
		TokenHash: []byte(tokenHash),
		Engines:   engines,
	}
	if tokenHash == "" {
		log.Info("no upload token configured, uploads are disabled")
	}

	log.Info("serving", "listen", listen, "cacheDir", cacheDir)
	if err := http.ListenAndServe(listen, s); err != nil {
		return fmt.Errorf("serving on %q: %w", listen, err)
	}

	return nil
}
