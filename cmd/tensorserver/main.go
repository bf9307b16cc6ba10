package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/xyproto/env/v2"
	"google.golang.org/grpc"
	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/tensoreval/pkg/api/v1alpha1"
	"k8s.io/examples/AI/tensoreval/pkg/blobs"
	"k8s.io/examples/AI/tensoreval/pkg/calc"
	"k8s.io/examples/AI/tensoreval/pkg/features"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	listen := env.Str("TENSOREVAL_LISTEN", ":9876")
	engineName := env.Str("TENSOREVAL_ENGINE", "dense")
	blobserver := env.Str("BLOBSERVER")
	featureDriver := env.Str("FEATURE_DB_DRIVER", "sqlite")
	featureDSN := env.Str("FEATURE_DB_DSN")
	maxProgramSize := env.Int("TENSOREVAL_MAX_PROGRAM_SIZE", 10000)
	programCacheSize := env.Int("TENSOREVAL_PROGRAM_CACHE_SIZE", 1024)
	maxDownloadAttempts := 5

	flag.StringVar(&listen, "listen", listen, "listen address")
	flag.StringVar(&engineName, "engine", engineName, "default tensor engine ("+strings.Join(calc.EngineNames(), ", ")+")")
	flag.StringVar(&blobserver, "blobserver", blobserver, "base url to the tensor store; blob tensors are rejected if empty")
	flag.StringVar(&featureDriver, "feature-db-driver", featureDriver, "SQL driver for the feature store ("+strings.Join(features.Drivers(), ", ")+")")
	flag.StringVar(&featureDSN, "feature-db-dsn", featureDSN, "data source name of the feature store; feature tensors are rejected if empty")
	flag.IntVar(&maxProgramSize, "max-program-size", maxProgramSize, "reject computations that compile to more instructions; 0 for no limit")
	flag.IntVar(&programCacheSize, "program-cache-size", programCacheSize, "number of compiled programs to keep")
	flag.IntVar(&maxDownloadAttempts, "max-download-attempts", maxDownloadAttempts, "number of times to attempt a blob download before failing")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	defaultEngine, ok := calc.LookupEngine(engineName)
	if !ok {
		return fmt.Errorf("unknown engine %q", engineName)
	}

	programs, err := calc.NewProgramCache(programCacheSize)
	if err != nil {
		return err
	}

	calcServer := &calc.Calculator{
		Engine:         defaultEngine,
		Programs:       programs,
		MaxProgramSize: maxProgramSize,
	}

	if blobserver != "" {
		blobserverURL, err := url.Parse(blobserver)
		if err != nil {
			return fmt.Errorf("parsing blobserver url %q: %w", blobserver, err)
		}
		calcServer.Loader = &blobs.TensorLoader{
			Reader:      &blobs.BlobServer{BaseURL: blobserverURL},
			MaxAttempts: maxDownloadAttempts,
		}
	}

	if featureDSN != "" {
		store, err := features.Open(ctx, featureDriver, featureDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return err
		}
		calcServer.Features = store
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", listen, err)
	}
	var opts []grpc.ServerOption
	grpcServer := grpc.NewServer(opts...)

	api.RegisterCalculatorServer(grpcServer, calcServer)
	log.Info("Starting tensorserver", "listen", listen, "engine", defaultEngine.Name(), "blobserver", blobserver, "featureStore", featureDriver)
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("serving GRPC: %w", err)
	}

	return nil
}
