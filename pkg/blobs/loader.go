package blobs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/klog/v2"
)

// TensorLoader fetches encoded tensors and decodes them with an engine.
type TensorLoader struct {
	// Reader is the interface to fetch blobs
	Reader BlobReader

	// MaxAttempts is the number of times to attempt a download before failing
	MaxAttempts int

	// RetryDelay is the pause between attempts; defaults to 5 seconds.
	RetryDelay time.Duration
}

func (l *TensorLoader) Load(ctx context.Context, e engine.TensorEngine, info BlobInfo) (engine.Value, error) {
	log := klog.FromContext(ctx)

	delay := l.RetryDelay
	if delay == 0 {
		delay = 5 * time.Second
	}

	attempt := 0
	for {
		attempt++

		v, err := l.load(ctx, e, info)
		if err == nil {
			return v, nil
		}

		// A missing blob or a corrupt one will not fix itself.
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, engine.ErrBadEncoding) {
			return nil, err
		}
		if attempt >= l.MaxAttempts {
			return nil, err
		}

		log.Error(err, "downloading blob, will retry", "info", info, "attempt", attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (l *TensorLoader) load(ctx context.Context, e engine.TensorEngine, info BlobInfo) (engine.Value, error) {
	r, err := l.Reader.Open(ctx, info)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	v, err := e.Decode(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("decoding blob %q: %w", info.Hash, err)
	}
	return v, nil
}
