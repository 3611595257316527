package source

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Capitan-Parrot/downtime-recorder/internal/metrics"
	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
	"github.com/Capitan-Parrot/downtime-recorder/internal/s3"
)

type OpenerOptions struct {
	// Buckets serves s3:// locators; nil disables them.
	Buckets        BucketReader
	RecordedFPS    float64
	ConnectTimeout time.Duration
	Backoff        Backoff
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// Opener resolves a source locator to a Stream.
//
//	s3://bucket/prefix   recorded frames in object storage
//	/path/to/dir         recorded frames on disk
//	anything else        ffmpeg input (rtsp, http, video file, /dev/videoN)
type Opener struct {
	opts OpenerOptions
}

func NewOpener(opts OpenerOptions) *Opener {
	if opts.RecordedFPS <= 0 {
		opts.RecordedFPS = 25
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Opener{opts: opts}
}

// Open fails with models.ErrSourceUnavailable when the source cannot deliver
// within the connect timeout.
func (o *Opener) Open(ctx context.Context, locator string) (Stream, error) {
	s, err := o.open(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrSourceUnavailable, locator, err)
	}
	return s, nil
}

func (o *Opener) open(ctx context.Context, locator string) (Stream, error) {
	if strings.TrimSpace(locator) == "" {
		return nil, fmt.Errorf("empty locator")
	}

	if strings.HasPrefix(locator, "s3://") {
		if o.opts.Buckets == nil {
			return nil, fmt.Errorf("object storage is not configured")
		}
		bucket, prefix, err := s3.ParseLocator(locator)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, o.opts.ConnectTimeout)
		defer cancel()
		return OpenBucket(ctx, o.opts.Buckets, bucket, prefix, o.opts.RecordedFPS)
	}

	if info, err := os.Stat(locator); err == nil && info.IsDir() {
		return OpenDir(locator, o.opts.RecordedFPS)
	}

	first, err := OpenFFmpeg(ctx, locator, o.opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	if !isLive(locator) {
		return first, nil
	}

	logger := o.opts.Logger.With(zap.String("source", locator))
	return NewReconnecting(first, func(ctx context.Context) (Stream, error) {
		return OpenFFmpeg(ctx, locator, o.opts.ConnectTimeout)
	}, o.opts.Backoff, o.opts.Metrics, logger), nil
}
