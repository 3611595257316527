package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

// BucketReader is the object storage the bucket source reads frames from.
type BucketReader interface {
	ListFrames(ctx context.Context, bucket, prefix string) ([]string, error)
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// recordedStream plays back a sorted list of JPEG frames at a nominal rate.
// Frame n is stamped base + n/fps, where base is the time of the first Next.
type recordedStream struct {
	keys  []string
	load  func(ctx context.Context, key string) ([]byte, error)
	fps   float64
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	idx  int
	base time.Time
}

func (s *recordedStream) Next(ctx context.Context) (*models.Frame, error) {
	if s.idx >= len(s.keys) {
		return nil, ErrEndOfStream
	}
	if s.idx == 0 {
		s.base = s.now()
	}

	at := s.base.Add(time.Duration(float64(s.idx) * float64(time.Second) / s.fps))
	if wait := at.Sub(s.now()); wait > 0 {
		if err := s.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	data, err := s.load(ctx, s.keys[s.idx])
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", s.keys[s.idx], err)
	}
	frame := &models.Frame{
		Seq:       uint64(s.idx),
		Timestamp: at,
		Data:      data,
	}
	s.idx++
	return frame, nil
}

func (s *recordedStream) Close() error {
	return nil
}

// OpenDir plays back the JPEG files of a directory in name order.
func OpenDir(dir string, fps float64) (Stream, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !isJPEG(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no jpeg frames in %s", dir)
	}
	sort.Strings(paths)

	return &recordedStream{
		keys:  paths,
		load:  func(_ context.Context, p string) ([]byte, error) { return os.ReadFile(p) },
		fps:   fps,
		now:   time.Now,
		sleep: sleepCtx,
	}, nil
}

// OpenBucket plays back the JPEG objects stored under bucket/prefix.
func OpenBucket(ctx context.Context, reader BucketReader, bucket, prefix string, fps float64) (Stream, error) {
	keys, err := reader.ListFrames(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no jpeg frames in %s/%s", bucket, prefix)
	}

	return &recordedStream{
		keys: keys,
		load: func(ctx context.Context, key string) ([]byte, error) {
			return reader.GetObject(ctx, bucket, key)
		},
		fps:   fps,
		now:   time.Now,
		sleep: sleepCtx,
	}, nil
}

func isJPEG(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
