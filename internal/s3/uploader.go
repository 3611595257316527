package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

const uploadQueue = 64

// ObjectPutter is the part of Client the uploader needs.
type ObjectPutter interface {
	UploadFileStream(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64) (string, error)
}

type upload struct {
	localPath string
	key       string
}

// Uploader mirrors finished evidence files into a bucket in the background.
type Uploader struct {
	putter ObjectPutter
	bucket string
	logger *zap.Logger

	queue  chan upload
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewUploader(putter ObjectPutter, bucket string, logger *zap.Logger) *Uploader {
	return &Uploader{
		putter: putter,
		bucket: bucket,
		logger: logger,
		queue:  make(chan upload, uploadQueue),
		done:   make(chan struct{}),
	}
}

// Enqueue schedules an upload; it never blocks and drops the job when the queue is full.
func (u *Uploader) Enqueue(localPath, key string) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.closed {
		return
	}
	select {
	case u.queue <- upload{localPath: localPath, key: key}:
	default:
		u.logger.Warn("evidence upload queue full", zap.String("key", key))
	}
}

// Run uploads queued files until Close is called and the queue is drained.
func (u *Uploader) Run(ctx context.Context) {
	defer close(u.done)
	for job := range u.queue {
		if err := u.put(ctx, job); err != nil {
			u.logger.Warn("evidence upload failed", zap.String("key", job.key), zap.Error(err))
			continue
		}
		u.logger.Debug("evidence uploaded", zap.String("key", job.key))
	}
}

func (u *Uploader) put(ctx context.Context, job upload) error {
	f, err := os.Open(job.localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if _, err := u.putter.UploadFileStream(ctx, u.bucket, job.key, f, info.Size()); err != nil {
		return fmt.Errorf("put %s: %w", job.key, err)
	}
	return nil
}

// Close stops accepting jobs and waits for Run to drain the queue.
func (u *Uploader) Close() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	close(u.queue)
	u.mu.Unlock()
	<-u.done
}
