package evidence

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capitan-Parrot/downtime-recorder/internal/metrics"
	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

type recordingUploader struct {
	mu   sync.Mutex
	keys []string
}

func (u *recordingUploader) Enqueue(_, key string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, key)
}

func fixedFormat() Format { return Format{Width: 64, Height: 48, FPS: 10} }

func TestClipWritesFramesAndUploads(t *testing.T) {
	dir := t.TempDir()
	up := &recordingUploader{}
	m := metrics.New()
	rec, err := NewRecorder(Options{Dir: dir, Uploader: up, Metrics: m})
	require.NoError(t, err)

	clip, err := rec.ForSession("s1", fixedFormat).Start(2, 1500*time.Millisecond)
	require.NoError(t, err)

	clip.Append(&models.Frame{Data: []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}})
	clip.Append(&models.Frame{Data: []byte{0xFF, 0xD8, 0x02, 0xFF, 0xD9}})

	path, err := clip.Stop()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "s1", "zone2_00001500.mjpeg"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 10)

	assert.Equal(t, []string{"s1/zone2_00001500.mjpeg"}, up.keys)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsOpened))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordingFrames))
}

func TestClipDiscardRemovesFile(t *testing.T) {
	dir := t.TempDir()
	up := &recordingUploader{}
	rec, err := NewRecorder(Options{Dir: dir, Uploader: up})
	require.NoError(t, err)

	clip, err := rec.ForSession("s1", fixedFormat).Start(0, 0)
	require.NoError(t, err)
	clip.Append(&models.Frame{Data: []byte{1, 2, 3}})

	require.NoError(t, clip.Discard())
	_, err = os.Stat(filepath.Join(dir, "s1", "zone0_00000000.mjpeg"))
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, up.keys)
}

func TestStartFailureIsRecordingUnavailable(t *testing.T) {
	m := metrics.New()
	rec, err := NewRecorder(Options{Dir: t.TempDir(), Metrics: m})
	require.NoError(t, err)
	rec = rec.WithSink(func(string, Format) (Sink, error) {
		return nil, errors.New("encoder missing")
	}, ".mp4")

	_, err = rec.ForSession("s1", fixedFormat).Start(0, 0)
	require.ErrorIs(t, err, models.ErrRecordingUnavailable)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingFailures))
}

func TestStopIsIdempotent(t *testing.T) {
	rec, err := NewRecorder(Options{Dir: t.TempDir()})
	require.NoError(t, err)
	clip, err := rec.ForSession("s1", fixedFormat).Start(1, time.Second)
	require.NoError(t, err)

	first, err := clip.Stop()
	require.NoError(t, err)
	second, err := clip.Stop()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSinkFor(t *testing.T) {
	_, ext, err := SinkFor("mjpeg")
	require.NoError(t, err)
	assert.Equal(t, ".mjpeg", ext)

	_, ext, err = SinkFor("ffmpeg")
	require.NoError(t, err)
	assert.Equal(t, ".mp4", ext)

	_, _, err = SinkFor("gif")
	assert.Error(t, err)
}
