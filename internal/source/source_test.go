package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Capitan-Parrot/downtime-recorder/internal/metrics"
	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

func grayJPEG(t *testing.T, level uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	// немного шума, чтобы кадр не был однотонным
	img.SetGray(10, 10, color.Gray{Y: level / 2})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

type scriptedStream struct {
	frames []*models.Frame
	errs   []error
	closed bool
}

func (s *scriptedStream) Next(context.Context) (*models.Frame, error) {
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(s.frames) == 0 {
		return nil, ErrEndOfStream
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

var sane = LuminanceFilter{Min: 8, Max: 247}

func TestLuminanceFilter(t *testing.T) {
	tests := []struct {
		name  string
		level uint8
		ok    bool
	}{
		{"mid gray", 128, true},
		{"black", 0, false},
		{"white", 255, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, ok := sane.Check(grayJPEG(t, tt.level))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, 64, w)
			assert.Equal(t, 48, h)
		})
	}

	_, _, ok := sane.Check([]byte("not a jpeg"))
	assert.False(t, ok)

	mean, err := MeanLuminance(grayJPEG(t, 128))
	require.NoError(t, err)
	assert.InDelta(t, 128, mean, 3)
}

func TestIngestorKeepsNewestFrames(t *testing.T) {
	good := grayJPEG(t, 120)
	base := time.Unix(1000, 0)
	stream := &scriptedStream{}
	for i := 0; i < 5; i++ {
		stream.frames = append(stream.frames, &models.Frame{
			Seq: uint64(i), Timestamp: base.Add(time.Duration(i) * 100 * time.Millisecond), Data: good,
		})
	}

	m := metrics.New()
	in := NewIngestor(stream, IngestorOptions{Capacity: 1, Filter: sane, Metrics: m, Logger: zaptest.NewLogger(t)})
	in.Run(context.Background())

	var got []uint64
	for f := range in.Frames() {
		got = append(got, f.Seq)
		assert.Equal(t, 64, f.Width)
	}
	assert.Equal(t, []uint64{4}, got)
	assert.Equal(t, uint64(4), in.Dropped())
	assert.NoError(t, in.Err())
	assert.InDelta(t, 10.0, in.FPS(), 0.001)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.FramesIngested))
}

func TestIngestorDiscardsCorruptFrames(t *testing.T) {
	stream := &scriptedStream{frames: []*models.Frame{
		{Seq: 0, Data: grayJPEG(t, 0)},
		{Seq: 1, Data: grayJPEG(t, 255)},
		{Seq: 2, Data: []byte{0xFF, 0xD8, 0x00}},
		{Seq: 3, Data: grayJPEG(t, 100)},
	}}

	in := NewIngestor(stream, IngestorOptions{Capacity: 2, Filter: sane})
	in.Run(context.Background())

	var got []uint64
	for f := range in.Frames() {
		got = append(got, f.Seq)
	}
	assert.Equal(t, []uint64{3}, got)
	assert.Equal(t, uint64(3), in.Discarded())
	assert.Zero(t, in.Dropped())
}

func TestIngestorReportsFatalError(t *testing.T) {
	stream := &scriptedStream{errs: []error{models.ErrSourceLost}}
	in := NewIngestor(stream, IngestorOptions{Capacity: 1, Filter: sane})
	in.Run(context.Background())

	_, open := <-in.Frames()
	assert.False(t, open)
	assert.ErrorIs(t, in.Err(), models.ErrSourceLost)
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Retries: 5, Initial: time.Second, Max: 5 * time.Second}
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(4))
	assert.Equal(t, 5*time.Second, b.Delay(10))
}

func TestReconnectingRecovers(t *testing.T) {
	transient := errors.New("connection reset")
	first := &scriptedStream{
		frames: []*models.Frame{{Seq: 1}},
		errs:   []error{nil, transient},
	}
	second := &scriptedStream{frames: []*models.Frame{{Seq: 2}}}

	opens := 0
	r := NewReconnecting(first, func(context.Context) (Stream, error) {
		opens++
		if opens == 1 {
			return nil, errors.New("refused")
		}
		return second, nil
	}, Backoff{Retries: 3, Initial: time.Millisecond, Max: time.Millisecond}, metrics.New(), zaptest.NewLogger(t))
	r.sleep = func(context.Context, time.Duration) error { return nil }

	f, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq)

	f, err = r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Seq)
	assert.True(t, first.closed)
	assert.Equal(t, 2, opens)

	_, err = r.Next(context.Background())
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestReconnectingGivesUp(t *testing.T) {
	broken := &scriptedStream{errs: []error{errors.New("timeout")}}
	attempts := 0
	r := NewReconnecting(broken, func(context.Context) (Stream, error) {
		attempts++
		return nil, errors.New("refused")
	}, Backoff{Retries: 3, Initial: time.Millisecond}, nil, zaptest.NewLogger(t))
	r.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := r.Next(context.Background())
	require.ErrorIs(t, err, models.ErrSourceLost)
	assert.Equal(t, 3, attempts)
}

func TestDirStreamPlaysFramesInOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002.jpg", "001.jpg", "notes.txt", "003.jpeg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}

	s, err := OpenDir(dir, 1000)
	require.NoError(t, err)
	defer s.Close()

	var names []string
	var stamps []time.Time
	for {
		f, err := s.Next(context.Background())
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		names = append(names, string(f.Data))
		stamps = append(stamps, f.Timestamp)
	}
	assert.Equal(t, []string{"001.jpg", "002.jpg", "003.jpeg"}, names)
	assert.Equal(t, 2*time.Millisecond, stamps[2].Sub(stamps[0]))

	_, err = OpenDir(t.TempDir(), 25)
	assert.Error(t, err)
}

type memBucket map[string][]byte

func (b memBucket) ListFrames(_ context.Context, _, prefix string) ([]string, error) {
	var keys []string
	for k := range b {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	// порядок задаёт ListFrames у клиента; здесь сортируем сами
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return keys, nil
}

func (b memBucket) GetObject(_ context.Context, _, key string) ([]byte, error) {
	return b[key], nil
}

func TestOpenerDispatch(t *testing.T) {
	bucket := memBucket{"cam/1.jpg": []byte("a"), "cam/2.jpg": []byte("b")}
	o := NewOpener(OpenerOptions{Buckets: bucket, RecordedFPS: 1000, ConnectTimeout: time.Second})

	s, err := o.Open(context.Background(), "s3://frames/cam/")
	require.NoError(t, err)
	f, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", string(f.Data))

	_, err = o.Open(context.Background(), "s3://frames/empty/")
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)

	_, err = NewOpener(OpenerOptions{}).Open(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
}

func TestReadJPEGSplitsConcatenatedImages(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0x03, 0xFF, 0xD9}
	r := bufio.NewReader(bytes.NewReader(append(append([]byte{0x00, 0x11}, a...), b...)))

	got, err := readJPEG(r)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = readJPEG(r)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = readJPEG(r)
	assert.Error(t, err)
}

func TestIsLive(t *testing.T) {
	assert.True(t, isLive("rtsp://cam.local/stream"))
	assert.True(t, isLive("/dev/video0"))
	assert.False(t, isLive("/data/shift.mp4"))
}
