package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

const maxFrameSize = 16 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ffmpegStream decodes any input ffmpeg understands and reads it back as a
// stream of JPEG images from the child's stdout.
type ffmpegStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	out    *bufio.Reader
	live   bool
	now    func() time.Time

	seq     uint64
	pending *models.Frame
	once    sync.Once
}

func isLive(locator string) bool {
	u, err := url.Parse(locator)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "rtsp", "rtsps", "rtmp", "http", "https", "udp", "srt", "tcp":
		return true
	}
	return strings.HasPrefix(locator, "/dev/video")
}

func ffmpegArgs(locator string, live bool) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	switch {
	case strings.HasPrefix(locator, "rtsp"):
		args = append(args, "-rtsp_transport", "tcp")
	case strings.HasPrefix(locator, "/dev/video"):
		args = append(args, "-f", "v4l2")
	case !live:
		// проигрываем файл в реальном времени
		args = append(args, "-re")
	}
	return append(args, "-i", locator, "-f", "image2pipe", "-c:v", "mjpeg", "-q:v", "5", "-")
}

// OpenFFmpeg starts ffmpeg on locator and waits up to timeout for the first frame.
func OpenFFmpeg(ctx context.Context, locator string, timeout time.Duration) (Stream, error) {
	live := isLive(locator)
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, "ffmpeg", ffmpegArgs(locator, live)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	s := &ffmpegStream{
		cmd:    cmd,
		cancel: cancel,
		out:    bufio.NewReaderSize(stdout, 1<<20),
		live:   live,
		now:    time.Now,
	}

	waitCtx, stop := context.WithTimeout(ctx, timeout)
	defer stop()
	first, err := s.read(waitCtx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("no frame from %s within %s: %w", locator, timeout, err)
	}
	s.pending = first
	return s, nil
}

func (s *ffmpegStream) Next(ctx context.Context) (*models.Frame, error) {
	if s.pending != nil {
		f := s.pending
		s.pending = nil
		return f, nil
	}
	frame, err := s.read(ctx)
	if errors.Is(err, io.EOF) && !s.live {
		return nil, ErrEndOfStream
	}
	return frame, err
}

// read blocks on stdout in a helper goroutine so ctx can abandon it; an
// abandoned read kills the process.
func (s *ffmpegStream) read(ctx context.Context) (*models.Frame, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := readJPEG(s.out)
		ch <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		f := &models.Frame{Seq: s.seq, Timestamp: s.now(), Data: r.data}
		s.seq++
		return f, nil
	}
}

func (s *ffmpegStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.cmd.Wait()
	})
	return nil
}

// readJPEG returns the next SOI..EOI delimited image from r.
func readJPEG(r *bufio.Reader) ([]byte, error) {
	var prev byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == jpegSOI[0] && b == jpegSOI[1] {
			break
		}
		prev = b
	}

	buf := bytes.NewBuffer(append([]byte(nil), jpegSOI...))
	prev = 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		buf.WriteByte(b)
		if prev == jpegEOI[0] && b == jpegEOI[1] {
			return buf.Bytes(), nil
		}
		if buf.Len() > maxFrameSize {
			return nil, fmt.Errorf("jpeg frame exceeds %d bytes", maxFrameSize)
		}
		prev = b
	}
}
