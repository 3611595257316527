package evidence

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

// Format describes the incoming frame stream a sink must match.
type Format struct {
	Width  int
	Height int
	FPS    float64
}

// Sink is an open video file.
type Sink interface {
	WriteFrame(frame *models.Frame) error
	Close() error
}

// SinkFactory opens a sink writing to path.
type SinkFactory func(path string, format Format) (Sink, error)

// mjpegSink writes the JPEG frames back to back, which ffmpeg/ffplay read as a
// raw MJPEG stream.
type mjpegSink struct {
	file *os.File
	w    *bufio.Writer
}

func NewMJPEGSink(path string, _ Format) (Sink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &mjpegSink{file: file, w: bufio.NewWriterSize(file, 256<<10)}, nil
}

func (s *mjpegSink) WriteFrame(frame *models.Frame) error {
	_, err := s.w.Write(frame.Data)
	return err
}

func (s *mjpegSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush file: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return s.file.Close()
}

// ffmpegSink pipes JPEG frames into an ffmpeg process that encodes H.264 MP4.
type ffmpegSink struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func NewFFmpegSink(path string, format Format) (Sink, error) {
	fps := format.FPS
	if fps <= 0 {
		fps = 25
	}
	args := []string{
		"-y", "-loglevel", "error",
		"-f", "image2pipe", "-c:v", "mjpeg",
		"-framerate", strconv.FormatFloat(fps, 'f', 2, 64),
		"-i", "-",
	}
	if format.Width > 0 && format.Height > 0 {
		// libx264 with yuv420p needs even dimensions.
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", format.Width&^1, format.Height&^1))
	}
	args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p", path)

	cmd := exec.Command("ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	return &ffmpegSink{cmd: cmd, stdin: stdin}, nil
}

func (s *ffmpegSink) WriteFrame(frame *models.Frame) error {
	_, err := s.stdin.Write(frame.Data)
	return err
}

func (s *ffmpegSink) Close() error {
	closeErr := s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return closeErr
}

// SinkFor returns the factory and file extension of a configured evidence format.
func SinkFor(format string) (SinkFactory, string, error) {
	switch format {
	case "", "mjpeg":
		return NewMJPEGSink, ".mjpeg", nil
	case "ffmpeg":
		return NewFFmpegSink, ".mp4", nil
	default:
		return nil, "", fmt.Errorf("unknown evidence format %q", format)
	}
}
