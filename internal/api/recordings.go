package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

// UploadRecordingHandler принимает видеофайл, режет его на кадры и запускает
// по ним сессию.
//
// Form fields: video (file), zones (JSON list of polygons), detector_id.
func (h *Handlers) UploadRecordingHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(50 << 20); err != nil {
		http.Error(w, "Could not parse multipart form", http.StatusBadRequest)
		return
	}

	var zones []models.Polygon
	if err := json.Unmarshal([]byte(r.FormValue("zones")), &zones); err != nil {
		http.Error(w, fmt.Sprintf("zones must be a JSON list of polygons: %v", err), http.StatusBadRequest)
		return
	}
	if err := models.ValidateZones(zones); err != nil {
		h.writeError(w, err)
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		http.Error(w, "Video file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	if header.Size == 0 {
		http.Error(w, "Video file is empty", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	locator, err := h.prepareRecording(r.Context(), id, file)
	if err != nil {
		h.logger.Error("failed to prepare recording", zap.String("upload_id", id), zap.Error(err))
		http.Error(w, fmt.Sprintf("Failed to prepare recording: %v", err), http.StatusInternalServerError)
		return
	}

	sessionID, err := h.engine.Start(r.Context(), models.StartRequest{
		SourceLocator: locator,
		DetectorID:    r.FormValue("detector_id"),
		Zones:         zones,
	})
	if err != nil {
		if h.uploads.Uploader == nil {
			os.RemoveAll(locator)
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": sessionID, "sourceLocator": locator})
}

// prepareRecording extracts the frames of video and returns the locator of the
// recorded source.
func (h *Handlers) prepareRecording(ctx context.Context, id string, video io.Reader) (string, error) {
	if err := os.MkdirAll(h.uploads.Dir, 0o755); err != nil {
		return "", err
	}

	// Сохраняем видео во временный файл
	videoPath := filepath.Join(h.uploads.Dir, id+".video")
	tmp, err := os.Create(videoPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(videoPath)
	if _, err := io.Copy(tmp, video); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to save video file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	framesPath := filepath.Join(h.uploads.Dir, "frames_"+id)
	if err := os.MkdirAll(framesPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create frames directory: %w", err)
	}
	frames, err := h.extract(ctx, framesPath, videoPath, h.uploads.FPS)
	if err != nil {
		os.RemoveAll(framesPath)
		return "", err
	}
	if len(frames) == 0 {
		os.RemoveAll(framesPath)
		return "", fmt.Errorf("no frames extracted from video")
	}

	if h.uploads.Uploader == nil {
		return framesPath, nil
	}

	defer os.RemoveAll(framesPath)
	if err := h.saveFrames(ctx, id, frames); err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s/", h.uploads.Bucket, id), nil
}

// extractFrames режет видео на JPEG-кадры с заданной частотой
func extractFrames(ctx context.Context, framesPath, videoPath string, fps float64) ([]string, error) {
	framePattern := filepath.Join(framesPath, "frame_%06d.jpg")
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-i", videoPath,
		"-vf", "fps="+strconv.FormatFloat(fps, 'f', -1, 64),
		"-q:v", "2", // Качество JPEG
		framePattern,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	files, err := filepath.Glob(filepath.Join(framesPath, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("failed to list frame files: %w", err)
	}
	return files, nil
}

func (h *Handlers) saveFrames(ctx context.Context, id string, files []string) error {
	for _, framePath := range files {
		if err := h.saveFrame(ctx, id, framePath); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) saveFrame(ctx context.Context, id, framePath string) error {
	frameFile, err := os.Open(framePath)
	if err != nil {
		return fmt.Errorf("failed to open frame file %s: %w", framePath, err)
	}
	defer frameFile.Close()

	info, err := frameFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to get frame file info: %w", err)
	}

	// Имя объекта: {id}/frame_000001.jpg
	objectName := id + "/" + filepath.Base(framePath)
	if _, err := h.uploads.Uploader.UploadFileStream(ctx, h.uploads.Bucket, objectName, frameFile, info.Size()); err != nil {
		return fmt.Errorf("failed to upload frame %s: %w", objectName, err)
	}
	return nil
}
