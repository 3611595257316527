package api

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

type Engine interface {
	Start(ctx context.Context, req models.StartRequest) (string, error)
	LiveStats(id string) (*models.LiveStats, error)
	Stop(ctx context.Context, id string) (*models.Report, error)
	List() []models.SessionSummary
	OpenEvidence(path string) (*os.File, error)
}

// ReportStore serves reports of sessions the engine no longer holds.
type ReportStore interface {
	GetReport(ctx context.Context, sessionID string) (*models.Report, error)
}

// FrameUploader stores extracted frames of uploaded videos.
type FrameUploader interface {
	UploadFileStream(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64) (string, error)
}

// Uploads configures POST /api/recordings. With a nil Uploader extracted
// frames stay in Dir and the session reads them from disk.
type Uploads struct {
	Dir      string
	FPS      float64
	Uploader FrameUploader
	Bucket   string
}

type Handlers struct {
	engine  Engine
	reports ReportStore
	uploads Uploads
	logger  *zap.Logger
	extract func(ctx context.Context, framesPath, videoPath string, fps float64) ([]string, error)
}

func NewHandlers(engine Engine, reports ReportStore, uploads Uploads, logger *zap.Logger) *Handlers {
	return &Handlers{engine: engine, reports: reports, uploads: uploads, logger: logger, extract: extractFrames}
}

// NewRouter registers every route; metrics may be nil.
func NewRouter(h *Handlers, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/sessions", h.StartSessionHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions", h.ListSessionsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{session_id}/stats", h.LiveStatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{session_id}/stop", h.StopSessionHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{session_id}/report", h.GetReportHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/recordings", h.UploadRecordingHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/evidence", h.GetEvidenceHandler).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	return r
}

type errorBody struct {
	Error   models.ErrorCode `json:"error"`
	Message string           `json:"message"`
}

func statusOf(code models.ErrorCode) int {
	switch code {
	case models.CodeInvalidZone:
		return http.StatusBadRequest
	case models.CodeSessionNotFound, models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeSourceUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	code := models.CodeOf(err)
	status := statusOf(code)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
