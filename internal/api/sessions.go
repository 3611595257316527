package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

// StartSessionHandler запускает мониторинг источника
func (h *Handlers) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.SourceLocator == "" {
		http.Error(w, "source_locator is required", http.StatusBadRequest)
		return
	}

	id, err := h.engine.Start(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": id})
}

func (h *Handlers) ListSessionsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.List())
}

func (h *Handlers) LiveStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.LiveStats(mux.Vars(r)["session_id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// StopSessionHandler останавливает сессию и возвращает итоговый отчёт
func (h *Handlers) StopSessionHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Stop(r.Context(), mux.Vars(r)["session_id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetReportHandler отдаёт сохранённый отчёт, в том числе по уже забытым сессиям
func (h *Handlers) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		h.writeError(w, fmt.Errorf("%w: reports are not persisted", models.ErrNotFound))
		return
	}
	report, err := h.reports.GetReport(r.Context(), mux.Vars(r)["session_id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) GetEvidenceHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	f, err := h.engine.OpenEvidence(path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.writeError(w, errors.Join(models.ErrNotFound, err))
		return
	}
	if filepath.Ext(info.Name()) == ".mjpeg" {
		w.Header().Set("Content-Type", "video/x-motion-jpeg")
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
