package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

type fakeEngine struct {
	started []models.StartRequest
	dir     string
	fail    error
}

func (e *fakeEngine) Start(_ context.Context, req models.StartRequest) (string, error) {
	if e.fail != nil {
		return "", e.fail
	}
	for _, z := range req.Zones {
		if len(z) < 3 {
			return "", fmt.Errorf("%w: too few points", models.ErrInvalidZone)
		}
	}
	if req.SourceLocator == "rtsp://down" {
		return "", fmt.Errorf("%w: refused", models.ErrSourceUnavailable)
	}
	e.started = append(e.started, req)
	return "s1", nil
}

func (e *fakeEngine) LiveStats(id string) (*models.LiveStats, error) {
	if id != "s1" {
		return nil, models.ErrSessionNotFound
	}
	return &models.LiveStats{SessionID: "s1", Status: models.StatusRunning, FrameCount: 12,
		Zones: []models.ZoneStats{{ZoneIndex: 0, State: models.ZoneIdle, CumulativeIdle: 3}}}, nil
}

func (e *fakeEngine) Stop(_ context.Context, id string) (*models.Report, error) {
	if id != "s1" {
		return nil, models.ErrSessionNotFound
	}
	return &models.Report{SessionID: "s1", DurationSeconds: 12}, nil
}

func (e *fakeEngine) List() []models.SessionSummary {
	return []models.SessionSummary{{SessionID: "s1", Status: models.StatusRunning}}
}

func (e *fakeEngine) OpenEvidence(path string) (*os.File, error) {
	if filepath.Dir(path) != e.dir {
		return nil, models.ErrNotFound
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, models.ErrNotFound
	}
	return f, nil
}

type memReports map[string]*models.Report

func (m memReports) GetReport(_ context.Context, id string) (*models.Report, error) {
	r, ok := m[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return r, nil
}

func newServer(t *testing.T) (*httptest.Server, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{dir: t.TempDir()}
	reports := memReports{"old": {SessionID: "old", DurationSeconds: 60}}
	h := NewHandlers(eng, reports, Uploads{Dir: t.TempDir(), FPS: 5}, zaptest.NewLogger(t))
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("downtime_active_sessions 1\n"))
	})
	srv := httptest.NewServer(NewRouter(h, metrics))
	t.Cleanup(srv.Close)
	return srv, eng
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestStartSession(t *testing.T) {
	srv, eng := newServer(t)

	body := `{"source_locator":"rtsp://cam","detector_id":"yolo","zones":[[{"x":0,"y":0},{"x":10,"y":0},{"x":10,"y":10}]]}`
	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, map[string]string{"sessionId": "s1"}, decode[map[string]string](t, resp))
	require.Len(t, eng.started, 1)
	assert.Equal(t, models.Point{X: 10, Y: 10}, eng.started[0].Zones[0][2])
}

func TestStartSessionErrors(t *testing.T) {
	srv, _ := newServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   models.ErrorCode
	}{
		{"invalid zone", `{"source_locator":"rtsp://cam","zones":[[{"x":0,"y":0}]]}`, http.StatusBadRequest, models.CodeInvalidZone},
		{"source down", `{"source_locator":"rtsp://down","zones":[]}`, http.StatusBadGateway, models.CodeSourceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/sessions", "application/json", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode[errorBody](t, resp).Error)
		})
	}

	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", bytes.NewBufferString(`{`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsStopAndList(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/api/sessions/s1/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[models.LiveStats](t, resp)
	assert.Equal(t, int64(12), stats.FrameCount)
	assert.Equal(t, models.ZoneIdle, stats.Zones[0].State)

	resp, err = http.Get(srv.URL + "/api/sessions/missing/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, models.CodeSessionNotFound, decode[errorBody](t, resp).Error)

	resp, err = http.Post(srv.URL+"/api/sessions/s1/stop", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 12.0, decode[models.Report](t, resp).DurationSeconds)

	resp, err = http.Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	list := decode[[]models.SessionSummary](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].SessionID)

	resp, err = http.Get(srv.URL + "/api/sessions/old/report")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 60.0, decode[models.Report](t, resp).DurationSeconds)
}

func TestEvidenceDownload(t *testing.T) {
	srv, eng := newServer(t)
	path := filepath.Join(eng.dir, "zone0_00001000.mjpeg")
	require.NoError(t, os.WriteFile(path, []byte("clip-bytes"), 0o644))

	resp, err := http.Get(srv.URL + "/api/evidence?path=" + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/x-motion-jpeg", resp.Header.Get("Content-Type"))
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "clip-bytes", string(data))

	resp, err = http.Get(srv.URL + "/api/evidence?path=/etc/passwd")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsRoute(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), "downtime_active_sessions")
}

func TestUploadRequiresZones(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Post(srv.URL+"/api/recordings", "multipart/form-data; boundary=x", bytes.NewBufferString("--x--\r\n"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func uploadForm(t *testing.T, zones string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("zones", zones))
	require.NoError(t, w.WriteField("detector_id", "steel-v1"))
	part, err := w.CreateFormFile("video", "shift.mp4")
	require.NoError(t, err)
	_, err = part.Write([]byte("not really a video"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

type recordingsFixture struct {
	srv       *httptest.Server
	eng       *fakeEngine
	uploads   string
	extracted int
}

func newRecordingsFixture(t *testing.T) *recordingsFixture {
	t.Helper()
	f := &recordingsFixture{eng: &fakeEngine{dir: t.TempDir()}, uploads: t.TempDir()}
	h := NewHandlers(f.eng, nil, Uploads{Dir: f.uploads, FPS: 5}, zaptest.NewLogger(t))
	h.extract = func(_ context.Context, framesPath, _ string, _ float64) ([]string, error) {
		f.extracted++
		frame := filepath.Join(framesPath, "frame_000001.jpg")
		if err := os.WriteFile(frame, []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0o644); err != nil {
			return nil, err
		}
		return []string{frame}, nil
	}
	f.srv = httptest.NewServer(NewRouter(h, nil))
	t.Cleanup(f.srv.Close)
	return f
}

const squareZones = `[[{"x":0,"y":0},{"x":100,"y":0},{"x":100,"y":100}]]`

func TestUploadStartsSessionOnExtractedFrames(t *testing.T) {
	f := newRecordingsFixture(t)
	body, ct := uploadForm(t, squareZones)

	resp, err := http.Post(f.srv.URL+"/api/recordings", ct, body)
	require.NoError(t, err)
	out := decode[map[string]string](t, resp)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "s1", out["sessionId"])
	require.Len(t, f.eng.started, 1)
	assert.Equal(t, "steel-v1", f.eng.started[0].DetectorID)
	assert.DirExists(t, f.eng.started[0].SourceLocator)
}

func TestUploadRejectsInvalidZonesBeforeExtraction(t *testing.T) {
	f := newRecordingsFixture(t)
	body, ct := uploadForm(t, `[[{"x":0,"y":0},{"x":1,"y":1}]]`)

	resp, err := http.Post(f.srv.URL+"/api/recordings", ct, body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, f.extracted)

	entries, err := os.ReadDir(f.uploads)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadRemovesFramesWhenStartFails(t *testing.T) {
	f := newRecordingsFixture(t)
	f.eng.fail = fmt.Errorf("%w: no detector", models.ErrSourceUnavailable)
	body, ct := uploadForm(t, squareZones)

	resp, err := http.Post(f.srv.URL+"/api/recordings", ct, body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 1, f.extracted)

	entries, err := os.ReadDir(f.uploads)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
