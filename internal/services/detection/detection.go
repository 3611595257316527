package detection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

type Client struct {
	URL           string
	MinConfidence float64
	http          *http.Client
}

func NewClient(baseURL string, timeout time.Duration, minConfidence float64) *Client {
	return &Client{
		URL:           baseURL,
		MinConfidence: minConfidence,
		http:          &http.Client{Timeout: timeout},
	}
}

type predictResponse struct {
	Detections []models.Detection `json:"detections"`
}

// Detect отправляет изображение JPEG байтами на /predict и возвращает найденные объекты
func (c *Client) Detect(ctx context.Context, frame *models.Frame, detectorID string) ([]models.Detection, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// Создаем form field с правильным Content-Type
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(frame.Data); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if err := writer.WriteField("detector_id", detectorID); err != nil {
		return nil, fmt.Errorf("write detector id: %w", err)
	}
	if err := writer.WriteField("conf", strconv.FormatFloat(c.MinConfidence, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("write confidence: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/predict", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %v", models.ErrDetectorFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: bad status: %s, error: %s", models.ErrDetectorFailure, resp.Status, bodyBytes)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", models.ErrDetectorFailure, err)
	}
	return out.Detections, nil
}
