package models

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

type CommandAction string

const (
	CommandStart CommandAction = "start"
	CommandStop  CommandAction = "stop"
)

// Frame is one decoded frame of the monitored feed. Data holds the JPEG encoding.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// Detection представляет структуру одного обнаруженного объекта
type Detection struct {
	Class   string    `json:"class"`
	Score   float64   `json:"confidence"`
	Box     []float64 `json:"bbox"` // [x1, y1, x2, y2]
	TrackID TrackID   `json:"track_id,omitempty"`
}

// TrackID is the tracker identity of a detection. Detectors send it as an
// integer, a string or null; empty means untracked.
type TrackID string

func (t *TrackID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = TrackID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("track_id: %w", err)
	}
	*t = TrackID(n.String())
	return nil
}

// Center returns the bounding-box center used for zone membership. ok is
// false when the box is malformed.
func (d Detection) Center() (Point, bool) {
	if len(d.Box) < 4 {
		return Point{}, false
	}
	return Point{X: (d.Box[0] + d.Box[2]) / 2, Y: (d.Box[1] + d.Box[3]) / 2}, true
}

// DetectionBatch is the result of one detection sample.
type DetectionBatch struct {
	Elapsed    time.Duration
	CapturedAt time.Time
	Detections []Detection
	Failed     bool
}

// StartRequest describes a monitoring run.
type StartRequest struct {
	SourceLocator string    `json:"source_locator"`
	DetectorID    string    `json:"detector_id"`
	Zones         []Polygon `json:"zones"`
}

// SessionCommand is the message accepted on the command topic.
type SessionCommand struct {
	SessionID     string        `json:"session_id,omitempty"`
	Action        CommandAction `json:"action"`
	SourceLocator string        `json:"source_locator,omitempty"`
	DetectorID    string        `json:"detector_id,omitempty"`
	Zones         []Polygon     `json:"zones,omitempty"`
}

type Heartbeat struct {
	SessionID string        `json:"SessionID"`
	Action    CommandAction `json:"Action"`
	Frame     int64         `json:"Frame"`
	Stats     *LiveStats    `json:"Stats,omitempty"`
	TimeStamp time.Time     `json:"TimeStamp"`
}

// OutboxMessage Структура для транзакционного outbox
type OutboxMessage struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}
