package models

import (
	"math"
	"time"
)

type ZoneState string

const (
	ZoneActive ZoneState = "ACTIVE"
	ZoneIdle   ZoneState = "IDLE"
)

// IdlePeriod is one contiguous IDLE span of a zone. End is nil while the period
// is open; EvidencePath is nil when the recording could not be opened.
type IdlePeriod struct {
	Start        float64    `json:"startTime"`
	End          *float64   `json:"endTime"`
	Duration     float64    `json:"durationSeconds"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	EvidencePath *string    `json:"evidencePath"`
}

// ZoneStats is the live view of one zone, published once per sample.
type ZoneStats struct {
	ZoneIndex         int       `json:"zoneIndex"`
	State             ZoneState `json:"state"`
	CurrentIdleStreak float64   `json:"currentIdleStreak"`
	CumulativeIdle    float64   `json:"cumulativeIdle"`
	CumulativeActive  float64   `json:"cumulativeActive"`
	EntryCount        int       `json:"entryCount"`
	DowntimeCount     int       `json:"downtimeCount"`
}

// LiveStats is the response of getLiveStats.
type LiveStats struct {
	SessionID   string        `json:"sessionId"`
	Status      SessionStatus `json:"status"`
	ElapsedTime float64       `json:"elapsedTime"`
	FrameCount  int64         `json:"frameCount"`
	FPS         float64       `json:"fps"`
	Zones       []ZoneStats   `json:"zones"`
}

// ZoneReport is the final accounting of one zone.
type ZoneReport struct {
	ZoneIndex         int          `json:"zoneIndex"`
	CumulativeIdle    float64      `json:"cumulativeIdle"`
	CumulativeActive  float64      `json:"cumulativeActive"`
	EfficiencyPercent float64      `json:"efficiencyPercent"`
	EntryCount        int          `json:"entryCount"`
	IdleTransitions   int          `json:"idleTransitions"`
	DowntimeCount     int          `json:"downtimeCount"`
	IdlePeriods       []IdlePeriod `json:"idlePeriods"`
}

// Report is the final structure handed to persistence when a session stops.
type Report struct {
	SessionID       string       `json:"sessionId"`
	SourceLocator   string       `json:"sourceLocator"`
	DetectorID      string       `json:"detectorId"`
	StartedAt       time.Time    `json:"startedAt"`
	EndedAt         time.Time    `json:"endedAt"`
	DurationSeconds float64      `json:"durationSeconds"`
	FrameCount      int64        `json:"frameCount"`
	FPS             float64      `json:"fps"`
	FailureReason   *ErrorCode   `json:"failureReason"`
	RecordingsDir   string       `json:"recordingsDir"`
	Zones           []ZoneReport `json:"zones"`
}

// Efficiency returns active/(active+idle) as a percentage, 0 when nothing was accounted.
func Efficiency(active, idle float64) float64 {
	total := active + idle
	if total <= 0 {
		return 0
	}
	return active / total * 100
}

// Round2 rounds seconds to two decimals, as shown in reports.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	SessionID     string        `json:"sessionId"`
	SourceLocator string        `json:"sourceLocator"`
	DetectorID    string        `json:"detectorId"`
	Status        SessionStatus `json:"status"`
	StartedAt     time.Time     `json:"startedAt"`
	EndedAt       *time.Time    `json:"endedAt,omitempty"`
	FailureReason *ErrorCode    `json:"failureReason,omitempty"`
}
