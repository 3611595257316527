package models

import "errors"

var (
	ErrSourceUnavailable    = errors.New("source unavailable")
	ErrSourceLost           = errors.New("source lost")
	ErrSourceTimeout        = errors.New("source timeout")
	ErrInvalidZone          = errors.New("invalid zone")
	ErrDetectorFailure      = errors.New("detector failure")
	ErrRecordingUnavailable = errors.New("recording unavailable")
	ErrSessionNotFound      = errors.New("session not found")
	ErrNotFound             = errors.New("not found")
)

// ErrorCode is the stable identifier of an engine error, used in API bodies and
// as a report failure reason.
type ErrorCode string

const (
	CodeSourceUnavailable    ErrorCode = "SourceUnavailable"
	CodeSourceLost           ErrorCode = "SourceLost"
	CodeSourceTimeout        ErrorCode = "SourceTimeout"
	CodeInvalidZone          ErrorCode = "InvalidZone"
	CodeDetectorFailure      ErrorCode = "DetectorFailure"
	CodeRecordingUnavailable ErrorCode = "RecordingUnavailable"
	CodeSessionNotFound      ErrorCode = "SessionNotFound"
	CodeNotFound             ErrorCode = "NotFound"
	CodeInternal             ErrorCode = "Internal"
)

var codes = []struct {
	err  error
	code ErrorCode
}{
	{ErrSourceUnavailable, CodeSourceUnavailable},
	{ErrSourceLost, CodeSourceLost},
	{ErrSourceTimeout, CodeSourceTimeout},
	{ErrInvalidZone, CodeInvalidZone},
	{ErrDetectorFailure, CodeDetectorFailure},
	{ErrRecordingUnavailable, CodeRecordingUnavailable},
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrNotFound, CodeNotFound},
}

// CodeOf maps err to its ErrorCode, or CodeInternal for unknown errors.
func CodeOf(err error) ErrorCode {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
