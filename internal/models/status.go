package models

type SessionStatus string

// Константы статусов
const (
	StatusRunning  SessionStatus = "running"
	StatusStopping SessionStatus = "stopping"
	StatusStopped  SessionStatus = "stopped"
	StatusFailed   SessionStatus = "failed"
)

// IsValidStatusTransition проверяет допустимость перехода между статусами
func IsValidStatusTransition(currentStatus, newStatus SessionStatus) bool {
	transitions := map[SessionStatus][]SessionStatus{
		StatusRunning:  {StatusStopping},
		StatusStopping: {StatusStopped, StatusFailed},
	}

	for _, allowedStatus := range transitions[currentStatus] {
		if allowedStatus == newStatus {
			return true
		}
	}
	return false
}

// Finished reports whether the session has a final report.
func (s SessionStatus) Finished() bool {
	return s == StatusStopped || s == StatusFailed
}
