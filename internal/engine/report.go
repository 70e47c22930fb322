package engine

import (
	"time"
)

// ApplyReport records the outcome of one apply attempt for the audit
// trail and for status queries.
type ApplyReport struct {
	ID            string        `json:"id"`
	Source        string        `json:"source"` // admin, hot-reload, lkg-revert, rollback
	PolicyVersion string        `json:"policyVersion,omitempty"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"duration"`

	Created   int `json:"created"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// historyLimit bounds the in-memory audit trail.
const historyLimit = 64

// appendHistory adds a report to a bounded history, newest last.
func appendHistory(history []ApplyReport, r ApplyReport) []ApplyReport {
	history = append(history, r)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	return history
}
