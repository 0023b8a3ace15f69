// Package stores persists build history and build-cache fingerprints in a
// local SQLite database under the workspace temp folder.
package stores

import (
	"time"
)

// RunRecord is one persisted scheduler run.
type RunRecord struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Cached    int           `json:"cached"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	OK        bool          `json:"ok"`
}

// TaskRecord is one persisted task outcome within a run.
type TaskRecord struct {
	RunID    string        `json:"run_id"`
	Project  string        `json:"project"`
	State    string        `json:"state"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}
