package store

import "time"

const (
	KindStatus = "status"
	KindUpdate = "update"
)

// Run is one invocation of the status reporter or the update runner.
type Run struct {
	ID         int64
	Kind       string
	StartedAt  time.Time
	FinishedAt time.Time
	File       string
	Total      int
	Failed     int
	Body       string
}

// RunResult is the per-container outcome of an update run.
type RunResult struct {
	ID             int64
	RunID          int64
	Container      string
	Image          string
	Status         string
	NewContainerID string
	DurationMS     int64
}
