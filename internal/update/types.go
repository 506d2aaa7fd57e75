package update

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusSuccess    Status = "success"
	StatusFailedPull Status = "failed_pull"
	StatusFailedRun  Status = "failed_run"
)

func errorStatus(msg string) Status {
	return Status("error: " + msg)
}

func (s Status) OK() bool {
	return s == StatusSuccess
}

func (s Status) IsError() bool {
	return strings.HasPrefix(string(s), "error:")
}

// Step is the outcome of one runtime action taken for a container.
type Step struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Code   int    `json:"code"`
	Output string `json:"output"`
}

// Result is the record of one container's update attempt.
type Result struct {
	Container      string    `json:"container"`
	OldImage       string    `json:"old_image"`
	Image          string    `json:"image"`
	Status         Status    `json:"status"`
	NewContainerID string    `json:"new_container_id,omitempty"`
	Steps          []Step    `json:"steps"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	DurationMS     int64     `json:"duration_ms"`
}

// Log is the document written once per update run.
type Log struct {
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	Mode       string    `json:"mode"`
	Results    []Result  `json:"results"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

func (l Log) Failed() []Result {
	var out []Result
	for _, r := range l.Results {
		if !r.Status.OK() {
			out = append(out, r)
		}
	}
	return out
}

// FailureMessage summarises the results that did not succeed, or returns ""
// when every container was updated.
func FailureMessage(l Log) string {
	failed := l.Failed()
	if len(failed) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "update run %s: %d of %d containers failed", l.Timestamp.Format(time.RFC3339), len(failed), len(l.Results))
	for _, r := range failed {
		fmt.Fprintf(&sb, "\n- %s (%s): %s", r.Container, r.Image, r.Status)
		if r.Status == StatusFailedRun {
			sb.WriteString(" [container is absent]")
		}
	}
	return sb.String()
}
