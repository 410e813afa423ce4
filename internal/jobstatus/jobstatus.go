// Package jobstatus defines the lifecycle model one source file moves
// through as it crosses the integrity and encode stages. Adapted from
// link270-shrinkray/internal/jobs/job.go's Job struct and JobEvent pub-sub
// payload, narrowed to the fields this pipeline's two-stage model and
// SPEC_FULL.md's StreamInfo/Decision types actually populate.
package jobstatus

import (
	"time"

	"github.com/voldardard/mkv2cast/internal/decision"
)

// Status is the current lifecycle state of a Job.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusChecking    Status = "checking"    // in the integrity stage
	StatusEncoding    Status = "encoding"    // in the encode stage
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
	StatusInterrupted Status = "interrupted"
)

// IsTerminal reports whether s ends the job's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusSkipped, StatusInterrupted:
		return true
	default:
		return false
	}
}

// Job tracks one source file end to end. A pipeline worker owns the Job
// while it processes it; a Sink only ever sees a Copy.
type Job struct {
	ID            string
	CorrelationID string // unique per run, used to disambiguate same-named inputs in per-job log names and sink output
	InputPath     string
	OutputPath string
	TempPath   string

	Status   Status
	Stage    string // "CHECK", "START", "STABLE", "FFPROBE", "DECODE", "TRANSCODE", "AUDIO", "REMUX"
	Percent  float64
	Speed    float64
	ETA      time.Duration
	Error    string
	SkipReason string

	Backend string

	Decision decision.Decision

	InputSize  int64
	OutputSize int64

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	HistoryID int64
}

// Copy returns a shallow copy safe to hand to a Sink without data races
// against the worker still mutating the original.
func (j *Job) Copy() *Job {
	c := *j
	return &c
}

// Event is published to every subscribed Sink as a Job changes state,
// mirroring the teacher's JobEvent shape (link270-shrinkray/internal/jobs/job.go).
type Event struct {
	Type string // "queued", "checking", "encoding", "progress", "done", "failed", "skipped", "interrupted"
	Job  *Job
}
