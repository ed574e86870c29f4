package queue

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/clonehoundhq/clonehound/internal/model"
)

// State of a job. Completed, failed and canceled are terminal; a retrying
// job moves back to queued until its attempts run out.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	}
	return false
}

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrTargetBusy is returned by Enqueue when the target already has a
	// queued or running job; the existing job is returned alongside it.
	ErrTargetBusy  = errors.New("target already has an active job")
	ErrTimeout     = errors.New("job timed out")
	ErrQueueClosed = errors.New("queue is stopped")
)

// TriggerPriority ranks triggers; higher values dequeue first, so manual
// triggers jump ahead of the nightly batch without starving it (FIFO holds
// within each class).
func TriggerPriority(trigger string) int {
	switch trigger {
	case "scheduled", "cron":
		return 1
	case "manual", "api":
		return 2
	default:
		return 2
	}
}

// Progress is the most recent stage report from the runner.
type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// Job is one unit of scan work tracked by the queue.
type Job struct {
	ID          string         `json:"id"`
	Kind        model.ScanKind `json:"kind"`
	Target      string         `json:"target"`
	Trigger     string         `json:"trigger,omitempty"`
	Priority    int            `json:"priority"`
	State       State          `json:"state"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Progress    *Progress      `json:"progress,omitempty"`
}

// snapshot returns a detached copy safe to hand outside the queue's lock.
func (j *Job) snapshot() Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		c.EndedAt = &t
	}
	if j.NextRetryAt != nil {
		t := *j.NextRetryAt
		c.NextRetryAt = &t
	}
	if j.Progress != nil {
		p := *j.Progress
		c.Progress = &p
	}
	return c
}

var jobSeq atomic.Uint64

// newJobID builds an id that sorts in creation order: a timestamp prefix for
// humans, a process-wide sequence for monotonicity within the same second.
func newJobID(now time.Time) string {
	return fmt.Sprintf("%s-%06d", now.UTC().Format("20060102T150405Z"), jobSeq.Add(1))
}

// Runner failures normally schedule a retry. Errors exposing
// Permanent() true fail the job immediately instead.
type permanenter interface{ Permanent() bool }

func retryable(err error) bool {
	var p permanenter
	if errors.As(err, &p) {
		return !p.Permanent()
	}
	return true
}
