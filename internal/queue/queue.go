// Package queue runs scan jobs on a bounded in-process worker pool. Jobs are
// FIFO within a priority class, retried with exponential backoff, and every
// lifecycle transition is published on the event bus. Terminal jobs are
// persisted as JSON records so history survives the process.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/clonehoundhq/clonehound/internal/events"
	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/storage"
)

// ProgressFunc reports stage progress from inside a running job.
type ProgressFunc func(stage string, percent int, message string)

// Runner executes one job. The context carries the per-job timeout and is
// canceled on Cancel or queue shutdown; implementations are expected to
// return promptly once it is done.
type Runner interface {
	Run(ctx context.Context, job Job, report ProgressFunc) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job Job, report ProgressFunc) error

func (f RunnerFunc) Run(ctx context.Context, job Job, report ProgressFunc) error {
	return f(ctx, job, report)
}

type Options struct {
	Workers     int
	JobTimeout  time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	// RetentionLimit caps how many terminal jobs stay queryable in memory.
	// Full records remain on disk regardless.
	RetentionLimit int
	Logger         *log.Logger
}

// Queue owns the job table and the worker pool.
type Queue struct {
	runner Runner
	bus    *events.Bus
	store  *storage.Storage
	opts   Options
	logger *log.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    map[string]*Job
	order   []string         // creation order, oldest first
	ready   map[int][]string // priority class -> FIFO of job ids
	cancels map[string]context.CancelFunc
	timers  map[string]*time.Timer
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(runner Runner, bus *events.Bus, store *storage.Storage, opts Options) *Queue {
	if opts.Workers < 1 {
		opts.Workers = 2
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.RetentionLimit <= 0 {
		opts.RetentionLimit = 200
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		runner:  runner,
		bus:     bus,
		store:   store,
		opts:    opts,
		logger:  logger,
		jobs:    make(map[string]*Job),
		ready:   make(map[int][]string),
		cancels: make(map[string]context.CancelFunc),
		timers:  make(map[string]*time.Timer),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Start() {
	q.logger.Printf("queue: starting %d workers", q.opts.Workers)
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.work(i)
	}
}

// Stop drains the pool: pending retry timers are discarded, running jobs get
// their contexts canceled and finish as canceled, workers exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.logger.Printf("queue: stopped")
}

// Enqueue adds a job for the target. A target with a queued or running job
// is not enqueued twice: the active job is returned with ErrTargetBusy.
func (q *Queue) Enqueue(kind model.ScanKind, target, trigger string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return Job{}, ErrQueueClosed
	}
	for _, id := range q.order {
		j := q.jobs[id]
		if j.Target == target && j.Kind == kind && !j.State.Terminal() {
			return j.snapshot(), ErrTargetBusy
		}
	}

	now := time.Now()
	job := &Job{
		ID:          newJobID(now),
		Kind:        kind,
		Target:      target,
		Trigger:     trigger,
		Priority:    TriggerPriority(trigger),
		State:       StateQueued,
		MaxAttempts: q.opts.MaxAttempts,
		CreatedAt:   now,
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.ready[job.Priority] = append(q.ready[job.Priority], job.ID)
	q.cond.Signal()

	snap := job.snapshot()
	q.publish(events.TopicJobCreated, snap, nil)
	return snap, nil
}

// Cancel stops a job. Queued jobs (including ones waiting out a retry delay)
// become canceled immediately; running jobs get their context canceled and
// finish as canceled once the runner returns. Canceling a terminal or
// already-canceled job is a no-op.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}

	switch job.State {
	case StateQueued:
		q.removeReadyLocked(id)
		if t, ok := q.timers[id]; ok {
			t.Stop()
			delete(q.timers, id)
		}
		q.transitionLocked(job, StateQueued, StateCanceled)
		now := time.Now()
		job.EndedAt = &now
		job.Error = "canceled"
		job.NextRetryAt = nil
		snap := job.snapshot()
		q.pruneLocked()
		q.mu.Unlock()
		q.publish(events.TopicJobCanceled, snap, nil)
		q.persist(snap)
		return nil
	case StateRunning:
		cancel := q.cancels[id]
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	default:
		q.mu.Unlock()
		return nil
	}
}

// Get returns a snapshot of the job.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.snapshot(), true
}

// List returns snapshots of all retained jobs, newest first.
func (q *Queue) List() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.order))
	for i := len(q.order) - 1; i >= 0; i-- {
		out = append(out, q.jobs[q.order[i]].snapshot())
	}
	return out
}

// Depth counts jobs waiting to run, including those in a retry delay.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, job := range q.jobs {
		if job.State == StateQueued {
			n++
		}
	}
	return n
}

// ActiveCount counts running jobs.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, job := range q.jobs {
		if job.State == StateRunning {
			n++
		}
	}
	return n
}

func (q *Queue) work(n int) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for !q.stopped && q.readyEmptyLocked() {
			q.cond.Wait()
		}
		if q.stopped {
			q.mu.Unlock()
			return
		}
		job := q.popLocked()
		if job == nil || !q.transitionLocked(job, StateQueued, StateRunning) {
			q.mu.Unlock()
			continue
		}
		job.Attempts++
		if job.StartedAt == nil {
			now := time.Now()
			job.StartedAt = &now
		}
		runCtx, cancel := context.WithTimeout(q.ctx, q.opts.JobTimeout)
		q.cancels[job.ID] = cancel
		snap := job.snapshot()
		q.mu.Unlock()

		q.publish(events.TopicJobStarted, snap, nil)
		q.logger.Printf("queue: worker %d running job %s (%s %s, attempt %d/%d)",
			n, snap.ID, snap.Kind, snap.Target, snap.Attempts, snap.MaxAttempts)

		err := q.runner.Run(runCtx, snap, q.progressFunc(snap.ID))
		ctxErr := runCtx.Err()
		cancel()
		q.finish(snap.ID, ctxErr, err)
	}
}

// finish settles a job after its runner returned. Exactly one worker owns a
// running job, so transitions here cannot race another finish; the CAS guard
// still protects against doubled transitions.
func (q *Queue) finish(id string, ctxErr, runErr error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.cancels, id)
	now := time.Now()

	switch {
	case runErr == nil:
		if !q.transitionLocked(job, StateRunning, StateCompleted) {
			q.mu.Unlock()
			return
		}
		job.EndedAt = &now
		job.Error = ""
		snap := job.snapshot()
		q.pruneLocked()
		q.mu.Unlock()
		q.publish(events.TopicJobCompleted, snap, map[string]any{
			"duration_seconds": now.Sub(snap.CreatedAt).Seconds(),
		})
		q.persist(snap)

	case errors.Is(ctxErr, context.Canceled) || errors.Is(runErr, context.Canceled):
		if !q.transitionLocked(job, StateRunning, StateCanceled) {
			q.mu.Unlock()
			return
		}
		job.EndedAt = &now
		job.Error = "canceled"
		snap := job.snapshot()
		q.pruneLocked()
		q.mu.Unlock()
		q.publish(events.TopicJobCanceled, snap, nil)
		q.persist(snap)

	default:
		if errors.Is(ctxErr, context.DeadlineExceeded) || errors.Is(runErr, context.DeadlineExceeded) {
			runErr = fmt.Errorf("%w after %s: %v", ErrTimeout, q.opts.JobTimeout, runErr)
		}
		job.Error = runErr.Error()

		if job.Attempts < job.MaxAttempts && retryable(runErr) {
			q.transitionLocked(job, StateRunning, StateQueued)
			delay := q.opts.RetryDelay << (job.Attempts - 1)
			retryAt := now.Add(delay)
			job.NextRetryAt = &retryAt
			if !q.stopped {
				q.timers[id] = time.AfterFunc(delay, func() { q.requeue(id) })
			}
			snap := job.snapshot()
			q.mu.Unlock()
			q.logger.Printf("queue: job %s failed (attempt %d/%d), retrying in %s: %v",
				id, snap.Attempts, snap.MaxAttempts, delay, runErr)
			q.publish(events.TopicJobRetrying, snap, map[string]any{
				"will_retry":    true,
				"next_retry_at": retryAt,
			})
			return
		}

		if !q.transitionLocked(job, StateRunning, StateFailed) {
			q.mu.Unlock()
			return
		}
		job.EndedAt = &now
		job.NextRetryAt = nil
		snap := job.snapshot()
		q.pruneLocked()
		q.mu.Unlock()
		q.logger.Printf("queue: job %s failed permanently after %d attempts: %v", id, snap.Attempts, runErr)
		q.publish(events.TopicJobFailed, snap, map[string]any{"will_retry": false})
		q.persist(snap)
	}
}

// requeue puts a job back on the ready list once its retry delay elapsed.
func (q *Queue) requeue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.timers, id)
	job, ok := q.jobs[id]
	if !ok || q.stopped || job.State != StateQueued {
		return
	}
	job.NextRetryAt = nil
	q.ready[job.Priority] = append(q.ready[job.Priority], job.ID)
	q.cond.Signal()
}

func (q *Queue) progressFunc(id string) ProgressFunc {
	return func(stage string, percent int, message string) {
		q.mu.Lock()
		job, ok := q.jobs[id]
		if !ok || job.State != StateRunning {
			q.mu.Unlock()
			return
		}
		job.Progress = &Progress{Stage: stage, Percent: percent, Message: message}
		snap := job.snapshot()
		q.mu.Unlock()
		q.publish(events.TopicJobProgress, snap, nil)
	}
}

func (q *Queue) readyEmptyLocked() bool {
	for _, ids := range q.ready {
		if len(ids) > 0 {
			return false
		}
	}
	return true
}

// popLocked dequeues the oldest job from the highest non-empty priority class.
func (q *Queue) popLocked() *Job {
	best := -1
	for p, ids := range q.ready {
		if len(ids) > 0 && p > best {
			best = p
		}
	}
	if best < 0 {
		return nil
	}
	ids := q.ready[best]
	id := ids[0]
	q.ready[best] = ids[1:]
	return q.jobs[id]
}

func (q *Queue) removeReadyLocked(id string) {
	for p, ids := range q.ready {
		for i, candidate := range ids {
			if candidate == id {
				q.ready[p] = append(ids[:i:i], ids[i+1:]...)
				return
			}
		}
	}
}

// transitionLocked is the compare-and-set at the heart of the state machine.
// A job not in the expected source state keeps its current state and the
// transition reports false.
func (q *Queue) transitionLocked(job *Job, from, to State) bool {
	if job.State != from {
		return false
	}
	job.State = to
	return true
}

// pruneLocked evicts the oldest terminal jobs beyond the retention limit.
func (q *Queue) pruneLocked() {
	terminal := 0
	for _, id := range q.order {
		if q.jobs[id].State.Terminal() {
			terminal++
		}
	}
	if terminal <= q.opts.RetentionLimit {
		return
	}
	kept := q.order[:0]
	for _, id := range q.order {
		if terminal > q.opts.RetentionLimit && q.jobs[id].State.Terminal() {
			delete(q.jobs, id)
			terminal--
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}

func (q *Queue) publish(topic string, job Job, extra map[string]any) {
	if q.bus == nil {
		return
	}
	data := map[string]any{
		"kind":    string(job.Kind),
		"trigger": job.Trigger,
		"state":   string(job.State),
		"attempt": job.Attempts,
	}
	if job.Error != "" {
		data["error"] = job.Error
	}
	for k, v := range extra {
		data[k] = v
	}
	e := events.Event{
		Topic:      topic,
		JobID:      job.ID,
		Repository: job.Target,
		Data:       data,
	}
	if job.Progress != nil {
		e.Stage = job.Progress.Stage
		e.Progress = job.Progress.Percent
		e.Message = job.Progress.Message
	}
	q.bus.Publish(e)
}

func (q *Queue) persist(job Job) {
	if q.store == nil {
		return
	}
	failed := job.State != StateCompleted
	if err := q.store.SaveJobRecord(job.ID, failed, job); err != nil {
		q.logger.Printf("queue: persist job %s: %v", job.ID, err)
	}
}
