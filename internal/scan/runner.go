package scan

import (
	"context"
	"fmt"

	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/queue"
	"github.com/clonehoundhq/clonehound/internal/report"
)

// JobRunner executes queued scan jobs against the orchestrator and hands
// finished results to the report coordinator.
type JobRunner struct {
	orc     *Orchestrator
	reports *report.Coordinator
}

// NewJobRunner builds the queue runner. The report coordinator may be nil
// when report generation is not wanted (tests, one-shot scans that render
// elsewhere).
func NewJobRunner(orc *Orchestrator, reports *report.Coordinator) *JobRunner {
	return &JobRunner{orc: orc, reports: reports}
}

// Run dispatches one job by kind. The job's target names a registry
// repository for intra scans and a repository group for inter scans.
func (r *JobRunner) Run(ctx context.Context, job queue.Job, progress queue.ProgressFunc) error {
	result, err := r.run(ctx, job, progress)
	if err != nil {
		// Exhausted jobs leave a failure mark in the repository history so
		// the selector does not starve a repeatedly failing repository.
		if job.Kind == model.ScanKindIntra && job.Attempts >= job.MaxAttempts {
			r.orc.RecordFailure(job.Target, err.Error())
		}
		return err
	}
	if r.reports != nil {
		if _, err := r.reports.Render(ctx, result); err != nil {
			r.orc.logger.Printf("job %s: report rendering: %v", job.ID, err)
		}
	}
	return nil
}

func (r *JobRunner) run(ctx context.Context, job queue.Job, progress queue.ProgressFunc) (*model.ScanResult, error) {
	report := ProgressFunc(progress)
	switch job.Kind {
	case model.ScanKindInter:
		group, ok := r.orc.reg.GetGroup(job.Target)
		if !ok {
			return nil, &RepositoryError{Name: job.Target, Err: fmt.Errorf("repository group not registered")}
		}
		return r.orc.ScanGroup(ctx, group, report)
	default:
		repo, ok := r.orc.reg.GetByName(job.Target)
		if !ok {
			return nil, &RepositoryError{Name: job.Target, Err: fmt.Errorf("repository not registered")}
		}
		return r.orc.ScanRepository(ctx, repo, report)
	}
}
