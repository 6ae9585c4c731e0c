package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fundsettle/internal/service"
)

// OrchestratorConfig holds the job schedules.
type OrchestratorConfig struct {
	SweepInterval time.Duration
	NAVInterval   time.Duration
	ArchiveCron   string
}

// Orchestrator registers the settlement jobs on a Scheduler: the withdrawal
// sweeper, NAV snapshots and cold-storage archival. Nil components are left
// out.
type Orchestrator struct {
	scheduler *Scheduler
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator and registers its jobs.
func NewOrchestrator(
	scheduler *Scheduler,
	sweeper *service.WithdrawalSweeper,
	nav *service.NAVEstimator,
	archiver *Archiver,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) (*Orchestrator, error) {
	o := &Orchestrator{scheduler: scheduler, logger: logger}

	var jobs []Job
	if sweeper != nil {
		jobs = append(jobs, Job{
			Name:     "withdrawal_sweep",
			Interval: cfg.SweepInterval,
			Run: func(ctx context.Context) error {
				_, err := sweeper.Sweep(ctx)
				return err
			},
		})
	}
	if nav != nil {
		jobs = append(jobs, Job{
			Name:     "nav_snapshot",
			Interval: cfg.NAVInterval,
			Run: func(ctx context.Context) error {
				_, err := nav.SnapshotAll(ctx)
				return err
			},
		})
	}
	if archiver != nil && cfg.ArchiveCron != "" {
		jobs = append(jobs, Job{
			Name: "archive",
			Cron: cfg.ArchiveCron,
			Run:  archiver.Run,
		})
	}

	for _, j := range jobs {
		if err := scheduler.Add(j); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}
	return o, nil
}

// Run blocks until ctx is cancelled or a job loop fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting", slog.Any("jobs", o.scheduler.Jobs()))
	return o.scheduler.Run(ctx)
}
