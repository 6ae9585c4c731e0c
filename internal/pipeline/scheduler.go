package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/alanyoungcy/fundsettle/internal/metrics"
)

// cronClaimTTL bounds how long a cron bucket claim is held. It only needs to
// outlive clock skew between instances.
const cronClaimTTL = time.Hour

// Job is a periodic unit of work. Exactly one of Interval and Cron is set.
// Run must be idempotent: claims make double execution unlikely, not
// impossible.
type Job struct {
	Name     string
	Interval time.Duration
	Cron     string
	Run      func(ctx context.Context) error
}

func (j Job) validate() error {
	switch {
	case j.Name == "":
		return errors.New("job name is required")
	case j.Run == nil:
		return fmt.Errorf("job %s: run func is required", j.Name)
	case (j.Interval > 0) == (j.Cron != ""):
		return fmt.Errorf("job %s: set exactly one of interval and cron", j.Name)
	case j.Cron != "":
		if _, err := parseCron(j.Cron); err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
	}
	return nil
}

// Scheduler runs jobs on their schedules. Before each run an instance claims
// the job's time bucket with an atomic put-if-absent on
// job:<name>:<bucket-unix>; instances that lose the claim skip the bucket.
type Scheduler struct {
	claims domain.DocumentStore
	owner  string
	jobs   []Job
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduler creates a Scheduler. claims may be nil for a single instance,
// in which case every bucket runs. owner is written as the claim value.
func NewScheduler(claims domain.DocumentStore, owner string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		claims: claims,
		owner:  owner,
		logger: logger.With(slog.String("component", "scheduler")),
		now:    time.Now,
	}
}

// Add registers a job.
func (s *Scheduler) Add(job Job) error {
	if err := job.validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

// Run drives every job until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting", slog.Any("jobs", s.Jobs()))

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			var err error
			if job.Cron != "" {
				err = s.cronLoop(ctx, job)
			} else {
				err = s.intervalLoop(ctx, job)
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("scheduler: job %s: %w", job.Name, err)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("scheduler stopped cleanly")
	return nil
}

// intervalLoop runs the job immediately and then on every tick.
func (s *Scheduler) intervalLoop(ctx context.Context, job Job) error {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		at := s.now().UTC()
		_, _ = s.RunBucket(ctx, job, at.Truncate(job.Interval), 2*job.Interval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) cronLoop(ctx context.Context, job Job) error {
	for {
		next, err := nextCronTime(job.Cron, s.now().UTC())
		if err != nil {
			return err
		}
		wait := time.Until(next)
		s.logger.Debug("job waiting for cron trigger",
			slog.String("job", job.Name),
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			_, _ = s.RunBucket(ctx, job, next, cronClaimTTL)
		}
	}
}

// RunBucket claims the bucket starting at `bucket` for ttl and runs the job
// when the claim succeeds. It reports whether the job ran. Job errors are
// logged and returned; they never stop the schedule.
func (s *Scheduler) RunBucket(ctx context.Context, job Job, bucket time.Time, ttl time.Duration) (bool, error) {
	log := s.logger.With(slog.String("job", job.Name), slog.Time("bucket", bucket))

	if s.claims != nil {
		key := fmt.Sprintf("job:%s:%d", job.Name, bucket.Unix())
		claimed, err := s.claims.PutIfAbsent(ctx, key, []byte(s.owner), ttl)
		if err != nil {
			metrics.RecordJobRun(job.Name, "claim_failed")
			log.WarnContext(ctx, "job claim failed", slog.String("error", err.Error()))
			return false, fmt.Errorf("scheduler: claim %s: %w", key, err)
		}
		if !claimed {
			metrics.RecordJobRun(job.Name, "skipped")
			log.DebugContext(ctx, "job bucket claimed elsewhere")
			return false, nil
		}
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		metrics.RecordJobRun(job.Name, "failed")
		log.ErrorContext(ctx, "job failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return true, err
	}
	metrics.RecordJobRun(job.Name, "success")
	log.InfoContext(ctx, "job complete", slog.Duration("elapsed", time.Since(start)))
	return true, nil
}
