package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/cheekschecker/internal/config"
	"github.com/TobiSchelling/cheekschecker/internal/pipeline"
	"github.com/TobiSchelling/cheekschecker/internal/summary"
)

// Job is a named unit of work run on a cron spec.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on their cron specs. A job still running when its
// next tick arrives is skipped for that tick.
type Scheduler struct {
	engine  *cron.Cron
	timeout time.Duration
	jobs    map[string]Job
}

// New registers jobs with a cron engine in loc. Each run gets a context
// bounded by timeout.
func New(loc *time.Location, timeout time.Duration, jobs []Job) (*Scheduler, error) {
	logger := cron.PrintfLogger(log.StandardLogger())
	s := &Scheduler{
		engine: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		timeout: timeout,
		jobs:    make(map[string]Job, len(jobs)),
	}
	for _, job := range jobs {
		if job.Spec == "" {
			log.WithField("job", job.Name).Info("job disabled: no schedule")
			continue
		}
		if _, err := s.engine.AddFunc(job.Spec, func() { s.run(job) }); err != nil {
			return nil, fmt.Errorf("scheduling %s (%q): %w", job.Name, job.Spec, err)
		}
		s.jobs[job.Name] = job
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	log.WithField("jobs", len(s.jobs)).Info("Starting scheduler...")
	s.engine.Start()
	for _, e := range s.engine.Entries() {
		log.WithField("next", e.Next.Format(time.RFC3339)).Debug("scheduled entry")
	}
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	log.Info("Stopping scheduler...")
	<-s.engine.Stop().Done()
	log.Info("Scheduler stopped")
}

// RunNow runs the named job immediately on the caller's goroutine.
func (s *Scheduler) RunNow(name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.run(job)
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.engine.Entries())
}

func (s *Scheduler) run(job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	logger := log.WithField("job", job.Name)
	logger.Info("job triggered")
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		logger.WithError(err).Error("job failed")
		return err
	}
	logger.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("job finished")
	return nil
}

// PipelineJobs returns the watch, weekly and monthly jobs of p using the
// schedule in cfg.
func PipelineJobs(p *pipeline.Pipeline, cfg *config.Config) []Job {
	return []Job{
		{
			Name: "watch",
			Spec: cfg.Schedule.Watch,
			Run: func(ctx context.Context) error {
				return p.Watch(ctx, pipeline.WatchOptions{}).Err()
			},
		},
		{
			Name: "weekly",
			Spec: cfg.Schedule.Weekly,
			Run: func(ctx context.Context) error {
				return p.Summary(ctx, summary.WeeklyPeriod(p.LogicalToday())).Err()
			},
		},
		{
			Name: "monthly",
			Spec: cfg.Schedule.Monthly,
			Run: func(ctx context.Context) error {
				return p.Summary(ctx, summary.MonthlyPeriod(p.LogicalToday())).Err()
			},
		},
	}
}
