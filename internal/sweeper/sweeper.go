// Package sweeper runs periodic reconciliation jobs until shutdown.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job is one periodic task. Run returns how many items it handled.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int64, error)
}

type Runner struct {
	jobs []Job
	log  *zap.Logger
}

func New(log *zap.Logger, jobs ...Job) *Runner {
	return &Runner{
		jobs: jobs,
		log:  log.With(zap.String("component", "sweeper")),
	}
}

// Run starts every job on its own ticker and blocks until ctx is cancelled.
// A failing run is logged and the job keeps its schedule.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, job := range r.jobs {
		g.Go(func() error {
			r.loop(ctx, job)
			return nil
		})
	}

	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	interval := job.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	log := r.log.With(zap.String("job", job.Name))
	log.Info("sweeper started", zap.Duration("interval", interval))

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper stopped")
			return
		case <-t.C:
			r.runOnce(ctx, log, job)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, log *zap.Logger, job Job) {
	start := time.Now()

	n, err := job.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("sweeper run failed", zap.Error(err))
		return
	}

	if n > 0 {
		log.Info("sweeper run", zap.Int64("handled", n), zap.Duration("took", time.Since(start)))
		return
	}

	log.Debug("sweeper run", zap.Duration("took", time.Since(start)))
}
