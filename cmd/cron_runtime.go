package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/linanwx/clawlink/config"
	cronpkg "github.com/linanwx/clawlink/cron"
	"github.com/linanwx/clawlink/logger"
	"github.com/linanwx/clawlink/protocol"
)

const (
	cronReloadInterval = time.Minute
	keepaliveTimeout   = 5 * time.Second
)

// cronRuntime owns the scheduler that serve runs.
type cronRuntime struct {
	rt        *clientRuntime
	scheduler *cronpkg.Scheduler
}

func startScheduler(ctx context.Context, rt *clientRuntime) (*cronRuntime, error) {
	storePath, err := rt.cfg.CronStorePath()
	if err != nil {
		return nil, err
	}
	scheduler := cronpkg.NewScheduler(storePath, func(ctx context.Context, job *cronpkg.Job) error {
		params, err := job.Params()
		if err != nil {
			return fmt.Errorf("job %s parameters: %w", job.ID, err)
		}
		res, err := rt.session.Dispatch(ctx, job.Function, params)
		if err != nil {
			return err
		}
		if res.Queued {
			logger.Info("scheduled call queued while offline", "id", job.ID, "callId", res.ID)
		}
		return nil
	})

	cr := &cronRuntime{rt: rt, scheduler: scheduler}
	scheduler.SetSeeds(seedJobs(rt.cfg))
	if err := scheduler.Load(); err != nil {
		return nil, fmt.Errorf("failed to load scheduled calls: %w", err)
	}
	if err := scheduler.SetKeepalive(rt.cfg.KeepaliveSpec(), cr.ping); err != nil {
		return nil, err
	}
	scheduler.Start()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(cronReloadInterval):
				if err := scheduler.Load(); err != nil {
					logger.Warn("failed to reload scheduled calls", "err", err)
				}
			}
		}
	}()

	return cr, nil
}

// Reseed applies schedules and keepalive from a reloaded config.
func (c *cronRuntime) Reseed(cfg *config.Config) {
	c.scheduler.SetSeeds(seedJobs(cfg))
	if err := c.scheduler.Load(); err != nil {
		logger.Warn("failed to reload scheduled calls", "err", err)
	}
	if err := c.scheduler.SetKeepalive(cfg.KeepaliveSpec(), c.ping); err != nil {
		logger.Warn("keepalive not updated", "err", err)
	}
}

func (c *cronRuntime) Stop() { c.scheduler.Stop() }

// ping is skipped while offline; the transport reconnects on its own.
func (c *cronRuntime) ping() {
	if !c.rt.session.Online() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), keepaliveTimeout)
	defer cancel()
	if err := c.rt.session.Transport().Send(ctx, protocol.Ping()); err != nil {
		logger.Debug("keepalive ping failed", "err", err)
	}
}

func seedJobs(cfg *config.Config) []cronpkg.Job {
	jobs := make([]cronpkg.Job, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		jobs = append(jobs, cronpkg.Job{
			ID:         s.ID,
			Kind:       cronpkg.JobKindCron,
			Expr:       s.Expr,
			Function:   s.Function,
			Parameters: s.Parameters,
			Enabled:    true,
		})
	}
	return jobs
}
