// Package cron schedules locally originated function calls and the client
// keepalive ping.
package cron

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/linanwx/clawlink/logger"
)

const dispatchTimeout = 5 * time.Minute

// SetSeeds installs jobs from configuration. Seeds are scheduled on Load but
// never persisted; a stored job with the same id wins.
func (s *Scheduler) SetSeeds(jobs []Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seedJobs = append([]Job(nil), jobs...)
}

func (s *Scheduler) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.readStore()
	if err != nil {
		return err
	}

	// Only reset in-memory schedules after the store parsed.
	s.resetLocked()

	now := time.Now().UTC()
	dirty := false
	for _, raw := range list {
		job := normalize(raw)
		ok, expired := validateStored(job, now)
		if !ok {
			if expired {
				dirty = true
			}
			continue
		}

		s.jobs[job.ID] = job
		cancel, err := s.scheduleLocked(job)
		if err != nil {
			logger.Warn("failed to schedule job from store", "id", job.ID, "kind", job.Kind, "err", err)
			continue
		}
		if cancel != nil {
			s.cancels[job.ID] = cancel
		}
	}

	for _, raw := range s.seedJobs {
		job := normalize(raw)
		if _, overridden := s.jobs[job.ID]; overridden {
			continue
		}
		if ok, _ := validateStored(job, now); !ok {
			logger.Warn("skipping invalid scheduled call from config", "id", job.ID)
			continue
		}
		cancel, err := s.scheduleLocked(job)
		if err != nil {
			logger.Warn("failed to schedule seed job", "id", job.ID, "err", err)
			continue
		}
		if cancel != nil {
			s.cancels[job.ID] = cancel
		}
	}

	if dirty {
		if err := s.saveLocked(); err != nil {
			logger.Warn("failed to save cron store after pruning expired at jobs", "err", err)
		}
	}
	return nil
}

// Add persists and schedules a recurring call.
func (s *Scheduler) Add(id, expr, function string, params map[string]any) error {
	return s.add(Job{
		ID:         strings.TrimSpace(id),
		Kind:       JobKindCron,
		Expr:       strings.TrimSpace(expr),
		Function:   strings.TrimSpace(function),
		Parameters: params,
		Enabled:    true,
		CreatedAt:  time.Now().UTC(),
	})
}

// AddAt persists and schedules a one-shot call.
func (s *Scheduler) AddAt(id string, atTime time.Time, function string, params map[string]any) error {
	return s.add(Job{
		ID:         strings.TrimSpace(id),
		Kind:       JobKindAt,
		AtTime:     atTime.UTC(),
		Function:   strings.TrimSpace(function),
		Parameters: params,
		Enabled:    true,
		CreatedAt:  time.Now().UTC(),
	})
}

func (s *Scheduler) add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateNew(job, s.jobs, time.Now().UTC()); err != nil {
		return err
	}

	cancel, err := s.scheduleLocked(job)
	if err != nil {
		return err
	}

	s.jobs[job.ID] = job
	if cancel != nil {
		s.cancels[job.ID] = cancel
	}
	if err := s.saveLocked(); err != nil {
		s.unscheduleLocked(job.ID)
		delete(s.jobs, job.ID)
		return err
	}
	return nil
}

func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("job not found: %s", id)
	}

	s.unscheduleLocked(id)
	delete(s.jobs, id)
	return s.saveLocked()
}

// List returns persisted jobs sorted by id.
func (s *Scheduler) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		j := job
		out = append(out, &j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetKeepalive runs fn on expr until Stop. An empty expr clears it.
func (s *Scheduler) SetKeepalive(expr string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keepalive != nil {
		s.keepalive()
		s.keepalive = nil
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	entryID, err := s.cron.AddFunc(expr, fn)
	if err != nil {
		return fmt.Errorf("keepalive schedule %q: %w", expr, err)
	}
	s.keepalive = func() { s.cron.Remove(entryID) }
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.resetLocked()
	if s.keepalive != nil {
		s.keepalive()
		s.keepalive = nil
	}
	s.mu.Unlock()
}

func (s *Scheduler) fire(job Job) {
	if s.dispatch == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	if err := s.dispatch(ctx, &job); err != nil {
		logger.Warn("scheduled call failed", "id", job.ID, "function", job.Function, "err", err)
		return
	}
	logger.Info("scheduled call dispatched", "id", job.ID, "function", job.Function)
}

func (s *Scheduler) scheduleLocked(job Job) (func(), error) {
	if !job.Enabled {
		return nil, nil
	}

	switch job.Kind {
	case JobKindCron:
		entryID, err := s.cron.AddFunc(job.Expr, func() { s.fire(job) })
		if err != nil {
			return nil, err
		}
		return func() { s.cron.Remove(entryID) }, nil

	case JobKindAt:
		delay := time.Until(job.AtTime)
		if delay <= 0 {
			return nil, fmt.Errorf("at_time must be in the future")
		}

		timer := time.AfterFunc(delay, func() {
			s.fire(job)

			s.mu.Lock()
			delete(s.jobs, job.ID)
			delete(s.cancels, job.ID)
			if err := s.saveLocked(); err != nil {
				logger.Warn("failed to persist cron store after at job execution", "id", job.ID, "err", err)
			}
			s.mu.Unlock()
		})
		return func() { timer.Stop() }, nil
	}

	return nil, fmt.Errorf("unsupported job kind: %s", job.Kind)
}

func (s *Scheduler) unscheduleLocked(id string) {
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
}

func (s *Scheduler) resetLocked() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.jobs = make(map[string]Job)
	s.cancels = make(map[string]func())
}
