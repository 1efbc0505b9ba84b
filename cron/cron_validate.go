package cron

import (
	"fmt"
	"strings"
	"time"

	robfigcron "github.com/robfig/cron/v3"
)

// validateNew checks a job submitted through Add or AddAt.
func validateNew(job Job, existing map[string]Job, now time.Time) error {
	switch {
	case job.ID == "":
		return fmt.Errorf("id is required")
	case job.Function == "":
		return fmt.Errorf("function is required")
	}
	if _, ok := existing[job.ID]; ok {
		return fmt.Errorf("job already exists: %s", job.ID)
	}
	if _, err := job.Params(); err != nil {
		return fmt.Errorf("parameters for %s: %w", job.ID, err)
	}

	switch job.Kind {
	case JobKindCron:
		if job.Expr == "" {
			return fmt.Errorf("expr is required")
		}
		if _, err := robfigcron.ParseStandard(job.Expr); err != nil {
			return fmt.Errorf("invalid expr %q: %w", job.Expr, err)
		}
	case JobKindAt:
		if job.AtTime.IsZero() {
			return fmt.Errorf("at_time is required")
		}
		if !job.AtTime.After(now) {
			return fmt.Errorf("at_time must be in the future")
		}
	default:
		return fmt.Errorf("unsupported job kind: %s", job.Kind)
	}
	return nil
}

// validateStored reports whether a job read from the store or config can be
// scheduled. expired marks one-shot jobs whose time has passed; those are
// pruned from the store.
func validateStored(job Job, now time.Time) (ok bool, expired bool) {
	if job.ID == "" || job.Function == "" {
		return false, false
	}
	if _, err := job.Params(); err != nil {
		return false, false
	}
	switch job.Kind {
	case JobKindCron:
		return job.Expr != "", false
	case JobKindAt:
		if job.AtTime.IsZero() {
			return false, false
		}
		if job.Enabled && !job.AtTime.After(now) {
			return false, true
		}
		return true, false
	}
	return false, false
}

// normalize trims fields and infers Kind from AtTime when unset.
func normalize(job Job) Job {
	job.ID = strings.TrimSpace(job.ID)
	job.Kind = strings.ToLower(strings.TrimSpace(job.Kind))
	job.Expr = strings.TrimSpace(job.Expr)
	job.Function = strings.TrimSpace(job.Function)
	if !job.AtTime.IsZero() {
		job.AtTime = job.AtTime.UTC()
	}
	if job.Kind == "" {
		job.Kind = JobKindCron
		if !job.AtTime.IsZero() {
			job.Kind = JobKindAt
		}
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	return job
}
