package cron

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/linanwx/clawlink/protocol"
	robfigcron "github.com/robfig/cron/v3"
)

const (
	JobKindCron = "cron"
	JobKindAt   = "at"
)

// Job dispatches a local function call on a schedule.
type Job struct {
	ID         string         `json:"id" yaml:"id"`
	Kind       string         `json:"kind,omitempty" yaml:"kind,omitempty"`
	Expr       string         `json:"expr,omitempty" yaml:"expr,omitempty"`
	AtTime     time.Time      `json:"at_time,omitempty" yaml:"at_time,omitempty"`
	Function   string         `json:"function" yaml:"function"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Enabled    bool           `json:"enabled" yaml:"enabled"`
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at"`
}

// Params converts the job parameters to a protocol object.
func (j *Job) Params() (*protocol.Object, error) {
	v, err := protocol.FromAny(j.Parameters)
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return protocol.NewObject(), nil
	}
	obj, _ := v.AsObject()
	return obj, nil
}

// Dispatcher runs the function call of a fired job.
type Dispatcher func(ctx context.Context, job *Job) error

// Scheduler runs persisted and seed jobs through a Dispatcher.
type Scheduler struct {
	cron      *robfigcron.Cron
	dispatch  Dispatcher
	jobs      map[string]Job
	seedJobs  []Job
	cancels   map[string]func()
	storePath string
	keepalive func()
	mu        sync.Mutex
}

func NewScheduler(storePath string, dispatch Dispatcher) *Scheduler {
	return &Scheduler{
		cron:      robfigcron.New(),
		dispatch:  dispatch,
		jobs:      make(map[string]Job),
		cancels:   make(map[string]func()),
		storePath: strings.TrimSpace(storePath),
	}
}
