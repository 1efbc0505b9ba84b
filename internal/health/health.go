package health

import (
	"encoding/json"
	"runtime"
	"time"

	"github.com/linanwx/clawlink/inference"
	"github.com/linanwx/clawlink/protocol"
	"github.com/linanwx/clawlink/session"
)

// Snapshot is a point-in-time view of the client.
type Snapshot struct {
	Status     string         `json:"status" yaml:"status"`
	Connection ConnectionInfo `json:"connection" yaml:"connection"`
	Queue      QueueInfo      `json:"queue" yaml:"queue"`
	Functions  []string       `json:"functions" yaml:"functions"`
	Inference  *InferenceInfo `json:"inference,omitempty" yaml:"inference,omitempty"`
	Goroutines int            `json:"goroutines" yaml:"goroutines"`
	Memory     MemoryInfo     `json:"memory" yaml:"memory"`
	Runtime    RuntimeInfo    `json:"runtime" yaml:"runtime"`
	Timestamp  string         `json:"timestamp" yaml:"timestamp"`
}

type ConnectionInfo struct {
	State     string `json:"state" yaml:"state"`
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
	Attempts  int    `json:"reconnect_attempts" yaml:"reconnect_attempts"`
	LastError string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

type QueueInfo struct {
	Pending int  `json:"pending" yaml:"pending"`
	Syncing bool `json:"syncing" yaml:"syncing"`
}

type InferenceInfo struct {
	Loaded bool   `json:"loaded" yaml:"loaded"`
	Model  string `json:"model,omitempty" yaml:"model,omitempty"`
}

type MemoryInfo struct {
	AllocMB      float64 `json:"alloc_mb" yaml:"alloc_mb"`
	TotalAllocMB float64 `json:"total_alloc_mb" yaml:"total_alloc_mb"`
	SysMB        float64 `json:"sys_mb" yaml:"sys_mb"`
	NumGC        uint32  `json:"num_gc" yaml:"num_gc"`
}

type RuntimeInfo struct {
	Version string `json:"version" yaml:"version"`
	OS      string `json:"os" yaml:"os"`
	Arch    string `json:"arch" yaml:"arch"`
	CPUs    int    `json:"cpus" yaml:"cpus"`
}

// Options selects what Collect inspects. Nil fields are skipped.
type Options struct {
	Session *session.Session
	Engine  inference.Engine
}

// Collect returns a health snapshot for the current process.
func Collect(opts Options) Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := Snapshot{
		Status:     "healthy",
		Functions:  []string{},
		Goroutines: runtime.NumGoroutine(),
		Memory: MemoryInfo{
			AllocMB:      float64(mem.Alloc) / 1024 / 1024,
			TotalAllocMB: float64(mem.TotalAlloc) / 1024 / 1024,
			SysMB:        float64(mem.Sys) / 1024 / 1024,
			NumGC:        mem.NumGC,
		},
		Runtime: RuntimeInfo{
			Version: runtime.Version(),
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			CPUs:    runtime.NumCPU(),
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if sess := opts.Session; sess != nil {
		state := sess.State()
		s.Connection = ConnectionInfo{
			State:     state.Kind.String(),
			URL:       sess.Transport().URL(),
			Attempts:  sess.Transport().Attempts(),
			LastError: sess.LastError(),
		}
		s.Queue = QueueInfo{
			Pending: sess.Queue().Count(),
			Syncing: sess.Queue().Syncing(),
		}
		s.Functions = sess.Registry().IDs()
		if !state.Connected() {
			s.Status = "degraded"
		}
	} else {
		s.Connection.State = "disconnected"
	}

	if opts.Engine != nil {
		s.Inference = &InferenceInfo{
			Loaded: opts.Engine.IsLoaded(),
			Model:  opts.Engine.LoadedModel(),
		}
	}
	return s
}

// Value converts the snapshot to a protocol value for function results.
func (s Snapshot) Value() (protocol.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.ParseValue(data)
}
