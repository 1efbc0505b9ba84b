package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linanwx/clawlink/inference"
	"github.com/linanwx/clawlink/protocol"
)

// Builtins holds the collaborators used by the default function set. Nil
// collaborators leave the corresponding functions unregistered.
type Builtins struct {
	Tasks    *TaskBook
	Engine   inference.Engine
	Generate inference.GenerateConfig
	Health   func() (protocol.Value, error)
}

// RegisterBuiltins registers the default function set.
func (r *Registry) RegisterBuiltins(b Builtins) error {
	defs := []*Definition{
		createCalendarEvent(),
		getCalendarEvents(),
	}
	if b.Tasks != nil {
		defs = append(defs, createTask(b.Tasks), listTasks(b.Tasks), completeTask(b.Tasks))
	}
	if b.Engine != nil {
		defs = append(defs, generateText(b.Engine, b.Generate))
	}
	if b.Health != nil {
		defs = append(defs, health(b.Health))
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func createCalendarEvent() *Definition {
	return &Definition{
		ID:          "create_calendar_event",
		Name:        "CreateCalendarEvent",
		Description: "Create a new calendar event",
		Parameters: map[string]ParameterSchema{
			"title":    {Type: "string", Description: "Event title", Required: true},
			"date":     {Type: "string", Description: "Event date in ISO 8601 format", Required: true},
			"duration": {Type: "integer", Description: "Duration in minutes"},
		},
		Executor: func(_ context.Context, args *protocol.Object) (protocol.Value, error) {
			date := args.StringOr("date", "")
			if date != "" {
				if _, err := time.Parse(time.RFC3339, date); err != nil {
					return protocol.Value{}, fmt.Errorf("invalid date %q: expected ISO 8601", date)
				}
			}
			return protocol.ObjectValue(protocol.NewObject().
				Set("success", protocol.Bool(true)).
				Set("eventId", protocol.String(uuid.NewString())).
				Set("title", protocol.String(args.StringOr("title", "Untitled"))).
				Set("date", protocol.String(date)).
				Set("duration", protocol.Int(args.IntOr("duration", 60)))), nil
		},
	}
}

func getCalendarEvents() *Definition {
	return &Definition{
		ID:          "get_calendar_events",
		Name:        "GetCalendarEvents",
		Description: "Retrieve calendar events for a date range",
		Parameters: map[string]ParameterSchema{
			"startDate": {Type: "string", Description: "Start date in ISO 8601 format", Required: true},
			"endDate":   {Type: "string", Description: "End date in ISO 8601 format", Required: true},
		},
		Executor: func(_ context.Context, _ *protocol.Object) (protocol.Value, error) {
			return protocol.ObjectValue(protocol.NewObject().
				Set("events", protocol.List()).
				Set("count", protocol.Int(0))), nil
		},
	}
}

func createTask(book *TaskBook) *Definition {
	return &Definition{
		ID:          "create_task",
		Name:        "CreateTask",
		Description: "Create a new task",
		Parameters: map[string]ParameterSchema{
			"title":    {Type: "string", Description: "Task title", Required: true},
			"dueDate":  {Type: "string", Description: "Due date in ISO 8601 format"},
			"priority": {Type: "string", Description: "Priority: low, medium, high"},
		},
		Executor: func(_ context.Context, args *protocol.Object) (protocol.Value, error) {
			task, err := book.Add(args.StringOr("title", "Untitled"), args.StringOr("dueDate", ""), args.StringOr("priority", "medium"))
			if err != nil {
				return protocol.Value{}, err
			}
			return protocol.ObjectValue(protocol.NewObject().
				Set("success", protocol.Bool(true)).
				Set("taskId", protocol.String(task.ID)).
				Set("title", protocol.String(task.Title)).
				Set("priority", protocol.String(task.Priority))), nil
		},
	}
}

func listTasks(book *TaskBook) *Definition {
	return &Definition{
		ID:          "list_tasks",
		Name:        "ListTasks",
		Description: "List all tasks with optional filtering",
		Parameters: map[string]ParameterSchema{
			"status":   {Type: "string", Description: "Filter by status: all, pending, completed"},
			"priority": {Type: "string", Description: "Filter by priority: low, medium, high"},
		},
		Executor: func(_ context.Context, args *protocol.Object) (protocol.Value, error) {
			tasks := book.List(args.StringOr("status", "all"), args.StringOr("priority", ""))
			items := make([]protocol.Value, 0, len(tasks))
			for _, t := range tasks {
				items = append(items, t.value())
			}
			return protocol.ObjectValue(protocol.NewObject().
				Set("tasks", protocol.List(items...)).
				Set("count", protocol.Int(int64(len(items))))), nil
		},
	}
}

func completeTask(book *TaskBook) *Definition {
	return &Definition{
		ID:          "complete_task",
		Name:        "CompleteTask",
		Description: "Mark a task as completed",
		Parameters: map[string]ParameterSchema{
			"taskId": {Type: "string", Description: "The task ID to complete", Required: true},
		},
		Executor: func(_ context.Context, args *protocol.Object) (protocol.Value, error) {
			id := args.StringOr("taskId", "")
			if err := book.Complete(id); err != nil {
				return protocol.Value{}, err
			}
			return protocol.ObjectValue(protocol.NewObject().
				Set("success", protocol.Bool(true)).
				Set("taskId", protocol.String(id)).
				Set("completed", protocol.Bool(true))), nil
		},
	}
}

func generateText(engine inference.Engine, cfg inference.GenerateConfig) *Definition {
	return &Definition{
		ID:          "generate_text",
		Name:        "GenerateText",
		Description: "Generate text with the on-device language model",
		Parameters: map[string]ParameterSchema{
			"prompt":      {Type: "string", Description: "Prompt text", Required: true},
			"temperature": {Type: "number", Description: "Sampling temperature"},
			"maxTokens":   {Type: "integer", Description: "Maximum tokens to generate"},
		},
		Executor: func(ctx context.Context, args *protocol.Object) (protocol.Value, error) {
			prompt := strings.TrimSpace(args.StringOr("prompt", ""))
			if prompt == "" {
				return protocol.Value{}, fmt.Errorf("prompt is required")
			}
			run := cfg
			if v, ok := args.Get("temperature"); ok {
				if t, ok := v.AsNumber(); ok {
					run.Temperature = t
				}
			}
			run.MaxTokens = int(args.IntOr("maxTokens", int64(run.MaxTokens)))

			text, err := engine.Generate(ctx, prompt, run)
			if err != nil {
				return protocol.Value{}, err
			}
			return protocol.ObjectValue(protocol.NewObject().
				Set("text", protocol.String(text)).
				Set("model", protocol.String(engine.LoadedModel()))), nil
		},
	}
}

func health(snapshot func() (protocol.Value, error)) *Definition {
	return &Definition{
		ID:          "health",
		Name:        "Health",
		Description: "Report connection, queue and runtime status of this client",
		Parameters:  map[string]ParameterSchema{},
		Executor: func(_ context.Context, _ *protocol.Object) (protocol.Value, error) {
			return snapshot()
		},
	}
}

// Task is an entry in the task book.
type Task struct {
	ID        string
	Title     string
	DueDate   string
	Priority  string
	Completed bool
	CreatedAt time.Time
}

func (t Task) value() protocol.Value {
	return protocol.ObjectValue(protocol.NewObject().
		Set("taskId", protocol.String(t.ID)).
		Set("title", protocol.String(t.Title)).
		Set("dueDate", protocol.String(t.DueDate)).
		Set("priority", protocol.String(t.Priority)).
		Set("completed", protocol.Bool(t.Completed)))
}

// TaskBook is the in-memory task list behind the task functions.
type TaskBook struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewTaskBook creates an empty task book.
func NewTaskBook() *TaskBook {
	return &TaskBook{tasks: make(map[string]*Task)}
}

func (b *TaskBook) Add(title, dueDate, priority string) (Task, error) {
	priority = strings.ToLower(strings.TrimSpace(priority))
	switch priority {
	case "":
		priority = "medium"
	case "low", "medium", "high":
	default:
		return Task{}, fmt.Errorf("invalid priority %q", priority)
	}
	t := &Task{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(title),
		DueDate:   strings.TrimSpace(dueDate),
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
	b.mu.Lock()
	b.tasks[t.ID] = t
	b.mu.Unlock()
	return *t, nil
}

func (b *TaskBook) Complete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	t.Completed = true
	return nil
}

// List returns tasks matching status (all, pending, completed) and, when
// non-empty, priority, oldest first.
func (b *TaskBook) List(status, priority string) []Task {
	b.mu.Lock()
	out := make([]Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		switch status {
		case "pending":
			if t.Completed {
				continue
			}
		case "completed":
			if !t.Completed {
				continue
			}
		}
		if priority != "" && t.Priority != priority {
			continue
		}
		out = append(out, *t)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
