package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/linanwx/clawlink/protocol"
)

func echo(id string) *Definition {
	return &Definition{
		ID:   id,
		Name: id,
		Executor: func(_ context.Context, args *protocol.Object) (protocol.Value, error) {
			return protocol.ObjectValue(args.Clone()), nil
		},
	}
}

func TestRegisterReplacesByID(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.Register(echo("f")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	replacement := &Definition{
		ID: "f",
		Executor: func(context.Context, *protocol.Object) (protocol.Value, error) {
			return protocol.String("second"), nil
		},
	}
	if err := r.Register(replacement); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if got := r.IDs(); len(got) != 1 {
		t.Fatalf("expected 1 function, got %v", got)
	}
	v, err := r.Execute(context.Background(), "f", nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if s, _ := v.AsString(); s != "second" {
		t.Fatalf("expected last registration to win, got %v", v.Any())
	}
}

func TestRegisterRejectsIncompleteDefinition(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.Register(&Definition{ID: "x"}); err == nil {
		t.Fatalf("expected error for missing executor")
	}
	if err := r.Register(&Definition{Executor: echo("y").Executor}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestUnregisterAbsentIsNoop(t *testing.T) {
	t.Parallel()

	r := New()
	_ = r.Register(echo("keep"))
	r.Unregister("missing")
	r.Unregister("keep")
	r.Unregister("keep")
	if got := r.IDs(); len(got) != 0 {
		t.Fatalf("expected empty registry, got %v", got)
	}
}

func TestExecuteUnknownID(t *testing.T) {
	t.Parallel()

	r := New()
	_ = r.Register(echo("known"))
	before := r.IDs()

	_, err := r.Execute(context.Background(), "no_such_id", protocol.NewObject())
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.ID != "no_such_id" {
		t.Fatalf("unexpected id: %s", nf.ID)
	}
	if !errors.Is(err, ErrFunctionNotFound) {
		t.Fatalf("expected errors.Is ErrFunctionNotFound")
	}
	if err.Error() != "function with id 'no_such_id' not found" {
		t.Fatalf("unexpected message: %s", err.Error())
	}

	after := r.IDs()
	if len(after) != len(before) || after[0] != before[0] {
		t.Fatalf("registry changed: %v -> %v", before, after)
	}
}

func TestExecutePropagatesExecutorError(t *testing.T) {
	t.Parallel()

	boom := errors.New("calendar unavailable")
	r := New()
	_ = r.Register(&Definition{
		ID: "fail",
		Executor: func(context.Context, *protocol.Object) (protocol.Value, error) {
			return protocol.Value{}, boom
		},
	})
	if _, err := r.Execute(context.Background(), "fail", nil); err != boom {
		t.Fatalf("expected executor error unchanged, got %v", err)
	}
}

func TestListReturnsSchemaSnapshots(t *testing.T) {
	t.Parallel()

	r := New()
	_ = r.Register(&Definition{
		ID:          "create_task",
		Name:        "CreateTask",
		Description: "Create a new task",
		Parameters: map[string]ParameterSchema{
			"title":    {Type: "string", Description: "Task title", Required: true},
			"priority": {Type: "string", Description: "Priority"},
		},
		Executor: echo("create_task").Executor,
	})

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 schema, got %d", len(list))
	}
	r.Unregister("create_task")

	obj, ok := list[0].AsObject()
	if !ok {
		t.Fatalf("schema is not an object")
	}
	if id := obj.StringOr("id", ""); id != "create_task" {
		t.Fatalf("unexpected id: %s", id)
	}
	params, _ := obj.Get("parameters")
	paramsObj, _ := params.AsObject()
	if typ := paramsObj.StringOr("type", ""); typ != "object" {
		t.Fatalf("unexpected parameters type: %s", typ)
	}
	required, _ := paramsObj.Get("required")
	want := protocol.List(protocol.String("title"))
	if !required.Equal(want) {
		t.Fatalf("unexpected required list: %v", required.Any())
	}
}

func TestConcurrentRegisterAndExecute(t *testing.T) {
	t.Parallel()

	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		id := fmt.Sprintf("fn-%d", i%4)
		go func() {
			defer wg.Done()
			_ = r.Register(echo(id))
		}()
		go func() {
			defer wg.Done()
			_, err := r.Execute(context.Background(), id, protocol.NewObject().Set("n", protocol.Int(1)))
			if err != nil && !errors.Is(err, ErrFunctionNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := len(r.IDs()); got != 4 {
		t.Fatalf("expected 4 functions, got %d", got)
	}
}

func TestBuiltinTaskFunctions(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.RegisterBuiltins(Builtins{Tasks: NewTaskBook()}); err != nil {
		t.Fatalf("register builtins failed: %v", err)
	}
	for _, id := range []string{"create_calendar_event", "get_calendar_events", "create_task", "list_tasks", "complete_task"} {
		if _, ok := r.Get(id); !ok {
			t.Fatalf("missing builtin %s", id)
		}
	}
	if _, ok := r.Get("generate_text"); ok {
		t.Fatalf("generate_text should need an engine")
	}

	ctx := context.Background()
	created, err := r.Execute(ctx, "create_task", protocol.NewObject().Set("title", protocol.String("Buy milk")))
	if err != nil {
		t.Fatalf("create_task failed: %v", err)
	}
	obj, _ := created.AsObject()
	taskID := obj.StringOr("taskId", "")
	if taskID == "" || obj.StringOr("priority", "") != "medium" {
		t.Fatalf("unexpected create_task result: %v", created.Any())
	}

	if _, err := r.Execute(ctx, "complete_task", protocol.NewObject().Set("taskId", protocol.String(taskID))); err != nil {
		t.Fatalf("complete_task failed: %v", err)
	}
	if _, err := r.Execute(ctx, "complete_task", protocol.NewObject().Set("taskId", protocol.String("nope"))); err == nil {
		t.Fatalf("expected error completing unknown task")
	}

	listed, err := r.Execute(ctx, "list_tasks", protocol.NewObject().Set("status", protocol.String("completed")))
	if err != nil {
		t.Fatalf("list_tasks failed: %v", err)
	}
	listObj, _ := listed.AsObject()
	if n := listObj.IntOr("count", -1); n != 1 {
		t.Fatalf("expected 1 completed task, got %d", n)
	}

	if _, err := r.Execute(ctx, "create_task", protocol.NewObject().
		Set("title", protocol.String("x")).
		Set("priority", protocol.String("urgent"))); err == nil {
		t.Fatalf("expected invalid priority error")
	}
}

func TestCreateCalendarEventValidatesDate(t *testing.T) {
	t.Parallel()

	r := New()
	_ = r.RegisterBuiltins(Builtins{})
	ctx := context.Background()

	if _, err := r.Execute(ctx, "create_calendar_event", protocol.NewObject().
		Set("title", protocol.String("Standup")).
		Set("date", protocol.String("tomorrow"))); err == nil {
		t.Fatalf("expected invalid date error")
	}
	v, err := r.Execute(ctx, "create_calendar_event", protocol.NewObject().
		Set("title", protocol.String("Standup")).
		Set("date", protocol.String("2026-10-16T09:00:00Z")))
	if err != nil {
		t.Fatalf("create_calendar_event failed: %v", err)
	}
	obj, _ := v.AsObject()
	if obj.IntOr("duration", 0) != 60 {
		t.Fatalf("expected default duration 60, got %v", v.Any())
	}
}
