package protocol

import (
	"errors"
	"strings"
	"testing"
)

func nestedParams() *Object {
	inner := NewObject().
		Set("tags", List(String("home"), String("errand"), Null())).
		Set("meta", ObjectValue(NewObject().Set("depth", Int(3)).Set("ok", Bool(true))))
	return NewObject().
		Set("title", String("x")).
		Set("count", Number(2.5)).
		Set("items", List(ObjectValue(inner), List(Int(1), List(String("deep"))))).
		Set("empty", ObjectValue(NewObject()))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	result := ObjectValue(NewObject().Set("taskId", String("t-1")).Set("success", Bool(true)))
	nullResult := Null()

	tests := []struct {
		name string
		msg  Message
	}{
		{"function call", FunctionCall("1", "create_task", NewObject().Set("title", String("x")))},
		{"nested call", FunctionCall("2", "create_task", nestedParams())},
		{"empty parameters", FunctionCall("3", "list_tasks", nil)},
		{"result success", FunctionResult("4", StatusSuccess, &result, "")},
		{"result null", FunctionResult("5", StatusSuccess, &nullResult, "")},
		{"result error", FunctionResult("6", StatusError, nil, "boom <&>")},
		{"result executing", FunctionResult("7", StatusExecuting, nil, "")},
		{"result queued", FunctionResult("8", StatusQueued, nil, "")},
		{"ping", Ping()},
		{"pong", Pong()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode(%s) error = %v", data, err)
			}
			if !got.Equal(tt.msg) {
				t.Fatalf("round trip mismatch: got %+v, want %+v (wire %s)", got, tt.msg, data)
			}
		})
	}
}

func TestEncodeFunctionCallShape(t *testing.T) {
	t.Parallel()

	data, err := Encode(FunctionCall("1", "create_task", NewObject().Set("title", String("x"))))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := `{"type":"function_call","id":"1","name":"create_task","parameters":{"title":"x"}}`
	if string(data) != want {
		t.Fatalf("Encode() = %s, want %s", data, want)
	}

	data, err = Encode(FunctionResult("1", StatusExecuting, nil, ""))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want = `{"type":"function_result","id":"1","status":"executing"}`
	if string(data) != want {
		t.Fatalf("Encode() = %s, want %s", data, want)
	}
}

func TestDecodeServerPayloadReencodes(t *testing.T) {
	t.Parallel()

	raw := `{"type":"function_call","id":"abc","name":"create_calendar_event","parameters":{"title":"Standup","attendees":[{"name":"a","optional":false}],"duration":30,"notes":null}}`
	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := msg.Parameters.Keys(); strings.Join(got, ",") != "title,attendees,duration,notes" {
		t.Fatalf("parameter order = %v", got)
	}
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(data) != raw {
		t.Fatalf("re-encoded = %s, want %s", data, raw)
	}
}

func TestDecodeRejectsUnknownAndMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"unknown type", `{"type":"subscribe","id":"1"}`, ErrUnknownType},
		{"missing type", `{"id":"1"}`, ErrMalformed},
		{"non string type", `{"type":7}`, ErrMalformed},
		{"invalid json", `{"type":"ping"`, ErrMalformed},
		{"array frame", `["ping"]`, ErrMalformed},
		{"call without parameters", `{"type":"function_call","id":"1","name":"x"}`, ErrMalformed},
		{"call with list parameters", `{"type":"function_call","id":"1","name":"x","parameters":[]}`, ErrMalformed},
		{"result without status", `{"type":"function_result","id":"1"}`, ErrMalformed},
		{"result bad status", `{"type":"function_result","id":"1","status":"done"}`, ErrMalformed},
		{"result numeric error", `{"type":"function_result","id":"1","status":"error","error":5}`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decode(%s) error = %v, want %v", tt.raw, err, tt.want)
			}
		})
	}
}

func TestEncodeRejectsUnknownType(t *testing.T) {
	t.Parallel()

	if _, err := Encode(Message{Type: "subscribe"}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Encode() error = %v, want ErrUnknownType", err)
	}
}

func TestDecodeNullErrorIsAbsent(t *testing.T) {
	t.Parallel()

	msg, err := Decode([]byte(`{"type":"function_result","id":"9","status":"success","result":{"n":1},"error":null}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Error != "" {
		t.Fatalf("Error = %q, want empty", msg.Error)
	}
	if msg.Result == nil {
		t.Fatalf("Result should be present")
	}
	obj, ok := msg.Result.AsObject()
	if !ok || obj.IntOr("n", 0) != 1 {
		t.Fatalf("Result = %+v, want {n:1}", msg.Result)
	}
}
