package health

import (
	"context"
	"testing"

	"github.com/linanwx/clawlink/protocol"
	"github.com/linanwx/clawlink/queue"
	"github.com/linanwx/clawlink/registry"
	"github.com/linanwx/clawlink/session"
	"github.com/linanwx/clawlink/transport"
)

func TestCollectDisconnectedSession(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	_ = reg.Register(&registry.Definition{
		ID: "ping",
		Executor: func(context.Context, *protocol.Object) (protocol.Value, error) {
			return protocol.Null(), nil
		},
	})
	q := queue.New(nil, queue.Options{})
	_ = q.Enqueue(queue.NewCall("a", "ping", nil))
	sess := session.New(session.Options{
		Transport: transport.New(transport.Options{}),
		Registry:  reg,
		Queue:     q,
	})
	t.Cleanup(sess.Close)

	snap := Collect(Options{Session: sess})
	if snap.Status != "degraded" {
		t.Fatalf("status = %s, want degraded", snap.Status)
	}
	if snap.Connection.State != "disconnected" {
		t.Fatalf("connection state = %s", snap.Connection.State)
	}
	if snap.Queue.Pending != 1 {
		t.Fatalf("pending = %d, want 1", snap.Queue.Pending)
	}
	if len(snap.Functions) != 1 || snap.Functions[0] != "ping" {
		t.Fatalf("functions = %v", snap.Functions)
	}
	if snap.Inference != nil {
		t.Fatalf("inference should be omitted without an engine")
	}

	v, err := snap.Value()
	if err != nil {
		t.Fatalf("value failed: %v", err)
	}
	obj, ok := v.AsObject()
	if !ok || obj.StringOr("status", "") != "degraded" {
		t.Fatalf("unexpected value: %v", v.Any())
	}
}

func TestCollectWithoutSession(t *testing.T) {
	t.Parallel()

	snap := Collect(Options{})
	if snap.Status != "healthy" || snap.Connection.State != "disconnected" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Runtime.Version == "" || snap.Goroutines == 0 {
		t.Fatalf("runtime info missing")
	}
}
