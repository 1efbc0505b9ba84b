package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/linanwx/clawlink/protocol"
)

// Call is a function call deferred until the session is connected.
type Call struct {
	ID         string
	Name       string
	Parameters *protocol.Object
	Timestamp  time.Time
	RetryCount int
}

// NewCall builds a call stamped with the current time. An empty id gets a
// fresh uuid.
func NewCall(id, name string, params *protocol.Object) Call {
	if id == "" {
		id = uuid.NewString()
	}
	if params == nil {
		params = protocol.NewObject()
	}
	return Call{ID: id, Name: name, Parameters: params, Timestamp: time.Now().UTC()}
}

// FromMessage builds a call from an inbound function_call message.
func FromMessage(msg protocol.Message) Call {
	return NewCall(msg.ID, msg.Name, msg.Parameters)
}

// record is the persisted form of a Call. Parameters are stored as their own
// encoded JSON document, so they appear base64-wrapped in the outer array.
type record struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Parameters []byte    `json:"parameters"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retryCount"`
}

func encodeCalls(calls []Call) ([]byte, error) {
	records := make([]record, 0, len(calls))
	for _, c := range calls {
		params := c.Parameters
		if params == nil {
			params = protocol.NewObject()
		}
		blob, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode parameters of %s: %w", c.ID, err)
		}
		records = append(records, record{
			ID:         c.ID,
			Name:       c.Name,
			Parameters: blob,
			Timestamp:  c.Timestamp,
			RetryCount: c.RetryCount,
		})
	}
	return json.Marshal(records)
}

func decodeCalls(data []byte) ([]Call, error) {
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	calls := make([]Call, 0, len(records))
	for _, r := range records {
		params, err := protocol.ParseObject(r.Parameters)
		if err != nil {
			return nil, fmt.Errorf("decode parameters of %s: %w", r.ID, err)
		}
		calls = append(calls, Call{
			ID:         r.ID,
			Name:       r.Name,
			Parameters: params,
			Timestamp:  r.Timestamp,
			RetryCount: r.RetryCount,
		})
	}
	return calls, nil
}
