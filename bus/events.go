// Package bus publishes session events to observers.
package bus

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	EventConnectionState EventType = "connection.state"
	EventQueueCount      EventType = "queue.count"
	EventCallResult      EventType = "call.result"
	EventQueueSynced     EventType = "queue.synced"
)

// Event represents a bus event.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent creates a new event.
func NewEvent(eventType EventType, source string, data any) (*Event, error) {
	var dataBytes json.RawMessage
	if data != nil {
		var err error
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}

	return &Event{
		ID:        generateEventID(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
		Data:      dataBytes,
	}, nil
}

// ParseData unmarshals the event data into the given struct.
func (e *Event) ParseData(v any) error {
	if e.Data == nil {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// ConnectionStateData is the payload of connection.state.
type ConnectionStateData struct {
	Previous string `json:"previous"`
	State    string `json:"state"`
	Error    string `json:"error,omitempty"`
}

// QueueCountData is the payload of queue.count.
type QueueCountData struct {
	Pending int `json:"pending"`
}

// QueueSyncedData is the payload of queue.synced, sent once a replay
// finishes. Pending is what is left in the queue afterwards.
type QueueSyncedData struct {
	Executed int `json:"executed"`
	Requeued int `json:"requeued"`
	Dropped  int `json:"dropped"`
	Pending  int `json:"pending"`
}

// CallResultData is the payload of call.result.
type CallResultData struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Origin string `json:"origin"` // server, local or queue
	Error  string `json:"error,omitempty"`
}

var eventCounter atomic.Int64

func generateEventID() string {
	n := eventCounter.Add(1)
	return fmt.Sprintf("evt-%d-%d", time.Now().UnixMilli(), n)
}
