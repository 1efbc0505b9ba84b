// Package protocol defines the tagged JSON messages exchanged with the
// command server, one message per websocket frame.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrUnknownType is returned when a frame carries an unrecognized type tag.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed is returned when a frame is not a valid message payload.
	ErrMalformed = errors.New("malformed message")
)

// Type is the message type tag.
type Type string

const (
	TypeFunctionCall   Type = "function_call"
	TypeFunctionResult Type = "function_result"
	TypePing           Type = "ping"
	TypePong           Type = "pong"
)

// Status is the status carried by a function_result message.
type Status string

const (
	StatusExecuting Status = "executing"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusQueued    Status = "queued"
)

// Valid reports whether s is a known result status.
func (s Status) Valid() bool {
	switch s {
	case StatusExecuting, StatusSuccess, StatusError, StatusQueued:
		return true
	}
	return false
}

// Terminal reports whether s ends a call (success or error).
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Message is one protocol message. Which fields are meaningful depends on Type:
// function_call uses ID, Name and Parameters; function_result uses ID, Status,
// Result and Error; ping and pong carry nothing else.
type Message struct {
	Type       Type
	ID         string
	Name       string
	Parameters *Object
	Status     Status
	Result     *Value // nil when absent
	Error      string // empty when absent
}

// FunctionCall builds a function_call message.
func FunctionCall(id, name string, params *Object) Message {
	if params == nil {
		params = NewObject()
	}
	return Message{Type: TypeFunctionCall, ID: id, Name: name, Parameters: params}
}

// FunctionResult builds a function_result message.
func FunctionResult(id string, status Status, result *Value, errMsg string) Message {
	return Message{Type: TypeFunctionResult, ID: id, Status: status, Result: result, Error: errMsg}
}

// Ping builds a ping message.
func Ping() Message { return Message{Type: TypePing} }

// Pong builds a pong message.
func Pong() Message { return Message{Type: TypePong} }

// Equal reports whether two messages carry the same variant and payload.
func (m Message) Equal(o Message) bool {
	if m.Type != o.Type {
		return false
	}
	switch m.Type {
	case TypeFunctionCall:
		return m.ID == o.ID && m.Name == o.Name && m.Parameters.Equal(o.Parameters)
	case TypeFunctionResult:
		if m.ID != o.ID || m.Status != o.Status || m.Error != o.Error {
			return false
		}
		if (m.Result == nil) != (o.Result == nil) {
			return false
		}
		return m.Result == nil || m.Result.Equal(*o.Result)
	}
	return true
}

type callFrame struct {
	Type       Type    `json:"type"`
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Parameters *Object `json:"parameters"`
}

type resultFrame struct {
	Type   Type   `json:"type"`
	ID     string `json:"id"`
	Status Status `json:"status"`
	Result *Value `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type tagFrame struct {
	Type Type `json:"type"`
}

// Encode serializes m into a single JSON frame.
func Encode(m Message) ([]byte, error) {
	switch m.Type {
	case TypeFunctionCall:
		params := m.Parameters
		if params == nil {
			params = NewObject()
		}
		return json.Marshal(callFrame{Type: m.Type, ID: m.ID, Name: m.Name, Parameters: params})
	case TypeFunctionResult:
		if !m.Status.Valid() {
			return nil, fmt.Errorf("%w: invalid status %q", ErrMalformed, m.Status)
		}
		return json.Marshal(resultFrame{Type: m.Type, ID: m.ID, Status: m.Status, Result: m.Result, Error: m.Error})
	case TypePing, TypePong:
		return json.Marshal(tagFrame{Type: m.Type})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
}

// Decode parses a single JSON frame. Unknown type tags fail with
// ErrUnknownType; anything else that is not a well-formed message fails
// with ErrMalformed.
func Decode(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return Message{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Message{}, fmt.Errorf("%w: frame is not an object", ErrMalformed)
	}
	tag := root.Get("type")
	if tag.Type != gjson.String {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch t := Type(tag.Str); t {
	case TypeFunctionCall:
		id, err := requiredString(root, "id")
		if err != nil {
			return Message{}, err
		}
		name, err := requiredString(root, "name")
		if err != nil {
			return Message{}, err
		}
		params := root.Get("parameters")
		if !params.IsObject() {
			return Message{}, fmt.Errorf("%w: parameters must be an object", ErrMalformed)
		}
		return FunctionCall(id, name, objectFromResult(params)), nil

	case TypeFunctionResult:
		id, err := requiredString(root, "id")
		if err != nil {
			return Message{}, err
		}
		status, err := requiredString(root, "status")
		if err != nil {
			return Message{}, err
		}
		if !Status(status).Valid() {
			return Message{}, fmt.Errorf("%w: invalid status %q", ErrMalformed, status)
		}
		msg := FunctionResult(id, Status(status), nil, "")
		if r := root.Get("result"); r.Exists() {
			v := fromResult(r)
			msg.Result = &v
		}
		if e := root.Get("error"); e.Exists() && e.Type != gjson.Null {
			if e.Type != gjson.String {
				return Message{}, fmt.Errorf("%w: error must be a string", ErrMalformed)
			}
			msg.Error = e.Str
		}
		return msg, nil

	case TypePing:
		return Ping(), nil
	case TypePong:
		return Pong(), nil

	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func requiredString(root gjson.Result, key string) (string, error) {
	r := root.Get(key)
	if r.Type != gjson.String {
		return "", fmt.Errorf("%w: %s must be a string", ErrMalformed, key)
	}
	return r.Str, nil
}
