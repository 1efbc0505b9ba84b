package session

import (
	"errors"
	"fmt"

	"github.com/linanwx/clawlink/protocol"
)

// CallStatus is where a function call handled by the session stands. It only
// moves forward: pending, executing, then one of the terminal states.
type CallStatus int

const (
	CallPending CallStatus = iota
	CallExecuting
	CallSuccess
	CallError
	CallCancelled
)

func (s CallStatus) String() string {
	switch s {
	case CallPending:
		return "pending"
	case CallExecuting:
		return "executing"
	case CallSuccess:
		return "success"
	case CallError:
		return "error"
	case CallCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("CallStatus(%d)", int(s))
}

// Terminal reports whether no further transition is allowed.
func (s CallStatus) Terminal() bool { return s >= CallSuccess }

// ErrStatusBackwards is returned when a call is asked to leave a terminal
// state or move to an earlier one.
var ErrStatusBackwards = errors.New("call status cannot move backwards")

// FunctionCall is one call the session is executing, from the server, a local
// dispatch or the offline queue.
type FunctionCall struct {
	ID         string
	Name       string
	Parameters *protocol.Object
	Status     CallStatus
	Result     *protocol.Value
	Error      string

	origin string
}

func (c *FunctionCall) advance(next CallStatus) error {
	if c.Status.Terminal() || next <= c.Status {
		return fmt.Errorf("%w: %s -> %s", ErrStatusBackwards, c.Status, next)
	}
	c.Status = next
	return nil
}
