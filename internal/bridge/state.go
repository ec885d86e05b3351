package bridge

import (
	"github.com/tphakala/hotword-go/internal/errors"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateRunning
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a session occupies the bridge in this state.
func (s State) Active() bool {
	return s == StateLoading || s == StateReady || s == StateRunning
}

// transition returns the state msg moves from to. Messages that are not
// valid in from are rejected with a state error and leave the state unchanged.
func transition(from State, msg *Message) (State, error) {
	switch {
	case msg.Action == ActionLoad && from == StateLoading:
		ok, err := msg.Bool()
		if err != nil {
			return from, err
		}
		if !ok {
			return StateFailed, nil
		}
		return StateReady, nil

	case msg.Action == ActionInit && from == StateReady:
		return StateReady, nil

	case msg.Action == ActionShareBuffers && from == StateReady:
		if msg.Buffers == nil {
			return from, errors.Newf("shareBuffers without a region").
				Component("bridge").
				Category(errors.CategoryValidation).
				Build()
		}
		return StateRunning, nil

	case msg.Action == ActionResult && from == StateRunning:
		return StateRunning, nil
	}

	return from, errors.Newf("message %q not accepted in state %s", msg.Action, from).
		Component("bridge").
		Category(errors.CategoryState).
		Context("state", from.String()).
		Context("action", string(msg.Action)).
		Build()
}
