package bridge

import (
	"encoding/json"

	"github.com/tphakala/hotword-go/internal/audiocore/framebuf"
	"github.com/tphakala/hotword-go/internal/errors"
)

// Action names a control message.
type Action string

const (
	ActionLoad         Action = "load"         // engine load finished, Result is a bool
	ActionInit         Action = "init"         // start the detection worker
	ActionShareBuffers Action = "shareBuffers" // region handed to the producer side
	ActionResult       Action = "result"       // changed detection score, Result is an int
)

// Message is a lifecycle control message. It encodes as
// {"action": "...", "result": ...}; the shared region itself never leaves the process.
type Message struct {
	Action  Action           `json:"action"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Buffers *framebuf.Region `json:"-"`
}

// LoadMessage reports the outcome of an engine load.
func LoadMessage(ok bool) Message {
	return Message{Action: ActionLoad, Result: mustRaw(ok)}
}

// InitMessage asks the worker to start.
func InitMessage() Message {
	return Message{Action: ActionInit}
}

// ShareBuffersMessage hands region to the producer side.
func ShareBuffersMessage(region *framebuf.Region) Message {
	return Message{Action: ActionShareBuffers, Buffers: region}
}

// ResultMessage carries a changed detection score.
func ResultMessage(score int) Message {
	return Message{Action: ActionResult, Result: mustRaw(score)}
}

// Bool decodes Result as a boolean.
func (m *Message) Bool() (bool, error) {
	var v bool
	if err := json.Unmarshal(m.Result, &v); err != nil {
		return false, m.decodeError(err)
	}
	return v, nil
}

// Int decodes Result as an integer.
func (m *Message) Int() (int, error) {
	var v int
	if err := json.Unmarshal(m.Result, &v); err != nil {
		return 0, m.decodeError(err)
	}
	return v, nil
}

func (m *Message) decodeError(err error) error {
	return errors.New(err).
		Component("bridge").
		Category(errors.CategoryValidation).
		Context("action", string(m.Action)).
		Build()
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// bools and ints always marshal
		panic(err)
	}
	return b
}
