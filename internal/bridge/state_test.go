package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/hotword-go/internal/audiocore/framebuf"
	"github.com/tphakala/hotword-go/internal/errors"
)

func TestTransition(t *testing.T) {
	t.Parallel()

	region, err := framebuf.Allocate(framebuf.DefaultCapacityBytes)
	require.NoError(t, err)

	tests := []struct {
		name    string
		from    State
		msg     Message
		want    State
		wantErr bool
	}{
		{"load ok", StateLoading, LoadMessage(true), StateReady, false},
		{"load failed", StateLoading, LoadMessage(false), StateFailed, false},
		{"load twice", StateReady, LoadMessage(true), StateReady, true},
		{"init when ready", StateReady, InitMessage(), StateReady, false},
		{"init while loading", StateLoading, InitMessage(), StateLoading, true},
		{"init after failure", StateFailed, InitMessage(), StateFailed, true},
		{"share buffers", StateReady, ShareBuffersMessage(region), StateRunning, false},
		{"share nothing", StateReady, ShareBuffersMessage(nil), StateReady, true},
		{"share while running", StateRunning, ShareBuffersMessage(region), StateRunning, true},
		{"result while running", StateRunning, ResultMessage(2), StateRunning, false},
		{"result when stopped", StateStopped, ResultMessage(2), StateStopped, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := transition(tt.from, &tt.msg)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransitionRejectsBadPayload(t *testing.T) {
	t.Parallel()

	msg := Message{Action: ActionLoad, Result: json.RawMessage(`"yes"`)}
	_, err := transition(StateLoading, &msg)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestMessageEncoding(t *testing.T) {
	t.Parallel()

	region, err := framebuf.Allocate(framebuf.DefaultCapacityBytes)
	require.NoError(t, err)

	data, err := json.Marshal(LoadMessage(true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"load","result":true}`, string(data))

	data, err = json.Marshal(ShareBuffersMessage(region))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"shareBuffers"}`, string(data))

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"action":"result","result":-2}`), &msg))
	assert.Equal(t, ActionResult, msg.Action)
	score, err := msg.Int()
	require.NoError(t, err)
	assert.Equal(t, -2, score)
}

func TestStateStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, StateRunning.Active())
	assert.False(t, StateStopped.Active())
}
