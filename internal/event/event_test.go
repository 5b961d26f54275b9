package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"codeberg.org/lfilab/lfictl/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentWireFormat(t *testing.T) {
	data, err := json.Marshal(event.Current{Timestamp: time.Now(), Milliamps: 42.5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"current": 42.5}`, string(data))
}

func TestSerialWireFormat(t *testing.T) {
	data, err := json.Marshal(event.Serial{Timestamp: time.Now(), Text: "Iteration 3 - Sum = 17\n"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"serial": "Iteration 3 - Sum = 17\n"}`, string(data))
}

func TestLogWireFormat(t *testing.T) {
	ts := time.Date(2025, 3, 1, 13, 37, 9, 0, time.UTC)
	data, err := json.Marshal(event.Log{Timestamp: ts, Level: event.LevelError, Message: "stage fault"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"log": {"level": "ERROR", "message": "stage fault", "date": "13:37:09"}}`, string(data))
}

func TestSignalWireFormat(t *testing.T) {
	data, err := json.Marshal(event.Signal{Action: event.ActionPulse})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action": "pulse"}`, string(data))

	data, err = json.Marshal(event.Signal{Action: event.ActionSetPulseCounter, Value: "7"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action": "set_pulse_counter", "value": "7"}`, string(data))
}

func TestSignalRejectsUnknownAction(t *testing.T) {
	_, err := json.Marshal(event.Signal{Action: event.Action("explode")})
	require.Error(t, err)

	_, err = json.Marshal(event.Signal{})
	require.Error(t, err)
}

func TestActionValid(t *testing.T) {
	assert.True(t, event.ActionSuccess.Valid())
	assert.True(t, event.ActionTargetEnToggleOff.Valid())
	assert.False(t, event.Action("explode").Valid())
	assert.False(t, event.Action("").Valid())
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "INFO", event.LevelInfo.String())
	assert.Equal(t, "WARNING", event.LevelWarning.String())
	assert.Equal(t, "ERROR", event.LevelError.String())
	assert.Equal(t, "CRITICAL", event.LevelCritical.String())
}

func TestWindowEviction(t *testing.T) {
	w := event.NewWindow[int](3)
	assert.Equal(t, 0, w.Len())

	w.Push(1)
	w.Push(2)
	assert.Equal(t, []int{1, 2}, w.Items())

	w.Push(3)
	w.Push(4)
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, []int{2, 3, 4}, w.Items())

	for i := 5; i < 100; i++ {
		w.Push(i)
	}
	assert.Equal(t, []int{97, 98, 99}, w.Items())
}

func TestWindowClear(t *testing.T) {
	w := event.NewWindow[string](2)
	w.Push("a")
	w.Push("b")
	w.Clear()
	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Items())

	w.Push("c")
	assert.Equal(t, []string{"c"}, w.Items())
}
