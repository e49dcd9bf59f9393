package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	allowed := map[State][]State{
		Idle:       {Starting, Restarting},
		Starting:   {Running, Stopped, Restarting},
		Running:    {Stopped, Crashed, Restarting},
		Restarting: {Starting, Restarting},
		Stopped:    {Starting, Restarting},
		Crashed:    {Starting, Restarting},
	}
	all := []State{Idle, Starting, Running, Restarting, Stopped, Crashed}

	for from, targets := range allowed {
		for _, to := range all {
			want := false
			for _, ok := range targets {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestParseControl(t *testing.T) {
	for _, in := range []string{"start", "STOP", " restart "} {
		_, err := ParseControl(in)
		assert.NoError(t, err, in)
	}

	_, err := ParseControl("reboot")
	assert.ErrorIs(t, err, ErrUnknownControl)
}

func TestEventJSON(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Output("total 0\n"), `{"output":"total 0\n"}`},
		{Response("Opening Firefox."), `{"response":"Opening Firefox."}`},
		{Error("kernel is not ready"), `{"error":"kernel is not ready"}`},
		{Status(Crashed), `{"status":"crashed"}`},
	}

	for _, tt := range tests {
		t.Run(string(tt.event.Kind), func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			var back Event
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, tt.event, back)
		})
	}

	t.Run("rejects unknown kinds and multiple keys", func(t *testing.T) {
		var e Event
		assert.Error(t, json.Unmarshal([]byte(`{"performance":"1"}`), &e))
		assert.Error(t, json.Unmarshal([]byte(`{"output":"a","status":"b"}`), &e))
	})
}

func TestInboundJSON(t *testing.T) {
	var in Inbound
	require.NoError(t, json.Unmarshal([]byte(`{"command":"list files"}`), &in))
	require.NotNil(t, in.Command)
	assert.Equal(t, "list files", *in.Command)
	assert.Nil(t, in.Control)

	in = Inbound{}
	require.NoError(t, json.Unmarshal([]byte(`{"control":"restart"}`), &in))
	require.NotNil(t, in.Control)
	assert.Equal(t, "restart", *in.Control)
}
