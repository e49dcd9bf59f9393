package interpreter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Action
	}{
		{
			name:    "bare object",
			content: `{"action":"open_application","params":{"name":"firefox"},"message":"Opening Firefox."}`,
			want: Action{
				Action:  "open_application",
				Params:  map[string]any{"name": "firefox"},
				Message: "Opening Firefox.",
			},
		},
		{
			name:    "object wrapped in prose and trailing braces",
			content: "Here you go:\n```json\n{\"action\":\"system_info\",\"params\":{},\"message\":\"Done.\"}\n```\nLet me know {if} needed.",
			want: Action{
				Action:  "system_info",
				Params:  map[string]any{},
				Message: "Done.",
			},
		},
		{
			name:    "malformed first object, valid second",
			content: `{"action": oops} then {"action":"read_emails","params":{"folder":"work"},"message":"Reading."}`,
			want: Action{
				Action:  "read_emails",
				Params:  map[string]any{"folder": "work"},
				Message: "Reading.",
			},
		},
		{
			name:    "missing params becomes empty map",
			content: `{"action":"system_info","message":"Checking."}`,
			want: Action{
				Action:  "system_info",
				Params:  map[string]any{},
				Message: "Checking.",
			},
		},
		{
			name:    "missing message keeps the raw text",
			content: `{"action":"system_info"}`,
			want: Action{
				Action:  "system_info",
				Params:  map[string]any{},
				Message: `{"action":"system_info"}`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.content))
		})
	}
}

func TestParse_Fallback(t *testing.T) {
	inputs := []string{
		"I will do that now.",
		"{not json at all}",
		`{"params":{"x":1},"message":"no action here"}`,
		`{"action":"","message":"blank action"}`,
		`{"action":"system_info"`,
		"unbalanced } brace {",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got := Parse(in)
			assert.Equal(t, ActionMessage, got.Action)
			assert.Equal(t, in, got.Message)
			assert.NotNil(t, got.Params)
			assert.Empty(t, got.Params)
		})
	}
}

func TestAction_Forwardable(t *testing.T) {
	assert.True(t, Action{Action: "file_operation"}.Forwardable())
	assert.False(t, Action{Action: ActionMessage}.Forwardable())
	assert.False(t, Action{Action: ActionError}.Forwardable())
	assert.False(t, Action{}.Forwardable())
}
