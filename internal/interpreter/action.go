package interpreter

import (
	"encoding/json"
	"strings"
)

// Reserved action names that are answered locally and never forwarded to
// the kernel.
const (
	ActionMessage = "message"
	ActionError   = "error"
)

// ErrorMessage is returned to the user whenever the interpretation service
// cannot be reached or answers with a failure.
const ErrorMessage = "I encountered an error processing your request. Please try again."

// Action is the structured result of interpreting one command.
type Action struct {
	Action  string         `json:"action"`
	Params  map[string]any `json:"params"`
	Message string         `json:"message"`
}

// Forwardable reports whether the action should be written to the kernel.
func (a Action) Forwardable() bool {
	return a.Action != "" && a.Action != ActionMessage && a.Action != ActionError
}

func messageAction(text string) Action {
	return Action{Action: ActionMessage, Params: map[string]any{}, Message: text}
}

func errorAction() Action {
	return Action{Action: ActionError, Params: map[string]any{}, Message: ErrorMessage}
}

// Parse extracts the first well-formed JSON object from content. When no
// object with a non-empty "action" can be decoded, the whole content becomes
// the message of a "message" action.
func Parse(content string) Action {
	for i := 0; i < len(content); i++ {
		if content[i] != '{' {
			continue
		}

		var action Action
		dec := json.NewDecoder(strings.NewReader(content[i:]))
		if err := dec.Decode(&action); err != nil {
			continue
		}
		if strings.TrimSpace(action.Action) == "" {
			continue
		}

		if action.Params == nil {
			action.Params = map[string]any{}
		}
		if action.Message == "" {
			action.Message = content
		}
		return action
	}

	return messageAction(content)
}
