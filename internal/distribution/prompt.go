package distribution

import (
	"fmt"
	"strings"
)

const promptHeader = `You are the WayneOS kernel, an AI-native operating system.
You process natural language commands and convert them into system actions.
Current distribution: %s

When the user gives a command, respond with a JSON object containing:
- action: the system action to perform
- params: parameters for the action
- message: a human-friendly response

Available actions:
`

// SystemPrompt returns the interpreter instructions for d. The output depends
// only on d.
func (d Distribution) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, promptHeader, d)

	for _, c := range baseCapabilities {
		fmt.Fprintf(&b, "- %s\n", c)
	}

	switch d {
	case Enterprise:
		b.WriteString("\nAll capabilities enabled with enterprise features:\n")
		for _, c := range d.Capabilities()[len(baseCapabilities):] {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	case TOP, SSPB, Financial:
		fmt.Fprintf(&b, "\nAdditional %s capabilities:\n", labels[d])
		for _, c := range extraCapabilities[d] {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	return b.String()
}
