package kernel

import (
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wayneos/wayned/internal/distribution"
)

// Handle identifies one kernel process generation.
type Handle struct {
	ID           string
	PID          int
	Distribution distribution.Distribution
	StartedAt    time.Time
}

// Command is the newline-delimited message the kernel reads from stdin.
type Command struct {
	Type    string         `json:"type"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// Execute builds an "execute" command for the named action.
func Execute(action string, params map[string]any) Command {
	if params == nil {
		params = map[string]any{}
	}
	return Command{Type: "execute", Command: action, Params: params}
}

type process struct {
	handle Handle
	cmd    *exec.Cmd
	stdin  io.WriteCloser

	writeMu   sync.Mutex
	requested atomic.Bool

	drained chan struct{} // stdout and stderr reached EOF
	exited  chan struct{} // Wait returned; exitCode is set
	done    chan struct{} // exit event handed to the consumer or dropped on Close

	exitCode int
}

func newProcess(h Handle, cmd *exec.Cmd, stdin io.WriteCloser) *process {
	return &process{
		handle:  h,
		cmd:     cmd,
		stdin:   stdin,
		drained: make(chan struct{}),
		exited:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (p *process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}
