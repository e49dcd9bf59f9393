package kernel

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning = errors.New("kernel process already running")
	ErrNotRunning     = errors.New("kernel process not running")
	ErrClosed         = errors.New("kernel manager closed")
	ErrStopTimeout    = errors.New("kernel process did not terminate")
)

// SpawnError reports a failure to launch the kernel binary.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn kernel %q: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
