package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wayneos/wayned/internal/distribution"
	"github.com/wayneos/wayned/internal/interpreter"
	"github.com/wayneos/wayned/internal/kernel"
	"github.com/wayneos/wayned/internal/session"
)

const waitTimeout = 5 * time.Second

type fakeConn struct {
	mu     sync.Mutex
	events []session.Event
}

func (c *fakeConn) Send(ev session.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) snapshot() []session.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.Event(nil), c.events...)
}

func (c *fakeConn) statuses() []string {
	var out []string
	for _, ev := range c.snapshot() {
		if ev.Kind == session.EventStatus {
			out = append(out, ev.Text)
		}
	}
	return out
}

func (c *fakeConn) count(ev session.Event) int {
	n := 0
	for _, got := range c.snapshot() {
		if got == ev {
			n++
		}
	}
	return n
}

func (c *fakeConn) waitFor(t *testing.T, ev session.Event, times int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.count(ev) >= times },
		waitTimeout, 5*time.Millisecond, "waiting for %d x %+v, got %+v", times, ev, c.snapshot())
}

func (c *fakeConn) waitForKind(t *testing.T, kind session.EventKind, match func(string) bool) session.Event {
	t.Helper()
	var found session.Event
	require.Eventually(t, func() bool {
		for _, ev := range c.snapshot() {
			if ev.Kind == kind && match(ev.Text) {
				found = ev
				return true
			}
		}
		return false
	}, waitTimeout, 5*time.Millisecond)
	return found
}

// fakeInterpreter answers with fn. When gate is set, every call blocks until
// a value is sent on it.
type fakeInterpreter struct {
	fn   func(text string) interpreter.Action
	gate chan struct{}

	mu      sync.Mutex
	calls   []string
	active  int
	maxSeen int
}

func (f *fakeInterpreter) Interpret(ctx context.Context, text string, dist distribution.Distribution) interpreter.Action {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	return f.fn(text)
}

func (f *fakeInterpreter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func actionNamed(text string) interpreter.Action {
	return interpreter.Action{Action: text, Params: map[string]any{}, Message: "running " + text}
}

// fakeKernel mimics kernel.Manager: one live process, an ordered event
// stream, and an exit event for every generation.
type fakeKernel struct {
	mu       sync.Mutex
	events   chan kernel.Event
	current  string
	starts   []kernel.Handle
	dists    []distribution.Distribution
	sent     []kernel.Command
	startErr error
	stopTail string // printed by a generation while it is being stopped
	restarts int
	closed   bool
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{events: make(chan kernel.Event, 256)}
}

func (k *fakeKernel) Start(ctx context.Context, dist distribution.Distribution) (kernel.Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return kernel.Handle{}, kernel.ErrClosed
	}
	if k.current != "" {
		return kernel.Handle{}, kernel.ErrAlreadyRunning
	}
	if k.startErr != nil {
		return kernel.Handle{}, &kernel.SpawnError{Binary: "wayneos-kernel", Err: k.startErr}
	}

	n := len(k.starts) + 1
	h := kernel.Handle{ID: fmt.Sprintf("proc-%d", n), PID: 1000 + n, Distribution: dist, StartedAt: time.Now()}
	k.current = h.ID
	k.starts = append(k.starts, h)
	k.dists = append(k.dists, dist)
	return h, nil
}

func (k *fakeKernel) Stop(grace time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopLocked()
	return nil
}

func (k *fakeKernel) stopLocked() {
	if k.current == "" {
		return
	}
	id := k.current
	k.current = ""
	if k.stopTail != "" {
		k.events <- kernel.Event{Kind: kernel.EventOutput, ProcessID: id, Data: k.stopTail}
	}
	k.events <- kernel.Event{Kind: kernel.EventExit, ProcessID: id, ExitCode: -1, Requested: true}
}

// Restart mirrors kernel.Manager: it returns once the consumer has taken
// every event of the stopped generation.
func (k *fakeKernel) Restart(ctx context.Context, dist distribution.Distribution, grace, settle time.Duration) (kernel.Handle, error) {
	k.mu.Lock()
	k.restarts++
	k.stopLocked()
	k.mu.Unlock()

	for len(k.events) > 0 {
		select {
		case <-ctx.Done():
			return kernel.Handle{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}

	select {
	case <-ctx.Done():
		return kernel.Handle{}, ctx.Err()
	case <-time.After(settle):
	}
	return k.Start(ctx, dist)
}

func (k *fakeKernel) Current() (kernel.Handle, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.current == "" {
		return kernel.Handle{}, false
	}
	return k.starts[len(k.starts)-1], true
}

func (k *fakeKernel) Send(cmd kernel.Command) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.current == "" {
		return kernel.ErrNotRunning
	}
	k.sent = append(k.sent, cmd)
	return nil
}

func (k *fakeKernel) Events() <-chan kernel.Event {
	return k.events
}

func (k *fakeKernel) Close(grace time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
	k.stopLocked()
	return nil
}

// exit simulates the live process terminating on its own.
func (k *fakeKernel) exit(code int) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	id := k.current
	k.current = ""
	k.events <- kernel.Event{Kind: kernel.EventExit, ProcessID: id, ExitCode: code}
	return id
}

func (k *fakeKernel) emit(ev kernel.Event) {
	k.mu.Lock()
	if ev.ProcessID == "" {
		ev.ProcessID = k.current
	}
	k.mu.Unlock()
	k.events <- ev
}

func (k *fakeKernel) restartCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.restarts
}

func (k *fakeKernel) startCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.starts)
}

func (k *fakeKernel) handles() []kernel.Handle {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]kernel.Handle(nil), k.starts...)
}

func (k *fakeKernel) commands() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, 0, len(k.sent))
	for _, c := range k.sent {
		out = append(out, c.Command)
	}
	return out
}

func (k *fakeKernel) isClosed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closed
}

type fakeRecorder struct {
	mu    sync.Mutex
	saved []session.Session
}

func (r *fakeRecorder) Save(s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, *s)
	return nil
}

func (r *fakeRecorder) last() session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		return session.Session{}
	}
	return r.saved[len(r.saved)-1]
}
