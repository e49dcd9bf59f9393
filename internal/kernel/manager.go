// Package kernel owns the lifecycle of the kernel subprocess bound to a
// session: spawning, streaming its output, delivering commands to its stdin,
// detecting crashes and terminating it within a bounded time.
//
// A Manager holds at most one live process. Output and exit notifications are
// delivered as typed events on a single ordered channel; the manager never
// restarts a process on its own.
package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wayneos/wayned/internal/distribution"
)

const (
	defaultDistributionFlag = "--distribution"
	defaultKillTimeout      = 5 * time.Second
	defaultChunkSize        = 4096
)

// Config describes how to launch the kernel binary.
type Config struct {
	Binary           string
	Args             []string
	Dir              string
	Env              []string // appended to the parent environment
	DistributionFlag string
	KillTimeout      time.Duration // bound on the wait after a forced kill
	ChunkSize        int
}

// Manager spawns and supervises one kernel process at a time.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	current *process
	closed  bool

	events   chan Event
	quit     chan struct{}
	quitOnce sync.Once
}

// NewManager creates a Manager. It does not start a process.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.DistributionFlag == "" {
		cfg.DistributionFlag = defaultDistributionFlag
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = defaultKillTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		cfg:    cfg,
		logger: logger.Named("kernel"),
		events: make(chan Event),
		quit:   make(chan struct{}),
	}
}

// Events returns the ordered event stream of every process generation. The
// channel is unbuffered, so a process's output stays blocked until the
// consumer takes it. It is never closed; consumers stop reading once they
// called Close.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Current returns the handle of the live process, if any.
func (m *Manager) Current() (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.hasExited() {
		return Handle{}, false
	}
	return m.current.handle, true
}

// Start spawns the kernel with the distribution tag as an argument.
func (m *Manager) Start(ctx context.Context, dist distribution.Distribution) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Handle{}, ErrClosed
	}
	if m.current != nil && !m.current.hasExited() {
		return Handle{}, ErrAlreadyRunning
	}

	args := append(slices.Clone(m.cfg.Args), m.cfg.DistributionFlag, dist.String())
	cmd := exec.Command(m.cfg.Binary, args...)
	cmd.Dir = m.cfg.Dir
	if len(m.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), m.cfg.Env...)
	}
	setupProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Handle{}, &SpawnError{Binary: m.cfg.Binary, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Handle{}, &SpawnError{Binary: m.cfg.Binary, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Handle{}, &SpawnError{Binary: m.cfg.Binary, Err: err}
	}

	if err := cmd.Start(); err != nil {
		m.logger.Warn("kernel spawn failed", zap.String("binary", m.cfg.Binary), zap.Error(err))
		return Handle{}, &SpawnError{Binary: m.cfg.Binary, Err: err}
	}

	p := newProcess(Handle{
		ID:           uuid.NewString(),
		PID:          cmd.Process.Pid,
		Distribution: dist,
		StartedAt:    time.Now(),
	}, cmd, stdin)
	m.current = p

	m.logger.Info("kernel process started",
		zap.String("process", p.handle.ID),
		zap.Int("pid", p.handle.PID),
		zap.String("distribution", dist.String()))

	go m.supervise(p, stdout, stderr)

	return p.handle, nil
}

// Send writes one command line to the live process.
func (m *Manager) Send(cmd Command) error {
	m.mu.Lock()
	p := m.current
	m.mu.Unlock()

	if p == nil || p.hasExited() {
		return ErrNotRunning
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	data = append(data, '\n')

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to kernel: %w", err)
	}
	return nil
}

// Stop asks the live process to exit, and kills it if it is still alive after
// grace. It returns once the process has terminated, or ErrStopTimeout if even
// the forced kill could not be confirmed within the kill timeout.
func (m *Manager) Stop(grace time.Duration) error {
	m.mu.Lock()
	p := m.current
	m.mu.Unlock()

	if p == nil {
		return nil
	}

	err := m.terminate(p, grace)

	m.mu.Lock()
	if m.current == p && p.hasExited() {
		m.current = nil
	}
	m.mu.Unlock()

	return err
}

// Restart stops the live process, waits until the consumer of Events has
// received its exit event, and with it every chunk the process wrote, sleeps
// settle and starts a new generation.
func (m *Manager) Restart(ctx context.Context, dist distribution.Distribution, grace, settle time.Duration) (Handle, error) {
	m.mu.Lock()
	old := m.current
	m.mu.Unlock()

	if old != nil {
		if err := m.Stop(grace); err != nil {
			return Handle{}, err
		}
		select {
		case <-old.done:
		case <-time.After(m.cfg.KillTimeout):
			m.logger.Warn("exit event of previous generation not consumed",
				zap.String("process", old.handle.ID))
		}
	}

	select {
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	case <-time.After(settle):
	}

	return m.Start(ctx, dist)
}

// Close stops the live process and refuses further starts. Events that can
// no longer be delivered are dropped.
func (m *Manager) Close(grace time.Duration) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.quitOnce.Do(func() { close(m.quit) })

	return m.Stop(grace)
}

func (m *Manager) terminate(p *process, grace time.Duration) error {
	if p.hasExited() {
		return nil
	}

	p.requested.Store(true)
	log := m.logger.With(zap.String("process", p.handle.ID), zap.Int("pid", p.handle.PID))

	// The kernel exits on stdin EOF; SIGTERM covers kernels that do not.
	_ = p.stdin.Close()
	if err := signalTerminate(p.cmd); err != nil {
		log.Debug("terminate signal failed", zap.Error(err))
	}

	select {
	case <-p.exited:
		return nil
	case <-time.After(grace):
	}

	log.Warn("kernel did not exit within grace period, killing", zap.Duration("grace", grace))
	if err := killProcessGroup(p.cmd); err != nil {
		log.Debug("kill failed", zap.Error(err))
	}

	select {
	case <-p.exited:
		return nil
	case <-time.After(m.cfg.KillTimeout):
		return fmt.Errorf("%w: pid %d", ErrStopTimeout, p.handle.PID)
	}
}

func (m *Manager) supervise(p *process, stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.pump(p, stdout, EventOutput)
	}()
	go func() {
		defer wg.Done()
		m.pump(p, stderr, EventDiagnostic)
	}()
	wg.Wait()
	close(p.drained)

	waitErr := p.cmd.Wait()
	p.exitCode = -1
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}

	ev := Event{
		Kind:      EventExit,
		ProcessID: p.handle.ID,
		ExitCode:  p.exitCode,
		Requested: p.requested.Load(),
		At:        time.Now(),
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		ev.Err = waitErr
	}

	// Nothing is logged once exited is closed.
	m.logger.Info("kernel process exited",
		zap.String("process", p.handle.ID),
		zap.Int("exit_code", p.exitCode),
		zap.Bool("requested", ev.Requested),
		zap.Duration("uptime", time.Since(p.handle.StartedAt)))
	close(p.exited)

	m.deliver(ev)
	close(p.done)
}

func (m *Manager) pump(p *process, r io.Reader, kind EventKind) {
	// Room for a partial rune carried over from the previous read.
	buf := make([]byte, m.cfg.ChunkSize+utf8.UTFMax)
	pending := 0
	for {
		n, err := r.Read(buf[pending : pending+m.cfg.ChunkSize])
		n += pending
		pending = 0

		if n > 0 {
			cut := n
			if err == nil {
				cut = completeRunes(buf[:n])
			}
			if cut > 0 {
				m.deliver(Event{
					Kind:      kind,
					ProcessID: p.handle.ID,
					Data:      string(buf[:cut]),
					At:        time.Now(),
				})
			}
			pending = copy(buf, buf[cut:n])
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				m.logger.Debug("kernel stream read failed",
					zap.String("process", p.handle.ID),
					zap.Stringer("stream", kind),
					zap.Error(err))
			}
			return
		}
	}
}

// completeRunes returns the length of b without a trailing incomplete UTF-8
// sequence. Invalid bytes count as complete and are passed through.
func completeRunes(b []byte) int {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

func (m *Manager) deliver(ev Event) {
	select {
	case m.events <- ev:
	case <-m.quit:
	}
}
