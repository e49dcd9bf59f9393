// Package orchestrator binds one client connection to one kernel process.
//
// An Orchestrator accepts free-form commands, resolves them into structured
// actions through the interpreter, forwards those actions to the kernel and
// relays everything the kernel prints back to the connection. Commands are
// handled strictly one at a time; lifecycle controls run on their own loop so
// that spawning and signalling never block command acceptance.
//
//	o := orchestrator.New(conn, interp, manager, distribution.Base,
//		orchestrator.WithLogger(logger))
//	o.OnConnect()
//	defer o.OnDisconnect()
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wayneos/wayned/internal/distribution"
	"github.com/wayneos/wayned/internal/interpreter"
	"github.com/wayneos/wayned/internal/kernel"
	"github.com/wayneos/wayned/internal/session"
)

const (
	defaultGrace     = 5 * time.Second
	defaultSettle    = time.Second
	defaultQueueSize = 64
	controlQueueSize = 16
)

// Conn is the outbound side of the client connection.
type Conn interface {
	Send(ev session.Event) error
}

// Interpreter resolves free-form text into an action. It never fails; errors
// are reported as an "error" action.
type Interpreter interface {
	Interpret(ctx context.Context, text string, dist distribution.Distribution) interpreter.Action
}

// Kernel is the process manager owned by one session. Restart returns only
// after every event of the previous generation has been taken from Events.
type Kernel interface {
	Start(ctx context.Context, dist distribution.Distribution) (kernel.Handle, error)
	Stop(grace time.Duration) error
	Restart(ctx context.Context, dist distribution.Distribution, grace, settle time.Duration) (kernel.Handle, error)
	Current() (kernel.Handle, bool)
	Send(cmd kernel.Command) error
	Events() <-chan kernel.Event
	Close(grace time.Duration) error
}

// Recorder persists session records.
type Recorder interface {
	Save(s *session.Session) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRecorder persists the session record on every state change.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithRemoteAddr records the client address.
func WithRemoteAddr(addr string) Option {
	return func(o *Orchestrator) { o.record.RemoteAddr = addr }
}

// WithTimings sets the stop grace period and the pause between stop and
// start on restart.
func WithTimings(grace, settle time.Duration) Option {
	return func(o *Orchestrator) {
		o.grace = grace
		o.settle = settle
	}
}

// WithQueueSize bounds the number of commands waiting for the worker.
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithCrashPolicy enables bounded automatic recovery after crashes.
func WithCrashPolicy(p CrashPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

type request struct {
	control session.Control
	auto    bool // automatic start after a crash
}

// Orchestrator is the per-connection session controller.
type Orchestrator struct {
	id       string
	dist     distribution.Distribution
	conn     Conn
	interp   Interpreter
	kernel   Kernel
	recorder Recorder
	logger   *zap.Logger

	grace     time.Duration
	settle    time.Duration
	queueSize int
	policy    CrashPolicy
	crashes   *crashTracker

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	commands chan string
	controls chan request
	exits    chan kernel.Event

	mu       sync.Mutex
	state    session.State
	current  string // process ID of the live kernel
	recovery *time.Timer
	record   session.Session
	closed   bool

	connectOnce    sync.Once
	disconnectOnce sync.Once
	done           chan struct{}
}

// New creates an Orchestrator for one connection. Nothing runs until
// OnConnect.
func New(conn Conn, interp Interpreter, k Kernel, dist distribution.Distribution, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		id:        uuid.NewString(),
		dist:      dist,
		conn:      conn,
		interp:    interp,
		kernel:    k,
		grace:     defaultGrace,
		settle:    defaultSettle,
		queueSize: defaultQueueSize,
		policy:    DefaultCrashPolicy(),
		state:     session.Idle,
		done:      make(chan struct{}),
	}
	o.record = session.Session{
		ID:           o.id,
		Distribution: dist.String(),
		Status:       session.Idle.String(),
		StartedAt:    time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("session").With(
		zap.String("session", o.id),
		zap.String("distribution", dist.String()))

	o.crashes = newCrashTracker(o.policy)
	o.commands = make(chan string, o.queueSize)
	o.controls = make(chan request, controlQueueSize)
	o.exits = make(chan kernel.Event, 4)

	ctx, cancel := context.WithCancel(context.Background())
	o.group, o.ctx = errgroup.WithContext(ctx)
	o.cancel = cancel

	return o
}

// ID returns the session ID.
func (o *Orchestrator) ID() string {
	return o.id
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() session.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Record returns a copy of the session record.
func (o *Orchestrator) Record() session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.record
}

// Done is closed once OnDisconnect has finished cleaning up.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// OnConnect starts the session loops and requests the initial kernel start.
func (o *Orchestrator) OnConnect() {
	o.connectOnce.Do(func() {
		o.logger.Info("session opened", zap.String("remote", o.Record().RemoteAddr))
		o.persist(o.Record())

		o.group.Go(func() error { return o.relay(o.ctx) })
		o.group.Go(func() error { return o.work(o.ctx) })
		o.group.Go(func() error { return o.control(o.ctx) })

		o.submit(request{control: session.ControlStart})
	})
}

// OnCommand queues a command for interpretation. Commands are refused
// unless the kernel is running.
func (o *Orchestrator) OnCommand(text string) {
	if strings.TrimSpace(text) == "" || o.isClosed() {
		return
	}

	if st := o.State(); st != session.Running {
		o.emit(session.Error(fmt.Sprintf("kernel is not ready (%s)", st)))
		return
	}

	select {
	case o.commands <- text:
	default:
		o.logger.Warn("command queue full", zap.Int("size", o.queueSize))
		o.emit(session.Error("too many pending commands, try again later"))
	}
}

// OnControl queues a lifecycle request for the control loop.
func (o *Orchestrator) OnControl(c session.Control) {
	o.submit(request{control: c})
}

// OnDisconnect terminates the kernel and tears the session down. It is safe
// to call more than once and from any state.
func (o *Orchestrator) OnDisconnect() {
	o.disconnectOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		if o.recovery != nil {
			o.recovery.Stop()
		}
		o.mu.Unlock()

		if err := o.kernel.Close(o.grace); err != nil {
			o.logger.Error("failed to terminate kernel", zap.Error(err))
		}
		o.cancel()
		o.drainCommands()

		if err := o.group.Wait(); err != nil {
			o.logger.Debug("session loops exited", zap.Error(err))
		}

		now := time.Now().UTC()
		o.mu.Lock()
		o.current = ""
		o.record.Status = session.StatusClosed
		o.record.StoppedAt = &now
		o.record.ExitReason = session.ExitDisconnect
		rec := o.record
		o.mu.Unlock()

		o.persist(rec)
		o.logger.Info("session closed",
			zap.Int("commands", rec.Commands),
			zap.Int("restarts", rec.Restarts),
			zap.Int("crashes", rec.Crashes))
		close(o.done)
	})
}

func (o *Orchestrator) submit(req request) {
	if o.isClosed() {
		return
	}
	select {
	case o.controls <- req:
	default:
		o.logger.Warn("control queue full", zap.String("control", string(req.control)))
		o.emit(session.Error("too many pending control requests, try again later"))
	}
}

// relay forwards kernel events to the connection in the order they arrive.
func (o *Orchestrator) relay(ctx context.Context) error {
	events := o.kernel.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch ev.Kind {
			case kernel.EventOutput:
				o.emit(session.Output(ev.Data))
			case kernel.EventDiagnostic:
				o.logger.Warn("kernel stderr", zap.String("process", ev.ProcessID), zap.String("data", ev.Data))
				o.emit(session.Error(ev.Data))
			case kernel.EventExit:
				if ev.Requested {
					continue
				}
				select {
				case o.exits <- ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// work runs commands one at a time.
func (o *Orchestrator) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-o.commands:
			o.execute(ctx, text)
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, text string) {
	// An interpretation in flight runs to completion or its own timeout.
	action := o.interp.Interpret(context.WithoutCancel(ctx), text, o.dist)
	if o.isClosed() {
		return
	}

	log := o.logger.With(zap.String("action", action.Action))
	log.Debug("command interpreted", zap.String("text", text))

	if action.Forwardable() {
		if !o.dist.Supports(action.Action) {
			log.Info("action outside distribution capabilities refused")
			o.emit(session.Error(fmt.Sprintf("%q is not available in %s", action.Action, o.dist)))
			o.countCommand()
			return
		}
		if st := o.State(); st != session.Running {
			o.emit(session.Error(fmt.Sprintf("kernel is not ready (%s); %q was not sent", st, action.Action)))
		} else if err := o.kernel.Send(kernel.Execute(action.Action, action.Params)); err != nil {
			log.Warn("failed to forward action", zap.Error(err))
			o.emit(session.Error(fmt.Sprintf("failed to send %q to kernel: %v", action.Action, err)))
		}
	}

	o.emit(session.Response(action.Message))
	o.countCommand()
}

func (o *Orchestrator) countCommand() {
	o.mu.Lock()
	o.record.Commands++
	o.mu.Unlock()
}

// control serializes every lifecycle transition.
func (o *Orchestrator) control(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-o.controls:
			o.handle(ctx, req)
		case ev := <-o.exits:
			o.handleExit(ev)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, req request) {
	if req.auto {
		if o.State() != session.Crashed {
			o.logger.Debug("automatic restart skipped", zap.Stringer("state", o.State()))
			return
		}
		o.start(ctx)
		return
	}

	switch req.control {
	case session.ControlStart:
		if o.live() {
			o.logger.Debug("start ignored, kernel already running")
			return
		}
		o.start(ctx)
	case session.ControlStop:
		if !o.live() {
			o.logger.Debug("stop ignored, no kernel running")
			return
		}
		o.stop()
	case session.ControlRestart:
		o.restart(ctx)
	default:
		o.emit(session.Error(fmt.Sprintf("unknown control %q", req.control)))
	}
}

func (o *Orchestrator) start(ctx context.Context) {
	if !o.transition(session.Starting) {
		return
	}

	h, err := o.kernel.Start(ctx, o.dist)
	if err != nil {
		o.logger.Error("kernel start failed", zap.Error(err))
		o.transition(session.Stopped)
		o.emit(session.Error(fmt.Sprintf("failed to start kernel: %v", err)))
		return
	}
	o.running(h)
}

func (o *Orchestrator) running(h kernel.Handle) {
	o.mu.Lock()
	o.current = h.ID
	o.record.KernelPID = h.PID
	o.mu.Unlock()

	o.transition(session.Running)
}

func (o *Orchestrator) stop() {
	if err := o.kernel.Stop(o.grace); err != nil {
		o.logger.Error("kernel stop failed", zap.Error(err))
		o.emit(session.Error(fmt.Sprintf("failed to stop kernel: %v", err)))
	}

	o.mu.Lock()
	o.current = ""
	o.mu.Unlock()

	o.transition(session.Stopped)
}

func (o *Orchestrator) restart(ctx context.Context) {
	o.cancelRecovery()
	o.transition(session.Restarting)

	o.mu.Lock()
	o.record.Restarts++
	o.current = ""
	o.mu.Unlock()

	// Every chunk of the old process has been relayed once Restart returns.
	h, err := o.kernel.Restart(ctx, o.dist, o.grace, o.settle)
	if ctx.Err() != nil {
		return
	}

	o.transition(session.Starting)
	if err != nil {
		o.logger.Error("kernel restart failed", zap.Error(err))
		o.transition(session.Stopped)
		o.emit(session.Error(fmt.Sprintf("failed to restart kernel: %v", err)))
		return
	}
	o.running(h)
}

func (o *Orchestrator) handleExit(ev kernel.Event) {
	o.mu.Lock()
	ours := ev.ProcessID == o.current && o.state == session.Running
	if ours {
		o.current = ""
	}
	o.mu.Unlock()

	if !ours {
		o.logger.Debug("stale exit ignored", zap.String("process", ev.ProcessID))
		return
	}

	if !ev.Crashed() {
		o.logger.Info("kernel exited", zap.Int("exit_code", ev.ExitCode))
		o.transition(session.Stopped)
		return
	}

	o.logger.Warn("kernel crashed", zap.Int("exit_code", ev.ExitCode), zap.Error(ev.Err))

	o.mu.Lock()
	o.record.Crashes++
	o.mu.Unlock()
	o.transition(session.Crashed)

	n, allowed := o.crashes.record()
	switch {
	case allowed:
		o.scheduleRecovery(n)
	case o.policy.Enabled():
		o.emit(session.Error(o.policy.exhaustedMessage(n)))
	}
}

func (o *Orchestrator) scheduleRecovery(attempt int) {
	delay := o.policy.Delay(attempt)
	o.logger.Info("scheduling kernel restart", zap.Int("attempt", attempt), zap.Duration("delay", delay))

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.recovery != nil {
		o.recovery.Stop()
	}
	o.recovery = time.AfterFunc(delay, func() {
		o.submit(request{auto: true})
	})
}

func (o *Orchestrator) cancelRecovery() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.recovery != nil {
		o.recovery.Stop()
		o.recovery = nil
	}
}

// transition moves the state machine and announces the new state. Moves the
// state machine does not allow are logged and dropped.
func (o *Orchestrator) transition(to session.State) bool {
	o.mu.Lock()
	from := o.state
	if !session.CanTransition(from, to) {
		o.mu.Unlock()
		o.logger.Warn("invalid state transition", zap.Stringer("from", from), zap.Stringer("to", to))
		return false
	}
	o.state = to
	o.record.Status = to.String()
	rec := o.record
	o.mu.Unlock()

	o.logger.Info("session state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	o.emit(session.Status(to))
	o.persist(rec)
	return true
}

func (o *Orchestrator) live() bool {
	_, ok := o.kernel.Current()
	return ok
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) drainCommands() {
	for {
		select {
		case <-o.commands:
		default:
			return
		}
	}
}

func (o *Orchestrator) emit(ev session.Event) {
	if o.isClosed() {
		return
	}
	if err := o.conn.Send(ev); err != nil {
		o.logger.Debug("failed to send event", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

func (o *Orchestrator) persist(rec session.Session) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Save(&rec); err != nil {
		o.logger.Warn("failed to save session record", zap.Error(err))
	}
}
