// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/skylightio/skylightd/lib/clock"
	"github.com/skylightio/skylightd/lib/ipc"
)

// State is the daemon lifecycle stage.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	// ErrUnhandledSignal stops the loop when a signal other than
	// SIGTERM or SIGINT is delivered.
	ErrUnhandledSignal = errors.New("unhandled signal")

	// ErrLoopFault stops the loop on a panic or an unexpected poll
	// failure.
	ErrLoopFault = errors.New("daemon loop fault")
)

// Collector receives the traces the daemon decodes. Spawn starts any
// background work and returns promptly. Submit is called on the loop
// goroutine and must not block.
type Collector interface {
	Spawn(ctx context.Context) error
	Submit(trace *ipc.Trace)
}

// Upgrader replaces the running process with the daemon build an agent
// announced. It only returns on failure.
type Upgrader interface {
	Upgrade(hello *ipc.Hello) error
}

// ServerConfig holds the dependencies of a Server.
type ServerConfig struct {
	Identity  *Identity
	Listener  *Listener
	Collector Collector
	Upgrader  Upgrader
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *Metrics

	// Version is this daemon's build version, compared against each
	// agent's Hello.
	Version string

	// Keepalive is how long the daemon stays up with no agents.
	Keepalive time.Duration

	// Tick bounds each poll wait.
	Tick time.Duration

	// SanityInterval is the spacing of identity self-checks.
	SanityInterval time.Duration

	// MaxFrameBytes bounds a single frame payload.
	MaxFrameBytes int

	// Signals, when set, replaces the process signal subscription Run
	// would otherwise make.
	Signals <-chan os.Signal
}

// Server runs the accept/dispatch loop. A single goroutine (the one
// calling Run) owns the poll set, the connection table, and the
// collector handle. Shutdown and State may be called from any
// goroutine.
type Server struct {
	identity  *Identity
	listener  *Listener
	accept    func() (int, error)
	collector Collector
	upgrader  Upgrader
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *Metrics

	version        string
	keepalive      time.Duration
	tick           time.Duration
	sanityInterval time.Duration
	maxFrameBytes  int

	signals     <-chan os.Signal
	stopSignals func()

	connections map[int]*Conn
	order       []int

	hadClientAt  time.Time
	nextSanityAt time.Time

	stopCollector context.CancelFunc
	collectorDone bool

	// replaced is set when an upgrade returned without error, which
	// only an injected exec does. The process image is considered gone:
	// cleanup leaves the socket file for the successor.
	replaced bool

	state    atomic.Int32
	shutdown atomic.Bool

	wakeMu    sync.Mutex
	wakeRead  int
	wakeWrite int
}

// NewServer validates cfg and prepares a Server. The Server owns the
// identity and listener from here on and releases them when Run
// returns.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Identity == nil:
		return nil, errors.New("identity is required")
	case cfg.Listener == nil:
		return nil, errors.New("listener is required")
	case cfg.Collector == nil:
		return nil, errors.New("collector is required")
	case cfg.Upgrader == nil:
		return nil, errors.New("upgrader is required")
	case cfg.Keepalive <= 0:
		return nil, errors.New("keepalive must be positive")
	case cfg.Tick <= 0:
		return nil, errors.New("tick must be positive")
	case cfg.MaxFrameBytes > ipc.MaxPayloadLength:
		return nil, fmt.Errorf("max frame bytes %d exceeds %d", cfg.MaxFrameBytes, ipc.MaxPayloadLength)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics("")
	}
	if cfg.SanityInterval <= 0 {
		cfg.SanityInterval = cfg.Tick
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = ipc.MaxPayloadLength
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("creating wake pipe: %w", err)
	}

	return &Server{
		identity:       cfg.Identity,
		listener:       cfg.Listener,
		accept:         cfg.Listener.Accept,
		collector:      cfg.Collector,
		upgrader:       cfg.Upgrader,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		version:        cfg.Version,
		keepalive:      cfg.Keepalive,
		tick:           cfg.Tick,
		sanityInterval: cfg.SanityInterval,
		maxFrameBytes:  cfg.MaxFrameBytes,
		signals:        cfg.Signals,
		connections:    make(map[int]*Conn),
		wakeRead:       pipe[0],
		wakeWrite:      pipe[1],
	}, nil
}

// State returns the current lifecycle stage.
func (s *Server) State() State { return State(s.state.Load()) }

// Shutdown asks the loop to drain and stop. Safe to call from any
// goroutine, any number of times, before or during Run.
func (s *Server) Shutdown() {
	s.shutdown.Store(true)
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()
	if s.wakeWrite >= 0 {
		unix.Write(s.wakeWrite, []byte{1})
	}
}

// Run executes the daemon until it stops. It returns nil for an
// orderly stop (signal, idle keepalive, Shutdown, or ctx cancellation)
// and an error for an identity failure, an unhandled signal, a loop
// fault, or a failed upgrade. The listener, connections, socket file,
// and lockfile handle are released before Run returns, whatever the
// cause.
func (s *Server) Run(ctx context.Context) error {
	defer s.cleanup()

	if err := s.init(ctx); err != nil {
		return err
	}
	return s.work(ctx)
}

func (s *Server) init(ctx context.Context) error {
	if s.signals == nil {
		channel := make(chan os.Signal, 4)
		signal.Notify(channel, syscall.SIGTERM, syscall.SIGINT,
			syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGUSR1, syscall.SIGUSR2)
		s.signals = channel
		s.stopSignals = func() { signal.Stop(channel) }
	}

	s.logger.Info("starting skylight daemon",
		"pid", s.identity.PID,
		"version", s.version,
		"socket", s.identity.SocketPath(),
		"keepalive", s.keepalive,
	)

	collectorContext, cancel := context.WithCancel(ctx)
	s.stopCollector = cancel
	if err := s.collector.Spawn(collectorContext); err != nil {
		return fmt.Errorf("starting collector: %w", err)
	}

	now := s.clock.Now()
	s.hadClientAt = now
	s.nextSanityAt = now.Add(s.sanityInterval)
	s.state.Store(int32(StateRunning))
	return nil
}

func (s *Server) work(ctx context.Context) error {
	for {
		if stop, err := s.checkStop(ctx); stop {
			return err
		}
		if stop, err := s.step(); stop {
			return err
		}
	}
}

// checkStop consults the stop sources at the top of each iteration.
func (s *Server) checkStop(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		s.logger.Info("context cancelled, shutting down")
		return true, nil
	}
	if s.shutdown.Load() {
		s.logger.Info("shutdown requested")
		return true, nil
	}
	select {
	case received := <-s.signals:
		switch received {
		case syscall.SIGTERM, syscall.SIGINT:
			s.logger.Info("received signal, shutting down", "signal", received.String())
			return true, nil
		default:
			s.logger.Error("did not handle signal", "signal", received.String())
			return true, fmt.Errorf("%w: %s", ErrUnhandledSignal, received)
		}
	default:
	}
	return false, nil
}

// step runs one iteration: wait for readiness, service ready sockets,
// then evaluate keepalive and the periodic self-check.
func (s *Server) step() (stop bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("loop exception",
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
			stop, err = true, fmt.Errorf("%w: %v", ErrLoopFault, recovered)
		}
	}()

	pollSet := s.pollSet()
	if _, err := unix.Poll(pollSet, pollTimeout(s.tick)); err != nil && !errors.Is(err, unix.EINTR) {
		return true, fmt.Errorf("%w: poll: %v", ErrLoopFault, err)
	}

	listenerFD := s.listener.FD()
	for _, ready := range pollSet {
		if ready.Revents == 0 {
			continue
		}
		fd := int(ready.Fd)
		switch fd {
		case listenerFD:
			if err := s.acceptPending(); err != nil {
				s.logger.Error("accept failed, shutting down", "error", err)
				return true, fmt.Errorf("%w: %w", ErrLoopFault, err)
			}
		case s.wakeRead:
			s.drainWake()
		default:
			if ready.Revents&unix.POLLNVAL != 0 {
				s.closeConnection(fd, closeReasonOrphan)
				continue
			}
			if stop, err := s.service(fd); stop {
				return true, err
			}
		}
	}

	now := s.clock.Now()
	if len(s.connections) > 0 {
		s.hadClientAt = now
	}

	if idle := now.Sub(s.hadClientAt); idle > s.keepalive {
		s.logger.Info("no clients for keepalive period, shutting down", "idle", idle, "keepalive", s.keepalive)
		return true, nil
	}
	if !now.Before(s.nextSanityAt) {
		s.nextSanityAt = now.Add(s.sanityInterval)
		if err := s.selfCheck(); err != nil {
			s.logger.Error("identity lost, shutting down", "error", err)
			return true, err
		}
	}
	return false, nil
}

func pollTimeout(tick time.Duration) int {
	milliseconds := int(tick / time.Millisecond)
	if milliseconds < 1 {
		return 1
	}
	return milliseconds
}

// pollSet lists the listener, the wake pipe, and every connection in
// accept order.
func (s *Server) pollSet() []unix.PollFd {
	set := make([]unix.PollFd, 0, len(s.order)+2)
	set = append(set,
		unix.PollFd{Fd: int32(s.listener.FD()), Events: unix.POLLIN},
		unix.PollFd{Fd: int32(s.wakeRead), Events: unix.POLLIN},
	)
	for _, fd := range s.order {
		set = append(set, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	return set
}

// acceptPending accepts until the backlog is empty. The listener
// already swallows the transient errors; anything it reports (EMFILE,
// ENOBUFS) leaves the socket readable, so the loop cannot continue.
func (s *Server) acceptPending() error {
	for {
		fd, err := s.accept()
		if err != nil {
			return err
		}
		if fd < 0 {
			return nil
		}
		s.connections[fd] = NewConn(fd, s.maxFrameBytes)
		s.order = append(s.order, fd)
		s.metrics.ConnectionsAccepted.Inc()
		s.metrics.ConnectionsOpen.Set(float64(len(s.connections)))
		s.logger.Debug("client accepted", "fd", fd)
	}
}

func (s *Server) drainWake() {
	var scratch [64]byte
	for {
		if n, err := unix.Read(s.wakeRead, scratch[:]); n <= 0 || err != nil {
			return
		}
	}
}

// service drains every complete message from one readable connection.
// Transport and protocol failures close that connection only.
func (s *Server) service(fd int) (bool, error) {
	connection, ok := s.connections[fd]
	if !ok {
		// Closed earlier in this iteration.
		return false, nil
	}
	for {
		message, err := connection.Read()
		switch {
		case errors.Is(err, ipc.ErrProtocol):
			s.logger.Error("IPC protocol error", "fd", fd, "error", err)
			s.metrics.ProtocolErrors.Inc()
			s.closeConnection(fd, closeReasonProtocol)
			return false, nil
		case err != nil:
			s.logger.Debug("client disconnected", "fd", fd, "error", err)
			s.closeConnection(fd, closeReasonDisconnect)
			return false, nil
		case message == nil:
			return false, nil
		}
		if stop, err := s.dispatch(message); stop {
			return true, err
		}
	}
}

func (s *Server) dispatch(message ipc.Message) (bool, error) {
	switch typed := message.(type) {
	case *ipc.Hello:
		s.metrics.Messages.WithLabelValues("hello").Inc()
		if typed.Newer(s.version) {
			s.logger.Info("newer version of agent deployed, restarting",
				"current", s.version,
				"new", typed.Version,
			)
			return true, s.reload(typed)
		}
		s.logger.Debug("agent hello", "version", typed.Version)
	case *ipc.Trace:
		if err := typed.Validate(); err != nil {
			s.metrics.Messages.WithLabelValues("invalid_trace").Inc()
			s.logger.Warn("dropping invalid trace", "error", err)
			return false, nil
		}
		s.metrics.Messages.WithLabelValues("trace").Inc()
		s.collector.Submit(typed)
	default:
		s.metrics.Messages.WithLabelValues("unknown").Inc()
		s.logger.Debug("received unknown message", "type", fmt.Sprintf("0x%02x", message.Tag()))
	}
	return false, nil
}

func (s *Server) selfCheck() error {
	err := s.identity.Check()
	result := "ok"
	if err != nil {
		result = "failed"
	}
	s.metrics.SelfChecks.WithLabelValues(result).Inc()
	if writeErr := s.metrics.WriteTextfile(); writeErr != nil {
		s.logger.Warn("writing metrics textfile", "error", writeErr)
	}
	return err
}

func (s *Server) closeConnection(fd int, reason string) {
	connection, ok := s.connections[fd]
	if !ok {
		return
	}
	delete(s.connections, fd)
	for index, candidate := range s.order {
		if candidate == fd {
			s.order = append(s.order[:index], s.order[index+1:]...)
			break
		}
	}
	s.logger.Debug("closing client connection", "fd", fd, "reason", reason)
	if err := connection.Close(); err != nil {
		s.logger.Debug("error closing client connection", "fd", fd, "error", err)
	}
	s.metrics.ConnectionsClosed.WithLabelValues(reason).Inc()
	s.metrics.ConnectionsOpen.Set(float64(len(s.connections)))
}

func (s *Server) closeAllConnections(reason string) {
	for len(s.order) > 0 {
		s.closeConnection(s.order[0], reason)
	}
}

// shutdownCollector stops the collector's background work and, when it
// supports it, waits for a final flush. Idempotent.
func (s *Server) shutdownCollector() {
	if s.collectorDone {
		return
	}
	s.collectorDone = true
	if s.stopCollector != nil {
		s.stopCollector()
	}
	if closer, ok := s.collector.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn("closing collector", "error", err)
		}
	}
}

func (s *Server) cleanup() {
	s.state.Store(int32(StateDraining))

	if s.stopSignals != nil {
		s.stopSignals()
	}
	if err := s.listener.Close(); err != nil {
		s.logger.Debug("closing listener", "error", err)
	}
	s.closeAllConnections(closeReasonShutdown)
	s.shutdownCollector()

	if s.replaced {
		s.logger.Debug("process image replaced, leaving socket file in place")
	} else if err := s.identity.Release(); err != nil {
		s.logger.Warn("releasing daemon identity", "error", err)
	}

	s.wakeMu.Lock()
	unix.Close(s.wakeRead)
	unix.Close(s.wakeWrite)
	s.wakeRead, s.wakeWrite = -1, -1
	s.wakeMu.Unlock()

	if err := s.metrics.WriteTextfile(); err != nil {
		s.logger.Debug("writing final metrics textfile", "error", err)
	}
	s.state.Store(int32(StateStopped))
	s.logger.Info("skylight daemon stopped")
}
