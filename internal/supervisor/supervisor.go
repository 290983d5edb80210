package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultShell            = "/bin/sh"
	defaultScannerBufSize   = 1024 * 1024 // 1 MB
	defaultRingBufCapacity  = 1000
	defaultSubscriberBufCap = 100
	defaultGracefulTimeout  = 5 * time.Second
	defaultSendTimeout      = 30 * time.Second
	defaultInputQueueSize   = 64
)

var (
	ErrAlreadyRunning  = errors.New("a process is already running")
	ErrNoActiveProcess = errors.New("no active process")
	ErrEmptyCommand    = errors.New("empty command")
	ErrInputQueueFull  = errors.New("input queue full, the process is not reading")
)

// Sink receives the forwarded output of a process, one line per call,
// followed by the exit message.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// Options configures a Supervisor. Zero values select defaults.
type Options struct {
	Shell           string
	GracefulTimeout time.Duration
	HistorySize     int
	// SendTimeout bounds each delivery to the sink.
	SendTimeout time.Duration
	// InputQueueSize is how many ForwardInput lines may wait for the
	// process to read before ForwardInput starts failing.
	InputQueueSize int
	Logger         *zap.SugaredLogger
}

// Supervisor owns the single active-process slot.
type Supervisor struct {
	shell       string
	grace       time.Duration
	sendTimeout time.Duration
	queueSize   int
	log         *zap.SugaredLogger

	mu     sync.Mutex
	active *Process

	subMu       sync.RWMutex
	history     *RingBuffer
	subscribers map[string]chan Event
}

// New creates a supervisor with an empty slot.
func New(opts Options) *Supervisor {
	if opts.Shell == "" {
		opts.Shell = defaultShell
	}
	if opts.GracefulTimeout <= 0 {
		opts.GracefulTimeout = defaultGracefulTimeout
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultRingBufCapacity
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.InputQueueSize <= 0 {
		opts.InputQueueSize = defaultInputQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Supervisor{
		shell:       opts.Shell,
		grace:       opts.GracefulTimeout,
		sendTimeout: opts.SendTimeout,
		queueSize:   opts.InputQueueSize,
		log:         opts.Logger,
		history:     NewRingBuffer(opts.HistorySize),
		subscribers: make(map[string]chan Event),
	}
}

// Start runs commandLine through the shell and begins forwarding its combined
// stdout/stderr to sink. The slot stays occupied until the output stream is
// exhausted and the process has exited.
func (s *Supervisor) Start(commandLine string, sink Sink) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, ErrAlreadyRunning
	}
	if strings.TrimSpace(commandLine) == "" {
		return nil, ErrEmptyCommand
	}

	p := &Process{
		id:          uuid.New().String(),
		commandLine: commandLine,
		startedAt:   time.Now().UTC(),
		state:       StateCreated,
		input:       make(chan []byte, s.queueSize),
		released:    make(chan struct{}),
		done:        make(chan struct{}),
	}

	cmd := exec.Command(s.shell, "-c", commandLine)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}

	// The child has its own copies of these ends now.
	stdinR.Close()
	outW.Close()

	p.cmd = cmd
	p.stdin = &stdinWriter{writer: stdinW}
	p.setState(StateRunning)
	s.active = p

	s.log.Infow("process started", "process", p.id, "pid", cmd.Process.Pid, "command", commandLine)
	s.resetHistory()
	s.publish(Event{ProcessID: p.id, Type: EventStarted, Data: commandLine})

	go s.forward(p, outR, sink)
	go s.writeInput(p, sink)

	return p, nil
}

// ForwardInput queues text and a newline for the active process's stdin and
// returns without waiting for the write. Lines reach the process in call
// order. A process that stops reading fills the queue, after which
// ForwardInput fails with ErrInputQueueFull instead of blocking.
func (s *Supervisor) ForwardInput(text string) error {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()

	if p == nil {
		return ErrNoActiveProcess
	}
	select {
	case p.input <- []byte(text + "\n"):
		return nil
	default:
		return ErrInputQueueFull
	}
}

// writeInput drains the input queue into stdin until the slot is released.
// A failed write is reported through the sink; once stdin has been closed
// by release, pending lines are dropped.
func (s *Supervisor) writeInput(p *Process, sink Sink) {
	log := s.log.With("process", p.id)
	for {
		select {
		case <-p.released:
			return
		case data := <-p.input:
			if err := p.stdin.Write(data); err != nil {
				if p.stdin.Closed() {
					return
				}
				log.Warnw("failed to write to process stdin", "error", err)
				s.emit(log, sink, fmt.Sprintf("Failed to write to process: %v", err))
			}
		}
	}
}

// Active returns a snapshot of the process occupying the slot, if any.
func (s *Supervisor) Active() (Info, bool) {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()

	if p == nil {
		return Info{}, false
	}
	return p.Info(), true
}

// forward is the only path that frees the slot. It relays output in order,
// waits for the exit status, reports it, and then clears the slot.
func (s *Supervisor) forward(p *Process, out *os.File, sink Sink) {
	log := s.log.With("process", p.id)

	defer close(p.done)
	defer s.release(p)
	defer out.Close()

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 64*1024), defaultScannerBufSize)

	for scanner.Scan() {
		line := strings.TrimRightFunc(scanner.Text(), unicode.IsSpace)
		if line == "" {
			continue
		}
		s.publish(Event{ProcessID: p.id, Type: EventOutput, Data: line})
		s.emit(log, sink, line)
	}

	p.setState(StateDraining)

	readErr := scanner.Err()
	if readErr != nil {
		log.Errorw("output stream failed, killing process", "error", readErr)
		s.signalGroup(p, syscall.SIGKILL)
		io.Copy(io.Discard, out)
	}

	code := exitCode(p.cmd.Wait())
	p.terminate(code)
	log.Infow("process finished", "exitCode", code)

	msg := fmt.Sprintf("Process finished with code %d", code)
	if readErr != nil {
		msg = fmt.Sprintf("Process output failed (%v); finished with code %d", readErr, code)
	}
	s.publish(Event{ProcessID: p.id, Type: EventExit, Data: msg, ExitCode: code})
	s.emit(log, sink, msg)
}

func (s *Supervisor) release(p *Process) {
	close(p.released)
	p.stdin.Close()

	s.mu.Lock()
	if s.active == p {
		s.active = nil
	}
	s.mu.Unlock()
}

func (s *Supervisor) emit(log *zap.SugaredLogger, sink Sink, text string) {
	if sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()
	if err := sink.Send(ctx, text); err != nil {
		log.Warnw("failed to deliver process output", "error", err)
	}
}

// exitCode maps a Wait error to a numeric code. Death by signal N is -N.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return -int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}

func (s *Supervisor) signalGroup(p *Process, sig syscall.Signal) {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.log.Warnw("failed to signal process group", "process", p.id, "signal", sig, "error", err)
	}
}

// Shutdown terminates the active process, if any: SIGTERM to its process
// group, then SIGKILL after the graceful timeout. It returns once the slot is
// free or ctx is done.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()

	if p == nil {
		return
	}

	s.log.Infow("stopping active process", "process", p.id)
	s.signalGroup(p, syscall.SIGTERM)

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.signalGroup(p, syscall.SIGKILL)

	select {
	case <-p.done:
	case <-ctx.Done():
	}
}

// Subscribe registers a channel that receives future events. It also returns
// the buffered history so late subscribers can catch up without gaps.
func (s *Supervisor) Subscribe() (string, <-chan Event, []Event) {
	subID := uuid.New().String()
	ch := make(chan Event, defaultSubscriberBufCap)

	s.subMu.Lock()
	history := s.history.ReadAll()
	s.subscribers[subID] = ch
	s.subMu.Unlock()

	return subID, ch, history
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Supervisor) Unsubscribe(subID string) {
	s.subMu.Lock()
	if ch, exists := s.subscribers[subID]; exists {
		close(ch)
		delete(s.subscribers, subID)
	}
	s.subMu.Unlock()
}

// resetHistory drops the previous process's events so a late subscriber
// replays only the current one.
func (s *Supervisor) resetHistory() {
	s.subMu.Lock()
	s.history.Reset()
	s.subMu.Unlock()
}

func (s *Supervisor) publish(event Event) {
	event.Timestamp = time.Now().UTC()

	s.subMu.RLock()
	defer s.subMu.RUnlock()

	s.history.Write(event)
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber channel full, drop the event.
		}
	}
}
