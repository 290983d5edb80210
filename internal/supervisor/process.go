package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// State represents the lifecycle state of a managed process.
type State string

const (
	StateCreated    State = "created"
	StateRunning    State = "running"
	StateDraining   State = "draining"
	StateTerminated State = "terminated"
)

// Info is a point-in-time snapshot of a managed process.
type Info struct {
	ID          string    `json:"id"`
	CommandLine string    `json:"commandLine"`
	State       State     `json:"state"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"startedAt"`
	ExitCode    *int      `json:"exitCode,omitempty"`
}

// EventType distinguishes the events a supervisor publishes.
type EventType string

const (
	EventStarted EventType = "started"
	EventOutput  EventType = "output"
	EventExit    EventType = "exit"
)

// Event is one entry of the supervisor's output history.
type Event struct {
	ProcessID string    `json:"processId"`
	Type      EventType `json:"type"`
	Data      string    `json:"data"`
	ExitCode  int       `json:"exitCode,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Process is a shell command launched by Start. It lives in the supervisor's
// slot from Start until its output is exhausted and it has exited.
type Process struct {
	id          string
	commandLine string
	startedAt   time.Time
	cmd         *exec.Cmd
	stdin       *stdinWriter

	// input queues lines for the writer goroutine; released is closed when
	// the slot is cleared so the writer stops.
	input    chan []byte
	released chan struct{}

	mu       sync.Mutex
	state    State
	exitCode *int

	done chan struct{}
}

// ID returns the process identifier assigned at Start.
func (p *Process) ID() string { return p.id }

// CommandLine returns the command exactly as the caller supplied it.
func (p *Process) CommandLine() string { return p.commandLine }

// Done is closed once the process has terminated and the slot is free.
func (p *Process) Done() <-chan struct{} { return p.done }

// Info returns a snapshot of the process.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := Info{
		ID:          p.id,
		CommandLine: p.commandLine,
		State:       p.state,
		StartedAt:   p.startedAt,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		info.PID = p.cmd.Process.Pid
	}
	if p.exitCode != nil {
		code := *p.exitCode
		info.ExitCode = &code
	}
	return info
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// terminate records the exit code. Only the first call has any effect.
func (p *Process) terminate(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitCode != nil {
		return
	}
	p.exitCode = &code
	p.state = StateTerminated
}

// stdinWriter wraps the write end of the child's stdin pipe. Writes are
// serialized; Close may run concurrently with a blocked Write and unblocks it.
type stdinWriter struct {
	mu     sync.Mutex
	writer *os.File
	closed atomic.Bool
}

func (sw *stdinWriter) Write(data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed.Load() {
		return fmt.Errorf("stdin pipe closed")
	}
	_, err := sw.writer.Write(data)
	return err
}

// Closed reports whether Close has been called.
func (sw *stdinWriter) Closed() bool { return sw.closed.Load() }

func (sw *stdinWriter) Close() {
	if sw.closed.CompareAndSwap(false, true) {
		sw.writer.Close()
	}
}
