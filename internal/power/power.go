// Package power issues reboot and poweroff behind an explicit confirmation.
package power

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Action is a privileged system action.
type Action string

const (
	Reboot   Action = "reboot"
	Poweroff Action = "poweroff"
)

const confirmToken = "yes"

var (
	// ErrUnknownAction is returned for action names other than reboot and
	// poweroff.
	ErrUnknownAction = errors.New("unknown action")
	// ErrNotConfirmed is returned when the confirmation token is missing.
	ErrNotConfirmed = errors.New("action not confirmed")
)

// ParseAction maps a user-supplied action name, case-insensitively.
func ParseAction(name string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(name))) {
	case Reboot:
		return Reboot, nil
	case Poweroff:
		return Poweroff, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// Confirmed reports whether token is the confirmation word.
func Confirmed(token string) bool {
	return strings.EqualFold(strings.TrimSpace(token), confirmToken)
}

// Runner starts a system command without waiting for it.
type Runner interface {
	Start(argv []string) error
}

// ExecRunner starts commands with os/exec and reaps them in the background.
type ExecRunner struct {
	Log *zap.SugaredLogger
}

// Start launches argv and returns once it is running.
func (r ExecRunner) Start(argv []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil && r.Log != nil {
			r.Log.Errorw("privileged command failed", "command", strings.Join(argv, " "), "error", err)
		}
	}()
	return nil
}

// Executor maps actions to system commands.
type Executor struct {
	commands map[Action][]string
	runner   Runner
	log      *zap.SugaredLogger
}

// NewExecutor creates an executor for the given command lines.
func NewExecutor(rebootCmd, poweroffCmd string, runner Runner, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if runner == nil {
		runner = ExecRunner{Log: log}
	}
	return &Executor{
		commands: map[Action][]string{
			Reboot:   strings.Fields(rebootCmd),
			Poweroff: strings.Fields(poweroffCmd),
		},
		runner: runner,
		log:    log,
	}
}

// Execute fires the command for action. Success of the underlying system
// call is not verified; only a failure to launch is reported.
func (e *Executor) Execute(action Action, confirmation string) error {
	argv, ok := e.commands[action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if !Confirmed(confirmation) {
		return ErrNotConfirmed
	}
	if len(argv) == 0 {
		return fmt.Errorf("no command configured for %s", action)
	}

	e.log.Warnw("issuing privileged action", "action", action, "command", strings.Join(argv, " "))
	if err := e.runner.Start(argv); err != nil {
		e.log.Errorw("failed to launch privileged action", "action", action, "error", err)
		return fmt.Errorf("launch %s: %w", action, err)
	}
	return nil
}
