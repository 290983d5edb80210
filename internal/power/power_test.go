package power

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	started [][]string
	err     error
}

func (f *fakeRunner) Start(argv []string) error {
	f.started = append(f.started, argv)
	return f.err
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"reboot", Reboot, false},
		{"REBOOT", Reboot, false},
		{" PowerOff ", Poweroff, false},
		{"halt", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownAction, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestConfirmed(t *testing.T) {
	assert.True(t, Confirmed("yes"))
	assert.True(t, Confirmed("YES"))
	assert.True(t, Confirmed("Yes"))
	assert.False(t, Confirmed(""))
	assert.False(t, Confirmed("y"))
	assert.False(t, Confirmed("no"))
}

func TestExecute_Confirmed(t *testing.T) {
	runner := &fakeRunner{}
	exec := NewExecutor("sudo reboot", "sudo poweroff", runner, nil)

	require.NoError(t, exec.Execute(Reboot, "YES"))
	require.NoError(t, exec.Execute(Poweroff, "yes"))

	assert.Equal(t, [][]string{{"sudo", "reboot"}, {"sudo", "poweroff"}}, runner.started)
}

func TestExecute_NotConfirmedNeverRuns(t *testing.T) {
	runner := &fakeRunner{}
	exec := NewExecutor("sudo reboot", "sudo poweroff", runner, nil)

	for _, token := range []string{"", "no", "yess", "confirm"} {
		assert.ErrorIs(t, exec.Execute(Reboot, token), ErrNotConfirmed)
	}
	assert.Empty(t, runner.started)
}

func TestExecute_UnknownAction(t *testing.T) {
	runner := &fakeRunner{}
	exec := NewExecutor("sudo reboot", "sudo poweroff", runner, nil)

	assert.ErrorIs(t, exec.Execute(Action("halt"), "yes"), ErrUnknownAction)
	assert.Empty(t, runner.started)
}

func TestExecute_LaunchFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("sudo: not found")}
	exec := NewExecutor("sudo reboot", "sudo poweroff", runner, nil)

	err := exec.Execute(Reboot, "yes")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConfirmed)
}

func TestExecute_EmptyCommand(t *testing.T) {
	runner := &fakeRunner{}
	exec := NewExecutor("", "sudo poweroff", runner, nil)

	assert.Error(t, exec.Execute(Reboot, "yes"))
	assert.Empty(t, runner.started)
}

func TestExecRunner_StartsCommand(t *testing.T) {
	assert.NoError(t, ExecRunner{}.Start([]string{"true"}))
	assert.Error(t, ExecRunner{}.Start([]string{"/nonexistent/binary"}))
}
