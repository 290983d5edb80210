package probe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopProcesses(t *testing.T) {
	// Uptime 1000 s. Each process started at 0 ticks, so elapsed is 1000 s.
	root := fakeProc(t, "1000.00 0\n")
	writeStat(t, root, 1, "systemd", 500, 500, 0)       // 10 s -> 1.0%
	writeStat(t, root, 42, "python3", 20000, 10000, 0)  // 300 s -> 30.0%
	writeStat(t, root, 77, "kworker", 0, 0, 0)          // 0%
	writeStat(t, root, 99, "ffmpeg", 40000, 10000, 0)   // 500 s -> 50.0%

	p := newTestProbe(root)
	top, err := p.TopProcesses(3)
	require.NoError(t, err)
	require.Len(t, top, 3)

	assert.Equal(t, uint64(99), top[0].PID)
	assert.Equal(t, "ffmpeg", top[0].Command)
	assert.InDelta(t, 50.0, top[0].CPU, 0.01)
	assert.Equal(t, uint64(42), top[1].PID)
	assert.InDelta(t, 30.0, top[1].CPU, 0.01)
	assert.Equal(t, uint64(1), top[2].PID)
}

func TestTopProcesses_NoUptime(t *testing.T) {
	p := newTestProbe(t.TempDir())
	_, err := p.TopProcesses(5)
	assert.Error(t, err)
}

func TestCPUPercent(t *testing.T) {
	assert.InDelta(t, 25.0, cpuPercent(2500, 0, 100), 0.001)
	assert.InDelta(t, 50.0, cpuPercent(2500, 5000, 100), 0.001)
	assert.Equal(t, 0.0, cpuPercent(100, 20000, 100))
}

func TestFormatTop(t *testing.T) {
	out := FormatTop([]ProcessUsage{
		{PID: 99, Command: "ffmpeg", CPU: 50},
		{PID: 1, Command: "systemd", CPU: 1.04},
	})

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "# TOP PROCESSES #", lines[0])
	assert.Equal(t, []string{"PID", "COMMAND", "%CPU"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"99", "ffmpeg", "50.0"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"1", "systemd", "1.0"}, strings.Fields(lines[3]))
}

func TestFormatTop_Empty(t *testing.T) {
	assert.Equal(t, "# TOP PROCESSES #\nPID  COMMAND  %CPU", FormatTop(nil))
}
