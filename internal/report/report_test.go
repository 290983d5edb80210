package report

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raspibot/internal/probe"
)

type fakeSource struct {
	procs []probe.ProcessUsage
	err   error
	asked int
}

func (f *fakeSource) TopProcesses(n int) ([]probe.ProcessUsage, error) {
	f.asked = n
	return f.procs, f.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeNotifier) Notify(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func TestSend(t *testing.T) {
	src := &fakeSource{procs: []probe.ProcessUsage{{PID: 42, Command: "python3", CPU: 12.5}}}
	n := &fakeNotifier{}
	job := New(src, n, 5, time.Hour, nil)

	job.Send(context.Background())

	require.Len(t, n.texts, 1)
	assert.Equal(t, 5, src.asked)
	assert.True(t, strings.HasPrefix(n.texts[0], "# TOP PROCESSES #"))
	assert.Contains(t, n.texts[0], "python3")
}

func TestSend_ProbeFailure(t *testing.T) {
	n := &fakeNotifier{}
	job := New(&fakeSource{err: errors.New("no /proc")}, n, 5, time.Hour, nil)

	job.Send(context.Background())
	assert.Empty(t, n.texts)
}

func TestStart_ReportsImmediately(t *testing.T) {
	n := &fakeNotifier{}
	job := New(&fakeSource{}, n, 3, time.Hour, nil)

	require.NoError(t, job.Start(context.Background()))
	defer job.Stop()

	assert.Equal(t, 1, n.count())
}

func TestStart_Repeats(t *testing.T) {
	n := &fakeNotifier{}
	job := New(&fakeSource{}, n, 3, time.Second, nil)

	require.NoError(t, job.Start(context.Background()))
	defer job.Stop()

	assert.Eventually(t, func() bool { return n.count() >= 2 }, 5*time.Second, 50*time.Millisecond)
}

func TestStart_Disabled(t *testing.T) {
	n := &fakeNotifier{}
	job := New(&fakeSource{}, n, 3, 0, nil)

	require.NoError(t, job.Start(context.Background()))
	job.Stop()
	assert.Zero(t, n.count())
}
