// Package report sends the owner a periodic top-processes summary.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"raspibot/internal/probe"
)

// TopSource lists the busiest processes.
type TopSource interface {
	TopProcesses(n int) ([]probe.ProcessUsage, error)
}

// Notifier delivers the report.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Job runs the report on a fixed interval.
type Job struct {
	source   TopSource
	notifier Notifier
	top      int
	interval time.Duration
	log      *zap.SugaredLogger

	cron *cron.Cron
}

// New creates a job reporting the top n processes every interval.
func New(source TopSource, notifier Notifier, n int, interval time.Duration, log *zap.SugaredLogger) *Job {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Job{
		source:   source,
		notifier: notifier,
		top:      n,
		interval: interval,
		log:      log,
	}
}

// Start sends a first report right away and schedules the rest. A zero
// interval disables the job.
func (j *Job) Start(ctx context.Context) error {
	if j.interval <= 0 {
		j.log.Info("periodic report disabled")
		return nil
	}

	j.cron = cron.New()
	spec := fmt.Sprintf("@every %s", j.interval)
	if _, err := j.cron.AddFunc(spec, func() { j.Send(ctx) }); err != nil {
		return fmt.Errorf("schedule report %q: %w", spec, err)
	}

	j.Send(ctx)
	j.cron.Start()
	j.log.Infow("periodic report scheduled", "interval", j.interval.String(), "top", j.top)
	return nil
}

// Stop unschedules the job and waits for a report in flight.
func (j *Job) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

// Send builds and delivers one report. A probe failure is logged and the
// report skipped.
func (j *Job) Send(ctx context.Context) {
	procs, err := j.source.TopProcesses(j.top)
	if err != nil {
		j.log.Errorw("failed to list processes", "error", err)
		return
	}
	j.notifier.Notify(ctx, probe.FormatTop(procs))
}
