package probe

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	linuxproc "github.com/c9s/goprocinfo/linux"
)

// clockTicks is USER_HZ, the unit of the time fields in /proc/<pid>/stat.
// It is 100 on every Linux architecture Raspberry Pi OS ships for.
const clockTicks = 100

// ProcessUsage is one row of the top-processes report.
type ProcessUsage struct {
	PID     uint64
	Command string
	CPU     float64 // percent of one CPU over the process lifetime
}

// TopProcesses returns the n processes with the highest lifetime CPU share,
// the figure `ps -o pcpu` reports.
func (p *Probe) TopProcesses(n int) ([]ProcessUsage, error) {
	uptime, err := p.Uptime()
	if err != nil {
		return nil, err
	}
	pids, err := linuxproc.ListPID(p.ProcRoot, math.MaxUint64)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	upSeconds := uptime.Seconds()
	usage := make([]ProcessUsage, 0, len(pids))
	for _, pid := range pids {
		stat, err := linuxproc.ReadProcessStat(filepath.Join(p.ProcRoot, strconv.FormatUint(pid, 10), "stat"))
		if err != nil {
			// Processes exit between listing and reading.
			continue
		}
		usage = append(usage, ProcessUsage{
			PID:     pid,
			Command: strings.Trim(stat.Comm, "()"),
			CPU:     cpuPercent(stat.Utime+stat.Stime, stat.Starttime, upSeconds),
		})
	}

	sort.SliceStable(usage, func(i, j int) bool {
		if usage[i].CPU != usage[j].CPU {
			return usage[i].CPU > usage[j].CPU
		}
		return usage[i].PID < usage[j].PID
	})
	if n > 0 && len(usage) > n {
		usage = usage[:n]
	}
	return usage, nil
}

func cpuPercent(cpuTicks, startTicks uint64, uptimeSeconds float64) float64 {
	elapsed := uptimeSeconds - float64(startTicks)/clockTicks
	if elapsed <= 0 {
		return 0
	}
	return float64(cpuTicks) / clockTicks / elapsed * 100
}

// FormatTop renders the periodic report body.
func FormatTop(procs []ProcessUsage) string {
	var b strings.Builder
	b.WriteString("# TOP PROCESSES #\n")

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tCOMMAND\t%CPU")
	for _, proc := range procs {
		fmt.Fprintf(tw, "%d\t%s\t%.1f\n", proc.PID, proc.Command, proc.CPU)
	}
	tw.Flush()

	return strings.TrimRight(b.String(), "\n")
}
