// Package probe answers read-only questions about the host: uptime, disk,
// load, memory, CPU temperature and the busiest processes.
package probe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	linuxproc "github.com/c9s/goprocinfo/linux"
	"github.com/dustin/go-humanize"
)

const (
	defaultProcRoot    = "/proc"
	defaultThermalPath = "/sys/class/thermal/thermal_zone0/temp"
	defaultDiskPath    = "/"
	unavailable        = "N/A"
	tempCommandTimeout = 5 * time.Second
)

// Probe reads host statistics. The zero value is not usable; use New.
type Probe struct {
	ProcRoot    string
	ThermalPath string
	DiskPath    string
	Hostname    string

	// TempCommand is the fallback used when ThermalPath cannot be read.
	TempCommand []string
}

// New returns a Probe reading the real /proc and /sys. hostname overrides
// the OS hostname when non-empty.
func New(hostname string) *Probe {
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		} else {
			hostname = "raspi"
		}
	}
	return &Probe{
		ProcRoot:    defaultProcRoot,
		ThermalPath: defaultThermalPath,
		DiskPath:    defaultDiskPath,
		Hostname:    hostname,
		TempCommand: []string{"vcgencmd", "measure_temp"},
	}
}

// Uptime returns the time since boot.
func (p *Probe) Uptime() (time.Duration, error) {
	up, err := linuxproc.ReadUptime(filepath.Join(p.ProcRoot, "uptime"))
	if err != nil {
		return 0, fmt.Errorf("read uptime: %w", err)
	}
	return up.GetTotalDuration(), nil
}

// Disk returns usage of the filesystem holding DiskPath.
func (p *Probe) Disk() (*linuxproc.Disk, error) {
	disk, err := linuxproc.ReadDisk(p.DiskPath)
	if err != nil {
		return nil, fmt.Errorf("read disk usage: %w", err)
	}
	return disk, nil
}

// Load returns the 1/5/15 minute load averages.
func (p *Probe) Load() (*linuxproc.LoadAvg, error) {
	load, err := linuxproc.ReadLoadAvg(filepath.Join(p.ProcRoot, "loadavg"))
	if err != nil {
		return nil, fmt.Errorf("read load average: %w", err)
	}
	return load, nil
}

// Memory returns used and total memory in bytes.
func (p *Probe) Memory() (used, total uint64, err error) {
	mem, err := linuxproc.ReadMemInfo(filepath.Join(p.ProcRoot, "meminfo"))
	if err != nil {
		return 0, 0, fmt.Errorf("read meminfo: %w", err)
	}
	total = mem.MemTotal * 1024
	avail := mem.MemAvailable * 1024
	if avail > total {
		avail = total
	}
	return total - avail, total, nil
}

// CPUTemp returns the SoC temperature formatted for display, or "N/A".
func (p *Probe) CPUTemp(ctx context.Context) string {
	if raw, err := os.ReadFile(p.ThermalPath); err == nil {
		if milli, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil {
			return fmt.Sprintf("%.1f°C", float64(milli)/1000)
		}
	}

	if len(p.TempCommand) == 0 {
		return unavailable
	}
	ctx, cancel := context.WithTimeout(ctx, tempCommandTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, p.TempCommand[0], p.TempCommand[1:]...).Output()
	if err != nil {
		return unavailable
	}
	temp := strings.TrimPrefix(strings.TrimSpace(string(out)), "temp=")
	if temp == "" {
		return unavailable
	}
	return temp
}

// Status gathers everything /status reports. Unreadable fields are left at
// their zero value and flagged in Errors.
type Status struct {
	Hostname  string
	Uptime    time.Duration
	DiskUsed  uint64
	DiskTotal uint64
	Load      [3]float64
	MemUsed   uint64
	MemTotal  uint64
	CPUTemp   string
	Errors    map[string]error
}

// Collect reads a Status snapshot.
func (p *Probe) Collect(ctx context.Context) Status {
	st := Status{Hostname: p.Hostname, Errors: map[string]error{}}

	if up, err := p.Uptime(); err != nil {
		st.Errors["uptime"] = err
	} else {
		st.Uptime = up
	}

	if disk, err := p.Disk(); err != nil {
		st.Errors["disk"] = err
	} else {
		st.DiskUsed, st.DiskTotal = disk.Used, disk.All
	}

	if load, err := p.Load(); err != nil {
		st.Errors["load"] = err
	} else {
		st.Load = [3]float64{load.Last1Min, load.Last5Min, load.Last15Min}
	}

	if used, total, err := p.Memory(); err != nil {
		st.Errors["memory"] = err
	} else {
		st.MemUsed, st.MemTotal = used, total
	}

	st.CPUTemp = p.CPUTemp(ctx)
	return st
}

// Format renders the /status reply.
func (st Status) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s STATUS #\n\nOnline\n", strings.ToUpper(st.Hostname))

	if _, failed := st.Errors["uptime"]; failed {
		fmt.Fprintf(&b, "Uptime:\t%s\n", unavailable)
	} else {
		fmt.Fprintf(&b, "Uptime:\t%s\n", FormatUptime(st.Uptime))
	}

	if _, failed := st.Errors["disk"]; failed {
		fmt.Fprintf(&b, "Disk:\t%s\n", unavailable)
	} else {
		fmt.Fprintf(&b, "Disk:\t%d/%d GB\n", st.DiskUsed>>30, st.DiskTotal>>30)
	}

	fmt.Fprintf(&b, "CPU Temp:\t%s\n", st.CPUTemp)

	if _, failed := st.Errors["load"]; failed {
		fmt.Fprintf(&b, "Load:\t%s\n", unavailable)
	} else {
		fmt.Fprintf(&b, "Load:\t%.2f %.2f %.2f\n", st.Load[0], st.Load[1], st.Load[2])
	}

	if _, failed := st.Errors["memory"]; failed {
		fmt.Fprintf(&b, "Memory:\t%s", unavailable)
	} else {
		fmt.Fprintf(&b, "Memory:\t%s/%s", humanize.IBytes(st.MemUsed), humanize.IBytes(st.MemTotal))
	}
	return b.String()
}

// FormatUptime renders d the way `uptime -p` does.
func FormatUptime(d time.Duration) string {
	minutes := int(d / time.Minute)
	days := minutes / (24 * 60)
	hours := minutes / 60 % 24
	minutes %= 60

	var parts []string
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 || len(parts) == 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	return "up " + strings.Join(parts, ", ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
