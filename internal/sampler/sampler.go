// Package sampler reads CPU, memory and network counters from procfs and
// turns consecutive readings into a Sample.
package sampler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/procfs"

	"github.com/mescon/cadence/internal/clock"
)

// DefaultProcPath is where procfs is normally mounted.
const DefaultProcPath = procfs.DefaultMountPoint

// loopback traffic never leaves the host and is left out of network figures.
const loopback = "lo"

// CPU holds utilisation ratios in [0, 1].
type CPU struct {
	Load float64 `json:"load"`
	Sys  float64 `json:"sys"`
	Idle float64 `json:"idle"`
}

// Mem holds memory figures in bytes.
type Mem struct {
	Used uint64 `json:"used"`
	Free uint64 `json:"free"`
}

// Net holds transfer rates in bytes per second.
type Net struct {
	Up   float64 `json:"up"`
	Down float64 `json:"down"`
}

// NIC is the transfer rate of one network interface.
type NIC struct {
	Name string `json:"name"`
	Net
}

// Sample is one snapshot of the host.
type Sample struct {
	CPU  CPU   `json:"cpu"`
	CPUs []CPU `json:"cpus"`
	Mem  Mem   `json:"mem"`
	Net  Net   `json:"net"`
	NICs []NIC `json:"nics"`
}

// String renders the sample on a single line for reports.
func (s Sample) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cpu %.1f%% (sys %.1f%%, idle %.1f%%, %d cores)",
		s.CPU.Load*100, s.CPU.Sys*100, s.CPU.Idle*100, len(s.CPUs))
	fmt.Fprintf(&b, " | mem %s used, %s free",
		humanize.IBytes(s.Mem.Used), humanize.IBytes(s.Mem.Free))
	fmt.Fprintf(&b, " | net up %s/s, down %s/s",
		humanize.IBytes(uint64(s.Net.Up)), humanize.IBytes(uint64(s.Net.Down)))
	return b.String()
}

// Sampler produces Samples from a procfs mount. CPU ratios are computed
// from the counters accumulated since the previous call; the first call
// uses the counters accumulated since boot. Network rates need two calls
// and are zero on the first.
//
// A Sampler is not safe for concurrent use.
type Sampler struct {
	fs        procfs.FS
	source    clock.TimeSource
	stopwatch clock.Stopwatch

	primed   bool
	prevCPU  procfs.CPUStat
	prevCPUs map[int64]procfs.CPUStat
	prevNet  procfs.NetDev
}

// New opens the procfs mounted at procPath.
func New(procPath string, source clock.TimeSource) (*Sampler, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procPath, err)
	}
	return &Sampler{
		fs:        fs,
		source:    source,
		stopwatch: clock.NewStopwatch(source),
	}, nil
}

// Sample reads the current counters. On error the previous readings are
// kept so the next successful call still produces sensible deltas.
func (s *Sampler) Sample() (Sample, error) {
	stat, err := s.fs.Stat()
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read cpu stats: %w", err)
	}
	meminfo, err := s.fs.Meminfo()
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read meminfo: %w", err)
	}
	netdev, err := s.fs.NetDev()
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read network stats: %w", err)
	}
	window := s.stopwatch.Restart(s.source).Seconds()

	var out Sample

	var prevTotal procfs.CPUStat
	if s.primed {
		prevTotal = s.prevCPU
	}
	out.CPU = cpuRatios(prevTotal, stat.CPUTotal)

	ids := make([]int64, 0, len(stat.CPU))
	for id := range stat.CPU {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out.CPUs = make([]CPU, 0, len(ids))
	for _, id := range ids {
		out.CPUs = append(out.CPUs, cpuRatios(s.prevCPUs[id], stat.CPU[id]))
	}

	out.Mem = memFigures(meminfo)

	names := make([]string, 0, len(netdev))
	for name := range netdev {
		if name != loopback {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out.NICs = make([]NIC, 0, len(names))
	for _, name := range names {
		nic := NIC{Name: name}
		if prev, ok := s.prevNet[name]; ok && s.primed && window > 0 {
			nic.Up = rate(prev.TxBytes, netdev[name].TxBytes, window)
			nic.Down = rate(prev.RxBytes, netdev[name].RxBytes, window)
		}
		out.Net.Up += nic.Up
		out.Net.Down += nic.Down
		out.NICs = append(out.NICs, nic)
	}

	s.prevCPU = stat.CPUTotal
	s.prevCPUs = stat.CPU
	s.prevNet = netdev
	s.primed = true

	return out, nil
}

// cpuRatios computes utilisation between two cumulative readings.
// Guest time is already part of user time and is not counted again.
func cpuRatios(prev, cur procfs.CPUStat) CPU {
	sys := (cur.System - prev.System) + (cur.IRQ - prev.IRQ) + (cur.SoftIRQ - prev.SoftIRQ)
	busy := sys + (cur.User - prev.User) + (cur.Nice - prev.Nice) + (cur.Steal - prev.Steal)
	idle := (cur.Idle - prev.Idle) + (cur.Iowait - prev.Iowait)
	total := busy + idle
	if total <= 0 || busy < 0 || idle < 0 {
		return CPU{Idle: 1}
	}
	return CPU{
		Load: busy / total,
		Sys:  sys / total,
		Idle: idle / total,
	}
}

// memFigures reports used memory as total minus available, falling back to
// total minus free on kernels without MemAvailable.
func memFigures(m procfs.Meminfo) Mem {
	var total, free, available uint64
	if m.MemTotal != nil {
		total = *m.MemTotal * 1024
	}
	if m.MemFree != nil {
		free = *m.MemFree * 1024
	}
	available = free
	if m.MemAvailable != nil {
		available = *m.MemAvailable * 1024
	}

	mem := Mem{Free: free}
	if total > available {
		mem.Used = total - available
	}
	return mem
}

// rate returns bytes per second, or zero if the counter went backwards.
func rate(prev, cur uint64, seconds float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / seconds
}
