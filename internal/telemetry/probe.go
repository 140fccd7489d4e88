// Package telemetry samples host resource usage — RAM, CPU, and (when
// available) GPU memory — for registration payloads and heartbeats.
package telemetry

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"titancompute/pkg/logger"
)

// Sample is one point-in-time reading of host resources.
type Sample struct {
	FreeVRAMMB     int
	TotalVRAMMB    int
	FreeRAMMB      int
	TotalRAMMB     int
	CPUPercent     float64
	GPUTemperature *int
	IsARM          bool
	CollectedAt    time.Time
}

// Probe samples system resources. GPUProbe is pluggable so the absence of
// an NVIDIA binding on a host never prevents RAM/CPU telemetry from
// working.
type Probe struct {
	gpu GPUProbe
}

// GPUProbe reports GPU memory and temperature. ok is false when no GPU
// monitoring is available on this host, mirroring HAS_GPU detection on the
// original agent.
type GPUProbe interface {
	Sample() (free, total int, tempC *int, ok bool)
}

// NewProbe builds a Probe. gpu may be nil, in which case GPU fields in
// every Sample are left at zero — no GPU vendor library is reachable from
// pure Go without cgo, so this agent ships without GPU telemetry by
// default and relies on an operator-supplied GPUProbe where one exists.
func NewProbe(gpu GPUProbe) *Probe {
	if gpu == nil {
		gpu = NoopGPUProbe{}
	}
	return &Probe{gpu: gpu}
}

// Collect takes one Sample of current host resources. When RAM or CPU
// sampling fails it logs a warning and returns conservative defaults
// (4096 MB total and 2048 MB free RAM, 0% CPU, GPU fields at zero) with a
// nil error.
func (p *Probe) Collect() (Sample, error) {
	fallback := Sample{
		FreeRAMMB:   2048,
		TotalRAMMB:  4096,
		IsARM:       runtime.GOARCH == "arm64" || runtime.GOARCH == "arm",
		CollectedAt: time.Now(),
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn("memory sampling failed, using conservative defaults", "error", err)
		return fallback, nil
	}

	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		logger.Warn("cpu sampling failed, using conservative defaults", "error", err)
		return fallback, nil
	}
	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}

	s := Sample{
		FreeRAMMB:   int(vm.Available / (1024 * 1024)),
		TotalRAMMB:  int(vm.Total / (1024 * 1024)),
		CPUPercent:  cpuPercent,
		IsARM:       runtime.GOARCH == "arm64" || runtime.GOARCH == "arm",
		CollectedAt: time.Now(),
	}

	if free, total, temp, ok := p.gpu.Sample(); ok {
		s.FreeVRAMMB = free
		s.TotalVRAMMB = total
		s.GPUTemperature = temp
	}

	return s, nil
}

// NoopGPUProbe reports no GPU available. It is the default GPUProbe.
type NoopGPUProbe struct{}

func (NoopGPUProbe) Sample() (free, total int, tempC *int, ok bool) {
	return 0, 0, nil, false
}
