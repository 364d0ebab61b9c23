package system

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats is a snapshot of the machine a run executed on.
type HostStats struct {
	OS          string
	Arch        string
	LogicalCPUs int
	TotalMemMB  uint64
	UsedMemPct  float64
	FreeDiskMB  uint64
}

// CollectHostStats gathers what it can; fields it could not read stay zero.
func CollectHostStats(dir string) HostStats {
	s := HostStats{OS: runtime.GOOS, Arch: runtime.GOARCH}
	if n, err := cpu.Counts(true); err == nil {
		s.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.TotalMemMB = vm.Total / (1 << 20)
		s.UsedMemPct = vm.UsedPercent
	}
	if free, err := FreeDiskMB(dir); err == nil {
		s.FreeDiskMB = free
	}
	return s
}

func (s HostStats) String() string {
	return fmt.Sprintf("%s/%s cpus=%d mem=%dMB (%.0f%% used) free_disk=%dMB",
		s.OS, s.Arch, s.LogicalCPUs, s.TotalMemMB, s.UsedMemPct, s.FreeDiskMB)
}

// FreeDiskMB reports free space on the filesystem holding dir.
func FreeDiskMB(dir string) (uint64, error) {
	u, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return u.Free / (1 << 20), nil
}
