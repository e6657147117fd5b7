package sandbox

import (
	"time"

	"github.com/imyashkale/mcphost/internal/models"
	"github.com/prometheus/procfs"
)

// collectUsage reads cpu, memory and thread usage of pid from /proc. It
// fails on hosts without procfs.
func collectUsage(pid int, startedAt time.Time) (*models.ProcessUsage, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return nil, err
	}
	stat, err := proc.Stat()
	if err != nil {
		return nil, err
	}

	usage := &models.ProcessUsage{
		MemoryMB:    float64(stat.ResidentMemory()) / (1024 * 1024),
		ThreadCount: stat.NumThreads,
	}
	if elapsed := time.Since(startedAt).Seconds(); elapsed > 0 {
		usage.CPUPercent = stat.CPUTime() / elapsed * 100
	}
	return usage, nil
}
