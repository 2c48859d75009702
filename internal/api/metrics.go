package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMetrics сведения о процессе агента для /api/status
type ProcessMetrics struct {
	StartTime time.Time
}

func NewProcessMetrics() *ProcessMetrics {
	return &ProcessMetrics{StartTime: time.Now()}
}

// Uptime время работы в человекочитаемом виде
func (pm *ProcessMetrics) Uptime() string {
	uptime := time.Since(pm.StartTime)

	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// CPUPercent использование CPU процессом; при ошибке - системное
func (pm *ProcessMetrics) CPUPercent() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if p, err := proc.CPUPercent(); err == nil {
			return p, nil
		}
	}
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}

// RSSMegabytes резидентная память процесса
func (pm *ProcessMetrics) RSSMegabytes() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(mem.RSS) / 1024 / 1024, nil
}

// Snapshot сводка для ответа API
func (pm *ProcessMetrics) Snapshot() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	out := map[string]interface{}{
		"uptime":        pm.Uptime(),
		"heap_alloc_mb": float64(m.HeapAlloc) / 1024 / 1024,
		"num_gc":        m.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}
	if cpuPercent, err := pm.CPUPercent(); err == nil {
		out["cpu_percent"] = cpuPercent
	}
	if rss, err := pm.RSSMegabytes(); err == nil {
		out["rss_mb"] = rss
	}
	return out
}
