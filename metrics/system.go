package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
)

// CollectSystemMetrics refreshes runtime and host gauges every interval until ctx is done
func CollectSystemMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		collectOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func collectOnce(ctx context.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	MemoryStats.WithLabelValues("alloc").Set(float64(memStats.Alloc))
	MemoryStats.WithLabelValues("sys").Set(float64(memStats.Sys))
	MemoryStats.WithLabelValues("heap_alloc").Set(float64(memStats.HeapAlloc))
	MemoryStats.WithLabelValues("heap_inuse").Set(float64(memStats.HeapInuse))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))

	// Host stats are unavailable on some platforms, the gauges then keep their last value
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		SystemCPUUsage.Set(percents[0])
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		SystemLoadAverage.WithLabelValues("1min").Set(avg.Load1)
		SystemLoadAverage.WithLabelValues("5min").Set(avg.Load5)
		SystemLoadAverage.WithLabelValues("15min").Set(avg.Load15)
	}
}
