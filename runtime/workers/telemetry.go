package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"modmail/observability"
)

// TelemetryWorker periodically reports relay counters together with the
// process's own resource usage.
type TelemetryWorker struct {
	log      *slog.Logger
	metrics  *observability.Metrics
	interval time.Duration
}

func NewTelemetryWorker(log *slog.Logger, metrics *observability.Metrics, interval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{log: log, metrics: metrics, interval: interval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	w.log.Info("Starting telemetry worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			stats := w.metrics.Snapshot()
			w.log.Info("Relay telemetry",
				"user_messages", stats.UserMessages,
				"staff_replies", stats.StaffReplies,
				"delivery_failures", stats.DeliveryFailures,
				"threads_opened", stats.ThreadsOpened,
				"threads_closed", stats.ThreadsClosed,
				"sweep_cycles", stats.SweepCycles,
				"rss_bytes", rss,
				"cpu_percent", cpu,
			)
		}
	}
}

// selfStats retrieves memory and CPU usage of this process.
func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
