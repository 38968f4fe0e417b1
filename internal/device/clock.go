package device

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// clockStatusEvery is how many ticks pass between status refreshes.
const clockStatusEvery = 3

// clockLoop is the low-frequency status timer. It never changes state
// itself; display updates are scheduled onto the event loop.
func (o *Orchestrator) clockLoop(ctx context.Context) {
	t := time.NewTicker(clockTickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.clockTick(ctx)
		}
	}
}

func (o *Orchestrator) clockTick(ctx context.Context) {
	ticks := o.clockTicks.Add(1)
	if ticks%clockStatusEvery != 0 {
		return
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	pending := o.exec.Pending()
	slog.Debug("device: status",
		"state", o.State(),
		"heap_alloc", ms.HeapAlloc,
		"goroutines", runtime.NumGoroutine(),
		"executor_pending", pending,
	)
	o.metrics.ExecutorPending.Record(ctx, int64(pending))

	if !o.serverTimeSet.Load() || o.State() != StateIdle {
		return
	}
	now := time.Now().Add(time.Duration(o.serverOffset.Load()))
	o.Schedule(func(context.Context) {
		if o.State() == StateIdle {
			o.ind.SetStatus(now.Format("15:04"))
		}
	})
}
