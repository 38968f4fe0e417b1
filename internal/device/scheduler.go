package device

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/glyphoxa-edge/internal/observe"
	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
)

// Task is a unit of work run on the event loop goroutine. ctx is the
// orchestrator's run context.
type Task func(ctx context.Context)

// Schedule queues task for the event loop. It may be called from any
// goroutine, including from inside a task; tasks run in submission order.
func (o *Orchestrator) Schedule(task Task) {
	o.taskMu.Lock()
	o.tasks = append(o.tasks, task)
	o.taskMu.Unlock()
	notify(o.callbackPending)
}

// notify raises a pending flag without blocking.
func notify(flag chan struct{}) {
	select {
	case flag <- struct{}{}:
	default:
	}
}

// eventLoop is the main loop. It is the only goroutine that changes state.
// Each iteration sends queued audio first, then runs queued tasks.
func (o *Orchestrator) eventLoop(ctx context.Context) error {
	for {
		var sendAudio, runTasks bool
		select {
		case <-ctx.Done():
			return nil
		case <-o.audioPending:
			sendAudio = true
		case <-o.callbackPending:
			runTasks = true
		}
		// Pick up the other flag too if it is already raised.
		select {
		case <-o.audioPending:
			sendAudio = true
		default:
		}
		select {
		case <-o.callbackPending:
			runTasks = true
		default:
		}

		if sendAudio {
			o.flushOutbound(ctx)
		}
		if runTasks {
			o.runTasks(ctx)
		}
	}
}

// flushOutbound sends every queued frame, stopping at the first failure.
// Frames behind a failed one are discarded.
func (o *Orchestrator) flushOutbound(ctx context.Context) {
	pkts := o.outbound.swap()
	for i, pkt := range pkts {
		if err := o.proto.SendAudio(ctx, pkt); err != nil {
			o.metrics.RecordSendFailure(ctx, "audio")
			if !errors.Is(err, protocol.ErrChannelClosed) {
				slog.Warn("device: send audio failed", "err", err, "discarded", len(pkts)-i-1)
			}
			return
		}
	}
}

// runTasks runs every task queued so far. Tasks scheduled while these run
// wait for the next iteration.
func (o *Orchestrator) runTasks(ctx context.Context) {
	o.taskMu.Lock()
	tasks := o.tasks
	o.tasks = nil
	o.taskMu.Unlock()

	for _, task := range tasks {
		task(ctx)
	}
}

// enqueueOutbound hands an encoded frame to the event loop.
func (o *Orchestrator) enqueueOutbound(ctx context.Context, pkt *protocol.AudioStreamPacket) {
	if evicted := o.outbound.push(pkt); evicted != nil {
		o.metrics.RecordDroppedPacket(ctx, observe.QueueOutbound)
		slog.Warn("device: outbound queue full, dropping oldest packet", "timestamp", evicted.Timestamp)
	}
	notify(o.audioPending)
}
