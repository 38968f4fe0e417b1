package device

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
)

// outboundQueue holds encoded frames waiting for the event loop to send them.
// When full the oldest frame is evicted so the producer never blocks.
type outboundQueue struct {
	mu    sync.Mutex
	items []*protocol.AudioStreamPacket
	cap   int
}

func newOutboundQueue(capacity int) *outboundQueue {
	return &outboundQueue{items: make([]*protocol.AudioStreamPacket, 0, capacity), cap: capacity}
}

// push appends pkt and returns the evicted packet, or nil.
func (q *outboundQueue) push(pkt *protocol.AudioStreamPacket) (evicted *protocol.AudioStreamPacket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		evicted = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
	}
	q.items = append(q.items, pkt)
	return evicted
}

// swap removes and returns every queued packet in order.
func (q *outboundQueue) swap() []*protocol.AudioStreamPacket {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = make([]*protocol.AudioStreamPacket, 0, q.cap)
	return out
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// decodeQueue holds inbound frames waiting to be decoded. The producer
// declines to enqueue past the capacity.
//
// Every clear bumps the epoch. A frame popped under an older epoch belongs to
// playback that has since been discarded and must not be rendered.
type decodeQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond // broadcast whenever the queue shrinks
	items []*protocol.AudioStreamPacket
	cap   int
	epoch uint64
}

func newDecodeQueue(capacity int) *decodeQueue {
	q := &decodeQueue{cap: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues pkt unless the queue is full.
func (q *decodeQueue) push(pkt *protocol.AudioStreamPacket) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		return false
	}
	q.items = append(q.items, pkt)
	return true
}

// pushAll enqueues pkts ignoring the capacity. Used for local prompt sounds.
func (q *decodeQueue) pushAll(pkts []*protocol.AudioStreamPacket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, pkts...)
}

// pop removes the oldest packet and returns it with the current epoch.
func (q *decodeQueue) pop() (*protocol.AudioStreamPacket, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, q.epoch, false
	}
	pkt := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.cond.Broadcast()
	return pkt, q.epoch, true
}

// clear discards every queued packet, starts a new epoch and wakes waiters.
func (q *decodeQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.epoch++
	q.cond.Broadcast()
}

func (q *decodeQueue) currentEpoch() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch
}

func (q *decodeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// waitEmpty blocks until the queue is empty or ctx is done.
func (q *decodeQueue) waitEmpty(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	return nil
}

// timestampQueue holds playback timestamps of rendered frames so outbound
// frames can be paired with the reference signal.
type timestampQueue struct {
	mu    sync.Mutex
	items []uint32
	bound int
}

func newTimestampQueue(bound int) *timestampQueue {
	return &timestampQueue{bound: bound}
}

func (q *timestampQueue) push(ts uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, ts)
}

// take returns the timestamp for the frame being produced. When more than
// bound timestamps are pending the oldest is discarded and ok is false: the
// frame must be dropped to keep the pairing from drifting. An empty queue
// yields timestamp 0.
func (q *timestampQueue) take() (ts uint32, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > q.bound {
		q.items = q.items[1:]
		return 0, false
	}
	if len(q.items) == 0 {
		return 0, true
	}
	ts = q.items[0]
	q.items = q.items[1:]
	return ts, true
}

func (q *timestampQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *timestampQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
