package device

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
)

func TestOutboundQueue_EvictsOldest(t *testing.T) {
	t.Parallel()
	const capacity = 4
	q := newOutboundQueue(capacity)

	var pkts []*protocol.AudioStreamPacket
	for i := range capacity + 1 {
		pkts = append(pkts, packet(byte(i)))
	}
	for i, p := range pkts {
		evicted := q.push(p)
		switch {
		case i < capacity && evicted != nil:
			t.Fatalf("push %d evicted %v from a non-full queue", i, evicted.Payload)
		case i == capacity && evicted != pkts[0]:
			t.Fatalf("push %d evicted %v, want the oldest packet", i, evicted)
		}
	}

	got := q.swap()
	if len(got) != capacity {
		t.Fatalf("retained %d packets, want %d", len(got), capacity)
	}
	for i, p := range got {
		if p != pkts[i+1] {
			t.Errorf("got[%d] = %v, want %v", i, p.Payload, pkts[i+1].Payload)
		}
	}
	if q.len() != 0 {
		t.Errorf("queue not empty after swap")
	}
}

func TestDecodeQueue_DeclinesPastCapacity(t *testing.T) {
	t.Parallel()
	q := newDecodeQueue(2)
	if !q.push(packet(1)) || !q.push(packet(2)) {
		t.Fatal("push into non-full queue failed")
	}
	if q.push(packet(3)) {
		t.Error("push into full queue succeeded")
	}

	p, _, ok := q.pop()
	if !ok || p.Payload[0] != 1 {
		t.Errorf("pop = %v, want the first packet", p)
	}
}

func TestDecodeQueue_ClearBumpsEpoch(t *testing.T) {
	t.Parallel()
	q := newDecodeQueue(4)
	q.push(packet(1))
	_, epoch, _ := q.pop()
	q.push(packet(2))

	q.clear()
	if q.len() != 0 {
		t.Errorf("len = %d after clear", q.len())
	}
	if q.currentEpoch() == epoch {
		t.Error("epoch unchanged by clear")
	}
}

func TestDecodeQueue_WaitEmpty(t *testing.T) {
	t.Parallel()
	q := newDecodeQueue(4)
	q.push(packet(1))
	q.push(packet(2))

	done := make(chan error, 1)
	go func() { done <- q.waitEmpty(context.Background()) }()

	q.pop()
	select {
	case <-done:
		t.Fatal("waitEmpty returned with a packet still queued")
	case <-time.After(20 * time.Millisecond):
	}
	q.pop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("waitEmpty: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waitEmpty did not return after the queue emptied")
	}
}

func TestDecodeQueue_WaitEmptyCancelled(t *testing.T) {
	t.Parallel()
	q := newDecodeQueue(4)
	q.push(packet(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.waitEmpty(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("waitEmpty returned nil after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("waitEmpty ignored cancellation")
	}
}

func TestTimestampQueue_Bound(t *testing.T) {
	t.Parallel()
	const bound = 3
	q := newTimestampQueue(bound)

	if ts, ok := q.take(); ts != 0 || !ok {
		t.Errorf("empty take = (%d, %v), want (0, true)", ts, ok)
	}

	for i := range bound + 1 {
		q.push(uint32(100 + i))
	}
	// One entry over the bound: the oldest goes and the frame is dropped.
	if _, ok := q.take(); ok {
		t.Fatal("take over the bound did not drop the frame")
	}
	if q.len() != bound {
		t.Fatalf("len = %d, want %d", q.len(), bound)
	}
	if ts, ok := q.take(); !ok || ts != 101 {
		t.Errorf("take = (%d, %v), want (101, true)", ts, ok)
	}
}
