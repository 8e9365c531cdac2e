package shuttle

import "shuttle/service/hub/hubpb"

// Batch accumulates events until it is full. Owned by a single goroutine.
type Batch struct {
	size   int
	events []*hubpb.HubEvent
}

func NewBatch(size int) *Batch {
	if size <= 0 {
		size = 1
	}
	return &Batch{size: size, events: make([]*hubpb.HubEvent, 0, size)}
}

func (b *Batch) Add(e *hubpb.HubEvent) { b.events = append(b.events, e) }

func (b *Batch) IsFull() bool { return len(b.events) >= b.size }

func (b *Batch) Len() int { return len(b.events) }

// Drain hands back the buffered events and empties the batch.
func (b *Batch) Drain() []*hubpb.HubEvent {
	out := b.events
	b.events = make([]*hubpb.HubEvent, 0, b.size)
	return out
}
