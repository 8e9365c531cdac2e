package eventstream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memEntry struct {
	Entry
	seq uint64
}

type memPending struct {
	consumer    string
	deliveredAt time.Time
}

type memGroup struct {
	lastDelivered uint64
	pending       map[string]memPending
}

type memStream struct {
	entries []memEntry
	groups  map[string]*memGroup
	nextSeq uint64
}

// Memory is an in-process Queue. Ack deletes acknowledged entries the same way
// the Redis backend does, so Size reports what is still outstanding.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	streams map[string]*memStream
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{now: now, streams: make(map[string]*memStream)}
}

func (m *Memory) stream(name string) *memStream {
	s, ok := m.streams[name]
	if !ok {
		s = &memStream{groups: make(map[string]*memGroup)}
		m.streams[name] = s
	}
	return s
}

func (m *Memory) Add(_ context.Context, stream string, payloads ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stream(stream)
	now := m.now()
	for _, p := range payloads {
		s.nextSeq++
		s.entries = append(s.entries, memEntry{
			Entry: Entry{
				ID:         fmt.Sprintf("%d-%d", now.UnixMilli(), s.nextSeq),
				Data:       append([]byte(nil), p...),
				EnqueuedAt: now,
			},
			seq: s.nextSeq,
		})
	}
	return nil
}

func (m *Memory) CreateGroup(_ context.Context, stream, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stream(stream)
	if _, ok := s.groups[group]; !ok {
		s.groups[group] = &memGroup{pending: make(map[string]memPending)}
	}
	return nil
}

func (m *Memory) Reserve(_ context.Context, stream, group, consumer string, count int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stream(stream)
	g, ok := s.groups[group]
	if !ok {
		return nil, fmt.Errorf("NOGROUP no such group %q for stream %q", group, stream)
	}
	now := m.now()
	var out []Entry
	for _, e := range s.entries {
		if len(out) >= count {
			break
		}
		if e.seq <= g.lastDelivered {
			continue
		}
		g.lastDelivered = e.seq
		g.pending[e.ID] = memPending{consumer: consumer, deliveredAt: now}
		out = append(out, e.Entry)
	}
	return out, nil
}

func (m *Memory) Ack(_ context.Context, stream, group string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stream(stream)
	g, ok := s.groups[group]
	if !ok {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			drop[id] = struct{}{}
		}
	}
	kept := s.entries[:0]
	for _, e := range s.entries {
		if _, ok := drop[e.ID]; !ok {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	return nil
}

func (m *Memory) Size(_ context.Context, stream string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.stream(stream).entries)), nil
}

func (m *Memory) ClaimStale(_ context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stream(stream)
	g, ok := s.groups[group]
	if !ok {
		return nil, nil
	}
	now := m.now()
	var out []Entry
	for _, e := range s.entries {
		if len(out) >= count {
			break
		}
		p, ok := g.pending[e.ID]
		if !ok || now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		g.pending[e.ID] = memPending{consumer: consumer, deliveredAt: now}
		out = append(out, e.Entry)
	}
	return out, nil
}

func (m *Memory) Trim(_ context.Context, stream string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stream(stream)
	var n int64
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.EnqueuedAt.Before(before) {
			n++
			for _, g := range s.groups {
				delete(g.pending, e.ID)
			}
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return n, nil
}

// Pending reports how many entries the group has reserved but not acknowledged.
func (m *Memory) Pending(stream, group string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.stream(stream).groups[group]
	if !ok {
		return 0
	}
	return len(g.pending)
}
