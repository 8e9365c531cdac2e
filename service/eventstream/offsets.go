package eventstream

import "sort"

// offsetTracker turns out-of-order acks into a safe commit point per partition:
// the commit never moves past an offset that is still pending.
type offsetTracker struct {
	parts map[int32]*partitionOffsets
}

type partitionOffsets struct {
	pending   map[int64]struct{}
	maxSeen   int64
	committed int64
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[int32]*partitionOffsets)}
}

func (t *offsetTracker) part(p int32) *partitionOffsets {
	po, ok := t.parts[p]
	if !ok {
		po = &partitionOffsets{pending: make(map[int64]struct{}), maxSeen: -1, committed: -1}
		t.parts[p] = po
	}
	return po
}

func (t *offsetTracker) reserve(p int32, off int64) {
	po := t.part(p)
	if po.committed < 0 {
		// first fetch of the generation starts at the committed offset
		po.committed = off
	}
	po.pending[off] = struct{}{}
	if off > po.maxSeen {
		po.maxSeen = off
	}
}

// ack returns the next offset to commit when it advanced.
func (t *offsetTracker) ack(p int32, off int64) (int64, bool) {
	po := t.part(p)
	if _, ok := po.pending[off]; !ok {
		return 0, false
	}
	delete(po.pending, off)

	next := po.maxSeen + 1
	if len(po.pending) > 0 {
		offs := make([]int64, 0, len(po.pending))
		for o := range po.pending {
			offs = append(offs, o)
		}
		sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
		next = offs[0]
	}
	if next <= po.committed {
		return 0, false
	}
	po.committed = next
	return next, true
}
