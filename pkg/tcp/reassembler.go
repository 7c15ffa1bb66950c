package tcp

import (
	"github.com/google/btree"

	"tcp-endpoint/pkg/stream"
)

// fragment is a run of bytes waiting for the write frontier to reach its
// start. Stored fragments never overlap and never touch.
type fragment struct {
	start uint64
	data  []byte
}

func (f fragment) end() uint64 {
	return f.start + uint64(len(f.data))
}

// Reassembler accepts substrings of a stream at arbitrary offsets, holds
// the out-of-order ones in a window bounded by the output stream's
// capacity, and pushes every byte exactly once, in order, into the output
// stream. When the substring carrying the end of the stream has arrived
// and everything before it has been delivered, the output is closed.
type Reassembler struct {
	out       *stream.ByteStream
	frags     *btree.BTreeG[fragment]
	pending   uint64
	lastSeen  bool
	lastIndex uint64
}

// NewReassembler returns a Reassembler writing into out.
func NewReassembler(out *stream.ByteStream) *Reassembler {
	return &Reassembler{
		out:   out,
		frags: btree.NewG(2, func(a, b fragment) bool { return a.start < b.start }),
	}
}

// Output returns the stream the reassembler delivers into.
func (r *Reassembler) Output() *stream.ByteStream {
	return r.out
}

// BytesPending returns the number of bytes buffered but not yet delivered.
func (r *Reassembler) BytesPending() uint64 {
	return r.pending
}

// Insert records that data occupies stream offsets starting at firstIndex.
// isLast marks data's final byte as the last byte of the entire stream.
// Bytes before the write frontier or beyond the capacity window are
// dropped; the peer is expected to resend the latter.
func (r *Reassembler) Insert(firstIndex uint64, data []byte, isLast bool) {
	frontier := r.out.BytesPushed()
	windowEnd := frontier + r.out.AvailableCapacity()

	if isLast && firstIndex+uint64(len(data)) <= windowEnd {
		r.lastSeen = true
		r.lastIndex = firstIndex + uint64(len(data))
	}

	lo, hi := firstIndex, firstIndex+uint64(len(data))
	if lo < frontier {
		lo = frontier
	}
	if hi > windowEnd {
		hi = windowEnd
	}
	if lo >= hi {
		r.maybeClose()
		return
	}

	clipped := fragment{start: lo, data: append([]byte(nil), data[lo-firstIndex:hi-firstIndex]...)}
	r.merge(clipped)
	r.drain()
	r.maybeClose()
}

// merge inserts cur into the fragment set, coalescing it with every
// stored fragment it overlaps or touches. Bytes that arrived earlier win
// on overlap: cur is spliced around what is already stored.
func (r *Reassembler) merge(cur fragment) {
	if prev, ok := r.prevTouching(cur); ok {
		r.frags.Delete(prev)
		r.pending -= uint64(len(prev.data))
		if cur.end() > prev.end() {
			prev.data = append(prev.data, cur.data[prev.end()-cur.start:]...)
		}
		cur = prev
	}
	for {
		next, ok := r.nextTouching(cur)
		if !ok {
			break
		}
		r.frags.Delete(next)
		r.pending -= uint64(len(next.data))
		n := copy(cur.data[next.start-cur.start:], next.data)
		if n < len(next.data) {
			cur.data = append(cur.data, next.data[n:]...)
		}
	}
	r.frags.ReplaceOrInsert(cur)
	r.pending += uint64(len(cur.data))
}

// prevTouching finds the stored fragment starting at or before cur.start
// whose extent reaches cur, if any.
func (r *Reassembler) prevTouching(cur fragment) (fragment, bool) {
	var hit fragment
	found := false
	r.frags.DescendLessOrEqual(cur, func(f fragment) bool {
		if f.end() >= cur.start {
			hit, found = f, true
		}
		return false
	})
	return hit, found
}

// nextTouching finds the first stored fragment starting strictly after
// cur.start but no later than cur's end, if any.
func (r *Reassembler) nextTouching(cur fragment) (fragment, bool) {
	var hit fragment
	found := false
	r.frags.AscendGreaterOrEqual(fragment{start: cur.start + 1}, func(f fragment) bool {
		if f.start <= cur.end() {
			hit, found = f, true
		}
		return false
	})
	return hit, found
}

// drain pushes stored fragments into the output stream for as long as the
// earliest one begins exactly at the write frontier.
func (r *Reassembler) drain() {
	for {
		f, ok := r.frags.Min()
		if !ok || f.start != r.out.BytesPushed() {
			return
		}
		n := r.out.Push(f.data)
		r.pending -= n
		r.frags.Delete(f)
		if n < uint64(len(f.data)) {
			r.frags.ReplaceOrInsert(fragment{start: f.start + n, data: f.data[n:]})
			return
		}
	}
}

// maybeClose closes the output once the stream's end has been identified
// and every byte before it has been delivered. A bare end-of-stream mark
// that outruns lost data must not close early, so the frontier has to
// reach the recorded end. Closing is idempotent.
func (r *Reassembler) maybeClose() {
	if r.lastSeen && r.frags.Len() == 0 && r.out.BytesPushed() == r.lastIndex {
		r.out.Close()
	}
}
