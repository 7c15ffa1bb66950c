/*
Package seqnum implements the 32-bit wrapping sequence numbers that TCP
stamps on every octet of a stream.

A stream is logically indexed by a 64-bit absolute position, but the wire
only carries the low 32 bits offset by a per-connection zero point (the
ISN). All arithmetic on the wire representation is performed modulo 2**32;
recovering the absolute position requires a nearby checkpoint to pick the
right wrap of the ring.
*/
package seqnum

// Wrap32 is a point on the 32-bit sequence-number ring.
type Wrap32 uint32

// Wrap maps the absolute stream position n onto the ring anchored at
// zeroPoint.
func Wrap(n uint64, zeroPoint Wrap32) Wrap32 {
	return zeroPoint + Wrap32(n)
}

// Add returns the sequence number n positions after w.
func (w Wrap32) Add(n uint64) Wrap32 {
	return w + Wrap32(n)
}

// Unwrap returns the absolute stream position v such that
// Wrap(v, zeroPoint) == w and v is as close to checkpoint as possible.
// Of the two ring candidates around the checkpoint the nearer one wins;
// on a tie, or when the lower candidate would precede position zero, the
// higher candidate is returned.
func (w Wrap32) Unwrap(zeroPoint Wrap32, checkpoint uint64) uint64 {
	rel := uint32(w - zeroPoint)
	fwd := uint64(rel - uint32(checkpoint))
	bwd := uint64(uint32(checkpoint) - rel)
	if fwd <= bwd || checkpoint < bwd {
		return checkpoint + fwd
	}
	return checkpoint - bwd
}
