package tcp

import "tcp-endpoint/pkg/seqnum"

// Receiver translates inbound segments into reassembler writes and
// produces the acknowledgment half of outbound segments. It owns the
// connection's zero point, captured from the peer's SYN.
type Receiver struct {
	reasm     *Reassembler
	zeroPoint seqnum.Wrap32
	synSeen   bool
	finSeen   bool
}

// NewReceiver returns a Receiver delivering into reasm.
func NewReceiver(reasm *Reassembler) *Receiver {
	return &Receiver{reasm: reasm}
}

// Reassembler returns the receiver's reassembler.
func (r *Receiver) Reassembler() *Reassembler {
	return r.reasm
}

// Receive processes one segment from the peer's sender.
func (r *Receiver) Receive(msg SenderMessage) {
	out := r.reasm.Output()
	if msg.RST {
		out.SetError()
		return
	}
	if msg.SYN {
		r.synSeen = true
		r.zeroPoint = msg.Seqno
	}
	if !r.synSeen {
		return
	}

	// Stream offset of the first payload byte. The SYN occupies the
	// sequence number just before offset zero, so a SYN segment's payload
	// starts the stream and every other segment unwraps to one past its
	// offset.
	var index uint64
	if !msg.SYN {
		abs := msg.Seqno.Unwrap(r.zeroPoint, out.BytesPushed()+1)
		if abs == 0 {
			// Sits on the SYN slot and can carry no stream data.
			return
		}
		index = abs - 1
	}

	r.reasm.Insert(index, msg.Payload, msg.FIN)
	if msg.FIN {
		r.finSeen = true
	}
}

// Send produces the current acknowledgment state: the next sequence
// number expected, the advertised window and the reset flag. The ackno
// counts the SYN, every delivered byte, and the FIN once the inbound
// stream has been closed.
func (r *Receiver) Send() ReceiverMessage {
	out := r.reasm.Output()

	var ackno *seqnum.Wrap32
	if r.synSeen {
		next := out.BytesPushed() + 1
		if out.IsClosed() {
			next++
		}
		a := seqnum.Wrap(next, r.zeroPoint)
		ackno = &a
	}

	win := out.AvailableCapacity()
	if win > MaxWindowSize {
		win = MaxWindowSize
	}
	return ReceiverMessage{
		Ackno:      ackno,
		WindowSize: uint16(win),
		RST:        out.HasError(),
	}
}
