package tcp

import "tcp-endpoint/pkg/stream"

// Peer is one endpoint of a connection: a Sender for the outbound
// direction and a Receiver for the inbound one. Every outgoing segment is
// stamped with the receiver's current acknowledgment state, and incoming
// segments that occupy sequence space are answered even when there is no
// data to carry the ack.
type Peer struct {
	sender   *Sender
	receiver *Receiver
}

// NewPeer combines a sender and a receiver into an endpoint.
func NewPeer(sender *Sender, receiver *Receiver) *Peer {
	return &Peer{sender: sender, receiver: receiver}
}

// Sender returns the outbound state machine.
func (p *Peer) Sender() *Sender {
	return p.sender
}

// Receiver returns the inbound state machine.
func (p *Peer) Receiver() *Receiver {
	return p.receiver
}

// Outbound returns the stream the application writes into.
func (p *Peer) Outbound() *stream.ByteStream {
	return p.sender.Input()
}

// Inbound returns the stream the application reads from.
func (p *Peer) Inbound() *stream.ByteStream {
	return p.receiver.Reassembler().Output()
}

// Push transmits any new data the window allows.
func (p *Peer) Push(transmit func(Message)) {
	p.sender.Push(p.stamped(transmit))
}

// Tick advances the retransmission timer by ms milliseconds.
func (p *Peer) Tick(ms uint64, transmit func(Message)) {
	p.sender.Tick(ms, p.stamped(transmit))
}

// Receive processes one segment from the peer. The acknowledgment half
// feeds the sender, the data half feeds the receiver, and a bare ack goes
// back whenever the segment consumed sequence space but no outgoing
// segment happened to carry the updated ackno.
func (p *Peer) Receive(msg Message, transmit func(Message)) {
	needsAck := msg.Sender.SequenceLength() > 0 || msg.Sender.RST

	p.sender.Receive(msg.Receiver)
	p.receiver.Receive(msg.Sender)

	sent := false
	p.sender.Push(func(m SenderMessage) {
		sent = true
		transmit(Message{Sender: m, Receiver: p.receiver.Send()})
	})
	if needsAck && !sent {
		transmit(Message{Sender: p.sender.MakeEmptyMessage(), Receiver: p.receiver.Send()})
	}
}

// Active reports whether the connection still has work to do: it turns
// false once either stream has errored, or once the inbound stream has
// been closed by the peer and everything outbound has been sent and
// acknowledged.
func (p *Peer) Active() bool {
	if p.Inbound().HasError() || p.Outbound().HasError() {
		return false
	}
	inboundDone := p.Inbound().IsClosed()
	outboundDone := p.sender.finSent && p.sender.inFlight == 0
	return !(inboundDone && outboundDone)
}

func (p *Peer) stamped(transmit func(Message)) func(SenderMessage) {
	return func(m SenderMessage) {
		transmit(Message{Sender: m, Receiver: p.receiver.Send()})
	}
}
