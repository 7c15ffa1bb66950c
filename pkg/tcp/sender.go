package tcp

import (
	"tcp-endpoint/pkg/seqnum"
	"tcp-endpoint/pkg/stream"
)

// outstanding records one transmitted, not yet fully acknowledged
// segment, in transmission order.
type outstanding struct {
	start uint64
	msg   SenderMessage
}

// Sender drains the outbound byte stream into segments within the peer's
// advertised window, tracks what is in flight, and reliably redelivers it
// with a single retransmission timer under exponential backoff.
type Sender struct {
	input      *stream.ByteStream
	isn        seqnum.Wrap32
	initialRTO uint64

	rto          uint64
	elapsed      uint64
	timerRunning bool

	nextSeqno uint64
	inFlight  uint64
	queue     []outstanding

	window    uint16
	retxCount uint64
	synSent   bool
	finSent   bool
	ackSeen   bool
}

// NewSender returns a Sender reading from input, numbering its stream
// from isn, with the given initial retransmission timeout in
// milliseconds. The window starts at one so the opening SYN can go out
// before the peer has advertised anything.
func NewSender(input *stream.ByteStream, isn seqnum.Wrap32, initialRTOms uint64) *Sender {
	return &Sender{
		input:      input,
		isn:        isn,
		initialRTO: initialRTOms,
		rto:        initialRTOms,
		window:     1,
	}
}

// Input returns the outbound stream the application writes into.
func (s *Sender) Input() *stream.ByteStream {
	return s.input
}

// SequenceNumbersInFlight returns the total sequence length of all
// outstanding segments.
func (s *Sender) SequenceNumbersInFlight() uint64 {
	return s.inFlight
}

// ConsecutiveRetransmissions returns how many times in a row the timer
// has expired without any new data being acknowledged.
func (s *Sender) ConsecutiveRetransmissions() uint64 {
	return s.retxCount
}

// MakeEmptyMessage returns a zero-length segment carrying the next
// sequence number, used to answer a peer segment that requires an ack
// but no data. It carries RST when the outbound stream has errored.
func (s *Sender) MakeEmptyMessage() SenderMessage {
	return SenderMessage{
		Seqno: seqnum.Wrap(s.nextSeqno, s.isn),
		RST:   s.input.HasError(),
	}
}

// Push transmits as many new segments as the window allows, pulling
// payload from the outbound stream. A zero advertised window is treated
// as a window of one, yielding a single probe segment. When the outbound
// stream has errored a lone RST segment is transmitted instead and
// nothing is queued.
func (s *Sender) Push(transmit func(SenderMessage)) {
	if s.input.HasError() {
		transmit(SenderMessage{Seqno: seqnum.Wrap(s.nextSeqno, s.isn), RST: true})
		return
	}
	for {
		wnd := uint64(s.window)
		if wnd == 0 {
			wnd = 1
		}
		if s.inFlight >= wnd {
			return
		}
		remaining := wnd - s.inFlight

		msg := SenderMessage{Seqno: seqnum.Wrap(s.nextSeqno, s.isn)}
		if !s.synSent {
			msg.SYN = true
		}

		budget := remaining
		if msg.SYN {
			budget--
		}
		if budget > MaxPayloadSize {
			budget = MaxPayloadSize
		}
		if budget > 0 && s.input.BytesBuffered() > 0 {
			buf := make([]byte, budget)
			n, _ := s.input.Read(buf)
			msg.Payload = buf[:n]
		}
		if s.input.IsFinished() && !s.finSent && msg.SequenceLength() < remaining {
			msg.FIN = true
		}
		if msg.SequenceLength() == 0 {
			return
		}

		transmit(msg)
		s.queue = append(s.queue, outstanding{start: s.nextSeqno, msg: msg})
		s.nextSeqno += msg.SequenceLength()
		s.inFlight += msg.SequenceLength()
		s.synSent = s.synSent || msg.SYN
		s.finSent = s.finSent || msg.FIN
		if !s.timerRunning {
			s.timerRunning = true
			s.elapsed = 0
		}
	}
}

// Receive processes the peer's acknowledgment. The advertised window is
// recorded unconditionally; an ackno covering sequence numbers never sent
// is otherwise ignored. Acknowledgment of new data resets the timeout and
// the retransmission counter and restarts the timer if anything remains
// outstanding.
func (s *Sender) Receive(msg ReceiverMessage) {
	if msg.RST {
		s.input.SetError()
	}
	s.window = msg.WindowSize
	s.ackSeen = true
	if msg.Ackno == nil {
		return
	}

	acked := msg.Ackno.Unwrap(s.isn, s.nextSeqno)
	if acked > s.nextSeqno {
		return
	}

	popped := false
	for len(s.queue) > 0 {
		seg := s.queue[0]
		if seg.start+seg.msg.SequenceLength() > acked {
			break
		}
		s.inFlight -= seg.msg.SequenceLength()
		s.queue = s.queue[1:]
		popped = true
	}
	if popped {
		s.rto = s.initialRTO
		s.retxCount = 0
		s.elapsed = 0
		s.timerRunning = len(s.queue) > 0
	}
}

// Tick advances the retransmission timer by ms milliseconds. On expiry
// the earliest outstanding segment is retransmitted verbatim; the timeout
// doubles and the consecutive-retransmission counter grows only when the
// peer's window is open, since expiry against a zero window is a probe
// rather than presumed loss. Hitting MaxRetxAttempts errors the outbound
// stream.
func (s *Sender) Tick(ms uint64, transmit func(SenderMessage)) {
	if !s.timerRunning {
		return
	}
	s.elapsed += ms
	if s.elapsed < s.rto {
		return
	}

	transmit(s.queue[0].msg)
	if s.window > 0 {
		s.rto *= 2
		s.retxCount++
		if s.retxCount >= MaxRetxAttempts {
			s.input.SetError()
		}
	}
	s.elapsed = 0
}
