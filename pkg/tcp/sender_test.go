package tcp_test

import (
	"bytes"
	"testing"

	"tcp-endpoint/pkg/seqnum"
	"tcp-endpoint/pkg/stream"
	"tcp-endpoint/pkg/tcp"
)

// transcript collects transmitted segments in order.
type transcript struct {
	msgs []tcp.SenderMessage
}

func (tr *transcript) transmit(m tcp.SenderMessage) {
	tr.msgs = append(tr.msgs, m)
}

func (tr *transcript) take(t *testing.T, want int) []tcp.SenderMessage {
	t.Helper()
	if len(tr.msgs) != want {
		t.Fatalf("transmitted %d segments, want %d", len(tr.msgs), want)
	}
	msgs := tr.msgs
	tr.msgs = nil
	return msgs
}

func ack(s *tcp.Sender, isn seqnum.Wrap32, abs uint64, wnd uint16) {
	a := seqnum.Wrap(abs, isn)
	s.Receive(tcp.ReceiverMessage{Ackno: &a, WindowSize: wnd})
}

func TestSenderSynFirst(t *testing.T) {
	in := stream.New(16)
	s := tcp.NewSender(in, 0, 1000)
	var tr transcript

	s.Push(tr.transmit)
	msgs := tr.take(t, 1)
	if !msgs[0].SYN || msgs[0].FIN || len(msgs[0].Payload) != 0 || msgs[0].Seqno != 0 {
		t.Fatalf("first segment = %+v, want bare SYN at seqno 0", msgs[0])
	}
	if got := s.SequenceNumbersInFlight(); got != 1 {
		t.Fatalf("SequenceNumbersInFlight = %d, want 1", got)
	}

	// Until the SYN is acknowledged the window holds at one.
	s.Push(tr.transmit)
	tr.take(t, 0)
}

func TestSenderSynFinHandshake(t *testing.T) {
	in := stream.New(4)
	in.Close()
	s := tcp.NewSender(in, 0, 1000)
	s.Receive(tcp.ReceiverMessage{WindowSize: 10})
	var tr transcript

	s.Push(tr.transmit)
	msgs := tr.take(t, 1)
	if !msgs[0].SYN || !msgs[0].FIN || len(msgs[0].Payload) != 0 || msgs[0].Seqno != 0 {
		t.Fatalf("segment = %+v, want SYN+FIN at seqno 0", msgs[0])
	}
	if got := msgs[0].SequenceLength(); got != 2 {
		t.Fatalf("SequenceLength = %d, want 2", got)
	}

	ack(s, 0, 2, 10)
	if got := s.SequenceNumbersInFlight(); got != 0 {
		t.Fatalf("SequenceNumbersInFlight = %d, want 0", got)
	}
	// Timer stopped: no amount of time triggers a retransmission.
	s.Tick(1 << 20, tr.transmit)
	tr.take(t, 0)
}

func TestSenderDrainsWindow(t *testing.T) {
	in := stream.New(16)
	s := tcp.NewSender(in, 0, 1000)
	var tr transcript

	s.Push(tr.transmit)
	tr.take(t, 1)
	ack(s, 0, 1, 4)

	in.Push([]byte("abcdefgh"))
	s.Push(tr.transmit)
	msgs := tr.take(t, 1)
	if !bytes.Equal(msgs[0].Payload, []byte("abcd")) {
		t.Fatalf("payload = %q, want \"abcd\"", msgs[0].Payload)
	}
	if got := s.SequenceNumbersInFlight(); got != 4 {
		t.Fatalf("SequenceNumbersInFlight = %d, want 4", got)
	}

	// More of the window opens as data is acknowledged.
	ack(s, 0, 5, 4)
	s.Push(tr.transmit)
	msgs = tr.take(t, 1)
	if !bytes.Equal(msgs[0].Payload, []byte("efgh")) {
		t.Fatalf("payload = %q, want \"efgh\"", msgs[0].Payload)
	}
	if got := msgs[0].Seqno; got != 5 {
		t.Fatalf("seqno = %d, want 5", got)
	}
}

func TestSenderSplitsLargePayload(t *testing.T) {
	in := stream.New(4096)
	s := tcp.NewSender(in, 0, 1000)
	var tr transcript

	s.Push(tr.transmit)
	tr.take(t, 1)
	ack(s, 0, 1, 65535)

	data := bytes.Repeat([]byte("x"), 3000)
	in.Push(data)
	s.Push(tr.transmit)
	msgs := tr.take(t, 3)
	if len(msgs[0].Payload) != tcp.MaxPayloadSize || len(msgs[1].Payload) != tcp.MaxPayloadSize {
		t.Fatalf("payload lengths = %d, %d, want %d each",
			len(msgs[0].Payload), len(msgs[1].Payload), tcp.MaxPayloadSize)
	}
	if got := len(msgs[2].Payload); got != 3000-2*tcp.MaxPayloadSize {
		t.Fatalf("tail payload length = %d, want %d", got, 3000-2*tcp.MaxPayloadSize)
	}
	if got := s.SequenceNumbersInFlight(); got != 3000 {
		t.Fatalf("SequenceNumbersInFlight = %d, want 3000", got)
	}
}

func TestSenderRetransmissionBackoff(t *testing.T) {
	in := stream.New(16)
	s := tcp.NewSender(in, 0, 1000)
	var tr transcript

	s.Push(tr.transmit)
	tr.take(t, 1)
	ack(s, 0, 1, 10)

	in.Push([]byte("data"))
	s.Push(tr.transmit)
	sent := tr.take(t, 1)[0]

	s.Tick(999, tr.transmit)
	tr.take(t, 0)
	s.Tick(1, tr.transmit)
	retx := tr.take(t, 1)[0]
	if !bytes.Equal(retx.Payload, sent.Payload) || retx.Seqno != sent.Seqno {
		t.Fatalf("retransmission = %+v, want the original segment %+v", retx, sent)
	}
	if got := s.ConsecutiveRetransmissions(); got != 1 {
		t.Fatalf("ConsecutiveRetransmissions = %d, want 1", got)
	}

	// Backoff doubled the timeout.
	s.Tick(1999, tr.transmit)
	tr.take(t, 0)
	s.Tick(1, tr.transmit)
	tr.take(t, 1)
	if got := s.ConsecutiveRetransmissions(); got != 2 {
		t.Fatalf("ConsecutiveRetransmissions = %d, want 2", got)
	}

	// A new-data ack resets the timeout and the counter.
	ack(s, 0, 5, 10)
	if got := s.ConsecutiveRetransmissions(); got != 0 {
		t.Fatalf("ConsecutiveRetransmissions after ack = %d, want 0", got)
	}
	s.Tick(1 << 20, tr.transmit)
	tr.take(t, 0)
}

func TestSenderZeroWindowProbe(t *testing.T) {
	in := stream.New(16)
	s := tcp.NewSender(in, 0, 1000)
	var tr transcript

	s.Push(tr.transmit)
	tr.take(t, 1)
	ack(s, 0, 1, 0)

	in.Push([]byte("xy"))
	s.Push(tr.transmit)
	msgs := tr.take(t, 1)
	if !bytes.Equal(msgs[0].Payload, []byte("x")) {
		t.Fatalf("probe payload = %q, want \"x\"", msgs[0].Payload)
	}
	s.Push(tr.transmit)
	tr.take(t, 0)

	// Probing a closed window neither doubles the timeout nor counts as
	// a consecutive retransmission.
	s.Tick(1000, tr.transmit)
	tr.take(t, 1)
	if got := s.ConsecutiveRetransmissions(); got != 0 {
		t.Fatalf("ConsecutiveRetransmissions = %d, want 0", got)
	}
	s.Tick(1000, tr.transmit)
	tr.take(t, 1)

	// The window reopens and the rest flows.
	ack(s, 0, 2, 10)
	s.Push(tr.transmit)
	msgs = tr.take(t, 1)
	if !bytes.Equal(msgs[0].Payload, []byte("y")) {
		t.Fatalf("payload = %q, want \"y\"", msgs[0].Payload)
	}
}

func TestSenderFinOnlyWhenItFits(t *testing.T) {
	in := stream.New(8)
	s := tcp.NewSender(in, 0, 1000)
	var tr transcript

	s.Push(tr.transmit)
	tr.take(t, 1)
	ack(s, 0, 1, 3)

	in.Push([]byte("abc"))
	in.Close()
	s.Push(tr.transmit)
	msgs := tr.take(t, 1)
	if msgs[0].FIN {
		t.Fatal("FIN sent although it did not fit the window")
	}
	if !bytes.Equal(msgs[0].Payload, []byte("abc")) {
		t.Fatalf("payload = %q, want \"abc\"", msgs[0].Payload)
	}

	ack(s, 0, 4, 3)
	s.Push(tr.transmit)
	msgs = tr.take(t, 1)
	if !msgs[0].FIN || len(msgs[0].Payload) != 0 {
		t.Fatalf("segment = %+v, want bare FIN", msgs[0])
	}

	// At most one FIN across the sender's lifetime.
	ack(s, 0, 5, 3)
	s.Push(tr.transmit)
	tr.take(t, 0)
}

func TestSenderIgnoresAckOfUnsentData(t *testing.T) {
	in := stream.New(16)
	s := tcp.NewSender(in, 0, 1000)
	var tr transcript

	s.Push(tr.transmit)
	tr.take(t, 1)

	ack(s, 0, 99, 10)
	if got := s.SequenceNumbersInFlight(); got != 1 {
		t.Fatalf("SequenceNumbersInFlight = %d, want 1", got)
	}

	// The window update from the bogus ack still applies.
	in.Push([]byte("ab"))
	s.Push(tr.transmit)
	msgs := tr.take(t, 1)
	if !bytes.Equal(msgs[0].Payload, []byte("ab")) {
		t.Fatalf("payload = %q, want \"ab\"", msgs[0].Payload)
	}
}

func TestSenderGivesUpAfterMaxRetransmissions(t *testing.T) {
	in := stream.New(16)
	s := tcp.NewSender(in, 0, 1000)
	var tr transcript

	s.Push(tr.transmit)
	tr.take(t, 1)
	ack(s, 0, 1, 10)

	in.Push([]byte("doomed"))
	s.Push(tr.transmit)
	tr.take(t, 1)

	rto := uint64(1000)
	for i := 0; i < tcp.MaxRetxAttempts; i++ {
		s.Tick(rto, tr.transmit)
		rto *= 2
	}
	if got := len(tr.msgs); got != tcp.MaxRetxAttempts {
		t.Fatalf("retransmitted %d times, want %d", got, tcp.MaxRetxAttempts)
	}
	if !in.HasError() {
		t.Fatal("outbound stream not errored after too many retransmissions")
	}

	// A reset connection pushes a lone RST segment.
	tr.msgs = nil
	s.Push(tr.transmit)
	msgs := tr.take(t, 1)
	if !msgs[0].RST || msgs[0].SYN || msgs[0].FIN || len(msgs[0].Payload) != 0 {
		t.Fatalf("segment = %+v, want bare RST", msgs[0])
	}
	if !s.MakeEmptyMessage().RST {
		t.Fatal("MakeEmptyMessage does not carry the reset")
	}
}

func TestSenderConservation(t *testing.T) {
	in := stream.New(64)
	s := tcp.NewSender(in, 42, 1000)
	var tr transcript

	check := func(want uint64) {
		t.Helper()
		if got := s.SequenceNumbersInFlight(); got != want {
			t.Fatalf("SequenceNumbersInFlight = %d, want %d", got, want)
		}
	}

	s.Push(tr.transmit)
	check(1)
	ack(s, 42, 1, 8)

	in.Push([]byte("abcdefgh"))
	s.Push(tr.transmit)
	check(8)

	// A partial ack inside a segment releases nothing.
	ack(s, 42, 3, 8)
	check(8)

	ack(s, 42, 9, 8)
	check(0)
}

func TestSenderMakeEmptyMessage(t *testing.T) {
	in := stream.New(16)
	s := tcp.NewSender(in, 7, 1000)
	var tr transcript

	if got := s.MakeEmptyMessage().Seqno; got != 7 {
		t.Fatalf("empty message seqno = %d, want 7", got)
	}
	s.Push(tr.transmit)
	tr.take(t, 1)
	if got := s.MakeEmptyMessage().Seqno; got != 8 {
		t.Fatalf("empty message seqno = %d, want 8", got)
	}
	if got := s.MakeEmptyMessage().SequenceLength(); got != 0 {
		t.Fatalf("empty message SequenceLength = %d, want 0", got)
	}
}
