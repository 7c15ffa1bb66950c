// Package stream provides the bounded byte FIFO that connects the TCP
// machinery to the application on both sides of a connection.
package stream

import (
	"io"

	"github.com/pkg/errors"
	"github.com/smallnest/ringbuffer"
)

// ErrReset reports that the stream was torn down by a connection reset.
var ErrReset = errors.New("stream: connection reset")

// ByteStream is a fixed-capacity FIFO of bytes with an end-of-input signal
// and a sticky error flag. The writer pushes, the reader pops, and both
// sides observe the same cumulative byte counters. A ByteStream never
// blocks; Push accepts what fits and Read returns what is buffered.
type ByteStream struct {
	rb       *ringbuffer.RingBuffer
	capacity uint64
	pushed   uint64
	popped   uint64
	closed   bool
	errored  bool
}

// New returns an open ByteStream holding at most capacity bytes.
func New(capacity uint64) *ByteStream {
	return &ByteStream{
		rb:       ringbuffer.New(int(capacity)),
		capacity: capacity,
	}
}

// Push appends as much of data as the remaining capacity allows and
// returns how many bytes were accepted. Pushing to a closed or errored
// stream accepts nothing.
func (s *ByteStream) Push(data []byte) uint64 {
	if s.closed || s.errored {
		return 0
	}
	if free := uint64(s.rb.Free()); uint64(len(data)) > free {
		data = data[:free]
	}
	if len(data) == 0 {
		return 0
	}
	n, _ := s.rb.Write(data)
	s.pushed += uint64(n)
	return uint64(n)
}

// Read pops up to len(p) buffered bytes into p. An open but empty stream
// reads zero bytes with a nil error; a closed and drained stream reads
// io.EOF; an errored stream reads ErrReset.
func (s *ByteStream) Read(p []byte) (int, error) {
	if s.errored {
		return 0, ErrReset
	}
	buffered := s.rb.Length()
	if buffered == 0 {
		if s.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	if len(p) > buffered {
		p = p[:buffered]
	}
	n, _ := s.rb.Read(p)
	s.popped += uint64(n)
	return n, nil
}

// Close marks the end of input. No byte will ever be pushed again.
func (s *ByteStream) Close() {
	s.closed = true
}

// SetError latches the sticky error flag.
func (s *ByteStream) SetError() {
	s.errored = true
}

// HasError reports whether the error flag has been set.
func (s *ByteStream) HasError() bool {
	return s.errored
}

// IsClosed reports whether the writing side has finished.
func (s *ByteStream) IsClosed() bool {
	return s.closed
}

// IsFinished reports whether the stream is closed and fully drained.
func (s *ByteStream) IsFinished() bool {
	return s.closed && s.rb.IsEmpty()
}

// BytesPushed returns the cumulative number of bytes ever pushed.
func (s *ByteStream) BytesPushed() uint64 {
	return s.pushed
}

// BytesPopped returns the cumulative number of bytes ever popped.
func (s *ByteStream) BytesPopped() uint64 {
	return s.popped
}

// BytesBuffered returns the number of bytes pushed but not yet popped.
func (s *ByteStream) BytesBuffered() uint64 {
	return uint64(s.rb.Length())
}

// AvailableCapacity returns how many more bytes Push would accept.
func (s *ByteStream) AvailableCapacity() uint64 {
	return s.capacity - (s.pushed - s.popped)
}

// Capacity returns the fixed capacity the stream was created with.
func (s *ByteStream) Capacity() uint64 {
	return s.capacity
}
