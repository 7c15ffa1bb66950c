// Package udplink drives a tcp.Peer over a UDP socket, the same link
// layer the rest of the stack has always ridden on: each UDP datagram
// carries one IPv4-encapsulated TCP segment.
package udplink

import (
	"log"
	"math/rand"
	"net"
	"time"

	"github.com/pkg/errors"

	"tcp-endpoint/pkg/seqnum"
	"tcp-endpoint/pkg/stream"
	"tcp-endpoint/pkg/tcp"
	"tcp-endpoint/pkg/wire"
)

const maxDatagram = 65535

// Conn is a single TCP connection riding on a UDP socket. It owns the
// peer state machine and translates between tcp.Message values and wire
// packets. All methods are meant for a single-goroutine event loop.
type Conn struct {
	sock   *net.UDPConn
	raddr  *net.UDPAddr
	local  wire.Endpoint
	remote wire.Endpoint

	peer     *tcp.Peer
	lastTick time.Time
	lastSeen time.Time

	buf [maxDatagram]byte
}

// Dial binds localAddr and prepares a connection toward remoteAddr with
// the given stream capacity and initial retransmission timeout. No
// packet is sent until the first Poll.
func Dial(localAddr, remoteAddr string, capacity, rtoMS uint64) (*Conn, error) {
	laddr, err := net.ResolveUDPAddr("udp4", localAddr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve local address")
	}
	raddr, err := net.ResolveUDPAddr("udp4", remoteAddr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve remote address")
	}
	sock, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "bind")
	}

	outbound := stream.New(capacity)
	inbound := stream.New(capacity)
	isn := seqnum.Wrap32(rand.Uint32())
	peer := tcp.NewPeer(
		tcp.NewSender(outbound, isn, rtoMS),
		tcp.NewReceiver(tcp.NewReassembler(inbound)),
	)

	now := time.Now()
	return &Conn{
		sock:     sock,
		raddr:    raddr,
		local:    wire.Endpoint{Addr: laddr.AddrPort().Addr().Unmap(), Port: uint16(laddr.Port)},
		remote:   wire.Endpoint{Addr: raddr.AddrPort().Addr().Unmap(), Port: uint16(raddr.Port)},
		peer:     peer,
		lastTick: now,
		lastSeen: now,
	}, nil
}

// Peer returns the connection's TCP state machine.
func (c *Conn) Peer() *tcp.Peer {
	return c.peer
}

// LastSeen returns when the last valid segment arrived.
func (c *Conn) LastSeen() time.Time {
	return c.lastSeen
}

// Poll runs one event-loop round: deliver every waiting segment to the
// peer, push whatever the window allows, and advance the retransmission
// timer by the wall-clock time elapsed since the previous round.
func (c *Conn) Poll() error {
	deadline := time.Now().Add(10 * time.Millisecond)
	for {
		if err := c.sock.SetReadDeadline(deadline); err != nil {
			return errors.Wrap(err, "set deadline")
		}
		n, _, err := c.sock.ReadFromUDP(c.buf[:])
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return errors.Wrap(err, "read")
		}
		msg, _, _, err := wire.Decode(c.buf[:n])
		if err != nil {
			log.Printf("dropping packet: %v", err)
			continue
		}
		c.lastSeen = time.Now()
		c.peer.Receive(msg, c.transmit)
		// Drain anything else already queued without waiting out the
		// full deadline again.
		deadline = time.Now().Add(time.Millisecond)
	}

	c.peer.Push(c.transmit)

	now := time.Now()
	if ms := uint64(now.Sub(c.lastTick).Milliseconds()); ms > 0 {
		c.peer.Tick(ms, c.transmit)
		c.lastTick = now
	}
	return nil
}

// Close releases the socket.
func (c *Conn) Close() error {
	return c.sock.Close()
}

func (c *Conn) transmit(m tcp.Message) {
	pkt, err := wire.Encode(m, c.local, c.remote)
	if err != nil {
		log.Printf("encode: %v", err)
		return
	}
	if _, err := c.sock.WriteToUDP(pkt, c.raddr); err != nil {
		log.Printf("send: %v", err)
	}
}
