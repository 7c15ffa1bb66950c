// Package wire converts segments to and from their on-the-wire form: a
// TCP header with checksum inside an IPv4 packet. One header carries both
// halves of a tcp.Message, the sender's sequence space and the receiver's
// acknowledgment state.
package wire

import (
	"encoding/binary"
	"net/netip"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"

	"tcp-endpoint/pkg/seqnum"
	"tcp-endpoint/pkg/tcp"
)

const (
	// TCPHeaderLen is the length of the TCP header; options are not used.
	TCPHeaderLen = header.TCPMinimumSize

	pseudoHeaderLen = 12
	ipProtoTCP      = 6
	ipTTL           = 32
)

// Endpoint identifies one side of the connection on the wire.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// Encode builds the IPv4 packet carrying msg from src to dst, with the
// TCP and IPv4 checksums filled in.
func Encode(msg tcp.Message, src, dst Endpoint) ([]byte, error) {
	flags := uint8(0)
	if msg.Sender.SYN {
		flags |= header.TCPFlagSyn
	}
	if msg.Sender.FIN {
		flags |= header.TCPFlagFin
	}
	if msg.Sender.RST || msg.Receiver.RST {
		flags |= header.TCPFlagRst
	}
	var ackno uint32
	if msg.Receiver.Ackno != nil {
		flags |= header.TCPFlagAck
		ackno = uint32(*msg.Receiver.Ackno)
	}

	fields := header.TCPFields{
		SrcPort:    src.Port,
		DstPort:    dst.Port,
		SeqNum:     uint32(msg.Sender.Seqno),
		AckNum:     ackno,
		DataOffset: TCPHeaderLen,
		Flags:      flags,
		WindowSize: msg.Receiver.WindowSize,
	}
	fields.Checksum = Checksum(&fields, src.Addr, dst.Addr, msg.Sender.Payload)

	segment := make([]byte, TCPHeaderLen, TCPHeaderLen+len(msg.Sender.Payload))
	header.TCP(segment).Encode(&fields)
	segment = append(segment, msg.Sender.Payload...)

	hdr := ipv4header.IPv4Header{
		Version:  4,
		Len:      ipv4header.HeaderLen,
		TotalLen: ipv4header.HeaderLen + len(segment),
		TTL:      ipTTL,
		Protocol: ipProtoTCP,
		Src:      src.Addr,
		Dst:      dst.Addr,
		Options:  []byte{},
	}
	hdrBytes, err := hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ipv4 header")
	}
	hdr.Checksum = int(header.Checksum(hdrBytes, 0) ^ 0xffff)
	hdrBytes, err = hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ipv4 header")
	}
	return append(hdrBytes, segment...), nil
}

// Decode parses an IPv4 packet into the segment it carries, verifying
// both checksums. It returns the message along with the source and
// destination endpoints from the headers.
func Decode(packet []byte) (tcp.Message, Endpoint, Endpoint, error) {
	hdr, err := ipv4header.ParseHeader(packet)
	if err != nil {
		return tcp.Message{}, Endpoint{}, Endpoint{}, errors.Wrap(err, "parse ipv4 header")
	}
	if hdr.Protocol != ipProtoTCP {
		return tcp.Message{}, Endpoint{}, Endpoint{}, errors.Errorf("unexpected protocol %d", hdr.Protocol)
	}
	if hdr.Len < ipv4header.HeaderLen || hdr.TotalLen > len(packet) || hdr.Len > hdr.TotalLen {
		return tcp.Message{}, Endpoint{}, Endpoint{}, errors.New("inconsistent ipv4 lengths")
	}

	ipBytes := append([]byte(nil), packet[:hdr.Len]...)
	ipBytes[10], ipBytes[11] = 0, 0
	if header.Checksum(ipBytes, 0)^0xffff != uint16(hdr.Checksum) {
		return tcp.Message{}, Endpoint{}, Endpoint{}, errors.New("bad ipv4 checksum")
	}

	segment := packet[hdr.Len:hdr.TotalLen]
	if len(segment) < TCPHeaderLen {
		return tcp.Message{}, Endpoint{}, Endpoint{}, errors.New("tcp segment too short")
	}
	t := header.TCP(segment)
	if t.DataOffset() != TCPHeaderLen {
		return tcp.Message{}, Endpoint{}, Endpoint{}, errors.Errorf("unsupported tcp data offset %d", t.DataOffset())
	}
	payload := segment[TCPHeaderLen:]

	fields := header.TCPFields{
		SrcPort:    t.SourcePort(),
		DstPort:    t.DestinationPort(),
		SeqNum:     t.SequenceNumber(),
		AckNum:     t.AckNumber(),
		DataOffset: t.DataOffset(),
		Flags:      t.Flags(),
		WindowSize: t.WindowSize(),
	}
	if Checksum(&fields, hdr.Src, hdr.Dst, payload) != t.Checksum() {
		return tcp.Message{}, Endpoint{}, Endpoint{}, errors.New("bad tcp checksum")
	}

	rst := fields.Flags&header.TCPFlagRst != 0
	msg := tcp.Message{
		Sender: tcp.SenderMessage{
			Seqno:   seqnum.Wrap32(fields.SeqNum),
			SYN:     fields.Flags&header.TCPFlagSyn != 0,
			Payload: append([]byte(nil), payload...),
			FIN:     fields.Flags&header.TCPFlagFin != 0,
			RST:     rst,
		},
		Receiver: tcp.ReceiverMessage{
			WindowSize: fields.WindowSize,
			RST:        rst,
		},
	}
	if fields.Flags&header.TCPFlagAck != 0 {
		a := seqnum.Wrap32(fields.AckNum)
		msg.Receiver.Ackno = &a
	}

	srcEP := Endpoint{Addr: hdr.Src, Port: fields.SrcPort}
	dstEP := Endpoint{Addr: hdr.Dst, Port: fields.DstPort}
	return msg, srcEP, dstEP, nil
}

// Checksum computes the TCP checksum over the IPv4 pseudo-header, the
// encoded header and the payload. The Checksum field of fields is ignored.
func Checksum(fields *header.TCPFields, src, dst netip.Addr, payload []byte) uint16 {
	pseudo := make([]byte, pseudoHeaderLen)
	copy(pseudo[0:4], src.AsSlice())
	copy(pseudo[4:8], dst.AsSlice())
	pseudo[9] = ipProtoTCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(TCPHeaderLen+len(payload)))

	scratch := *fields
	scratch.Checksum = 0
	hdrBytes := make([]byte, TCPHeaderLen)
	header.TCP(hdrBytes).Encode(&scratch)

	sum := header.Checksum(pseudo, 0)
	sum = header.Checksum(hdrBytes, sum)
	sum = header.Checksum(payload, sum)
	return sum ^ 0xffff
}
