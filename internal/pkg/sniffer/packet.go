package sniffer

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/endorses/tlsniff/internal/pkg/session"
)

// parsePacket decodes a raw IP packet, picking IPv4 or IPv6 from the
// version nibble.
func parsePacket(data []byte) (session.Segment, error) {
	if len(data) == 0 {
		return session.Segment{}, fmt.Errorf("%w: empty", ErrInvalidPacket)
	}
	var first gopacket.LayerType
	switch data[0] >> 4 {
	case 4:
		first = layers.LayerTypeIPv4
	case 6:
		first = layers.LayerTypeIPv6
	default:
		return session.Segment{}, fmt.Errorf("%w: IP version %d", ErrInvalidPacket, data[0]>>4)
	}
	return segmentOf(gopacket.NewPacket(data, first, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	}))
}

// segmentOf extracts the TCP segment of a decoded packet.
func segmentOf(packet gopacket.Packet) (session.Segment, error) {
	var src, dst netip.Addr
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		if ip.Flags&layers.IPv4MoreFragments != 0 || ip.FragOffset != 0 {
			return session.Segment{}, fmt.Errorf("%w: IPv4 fragment", ErrInvalidPacket)
		}
		src, _ = netip.AddrFromSlice(ip.SrcIP.To4())
		dst, _ = netip.AddrFromSlice(ip.DstIP.To4())
	case *layers.IPv6:
		src, _ = netip.AddrFromSlice(ip.SrcIP)
		dst, _ = netip.AddrFromSlice(ip.DstIP)
	default:
		if e := packet.ErrorLayer(); e != nil {
			return session.Segment{}, fmt.Errorf("%w: %v", ErrInvalidPacket, e.Error())
		}
		return session.Segment{}, fmt.Errorf("%w: no IP layer", ErrInvalidPacket)
	}

	tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok {
		if e := packet.ErrorLayer(); e != nil {
			return session.Segment{}, fmt.Errorf("%w: %v", ErrInvalidPacket, e.Error())
		}
		return session.Segment{}, fmt.Errorf("%w: not TCP", ErrInvalidPacket)
	}

	return session.Segment{
		Src:     netip.AddrPortFrom(src.Unmap(), uint16(tcp.SrcPort)),
		Dst:     netip.AddrPortFrom(dst.Unmap(), uint16(tcp.DstPort)),
		Seq:     tcp.Seq,
		SYN:     tcp.SYN,
		ACK:     tcp.ACK,
		FIN:     tcp.FIN,
		RST:     tcp.RST,
		Payload: tcp.Payload,
	}, nil
}

// DecodeFrame decodes a link-layer frame of the given type, as read from a
// capture file.
func (s *Sniffer) DecodeFrame(frame []byte, link layers.LinkType, ts time.Time, info *SessionInfo) (*DecodeBuffer, error) {
	seg, err := segmentOf(gopacket.NewPacket(frame, link, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	}))
	if err != nil {
		return nil, err
	}
	return s.decode(seg, ts, info)
}
