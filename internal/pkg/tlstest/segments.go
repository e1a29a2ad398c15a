package tlstest

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

// Segment is one TCP segment of a replayed conversation.
type Segment struct {
	FromClient bool
	Seq        uint32
	Ack        uint32
	SYN        bool
	ACK        bool
	FIN        bool
	RST        bool
	Payload    []byte
}

// Default initial sequence numbers. The server's sits just below the wrap.
const (
	ClientISN uint32 = 1000
	ServerISN uint32 = 0xfffff000
)

// Segments replays the conversation: three-way handshake, every flight
// cut into mss sized segments, then FIN from both sides.
func (c *Conversation) Segments(mss int) []Segment {
	return c.SegmentsFrom(mss, ClientISN, ServerISN)
}

// SegmentsFrom is Segments with explicit initial sequence numbers.
func (c *Conversation) SegmentsFrom(mss int, clientISN, serverISN uint32) []Segment {
	cseq, sseq := clientISN+1, serverISN+1
	segs := []Segment{
		{FromClient: true, Seq: clientISN, SYN: true},
		{FromClient: false, Seq: serverISN, Ack: cseq, SYN: true, ACK: true},
		{FromClient: true, Seq: cseq, Ack: sseq, ACK: true},
	}

	for _, f := range c.Flights {
		for data := f.Data; len(data) > 0; {
			n := min(mss, len(data))
			seg := Segment{FromClient: f.FromClient, ACK: true, Payload: data[:n]}
			if f.FromClient {
				seg.Seq, seg.Ack = cseq, sseq
				cseq += uint32(n)
			} else {
				seg.Seq, seg.Ack = sseq, cseq
				sseq += uint32(n)
			}
			segs = append(segs, seg)
			data = data[n:]
		}
	}

	segs = append(segs,
		Segment{FromClient: true, Seq: cseq, Ack: sseq, ACK: true, FIN: true},
		Segment{FromClient: false, Seq: sseq, Ack: cseq + 1, ACK: true, FIN: true},
	)
	return segs
}

// Packet serialises a segment as a raw IPv4 or IPv6 packet between client
// and server.
func Packet(t testing.TB, seg Segment, client, server netip.AddrPort) []byte {
	t.Helper()

	src, dst := client, server
	if !seg.FromClient {
		src, dst = server, client
	}

	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(src.Port()),
		DstPort: layers.TCPPort(dst.Port()),
		Seq:     seg.Seq,
		Ack:     seg.Ack,
		SYN:     seg.SYN,
		ACK:     seg.ACK,
		FIN:     seg.FIN,
		RST:     seg.RST,
		Window:  65535,
	}

	var network gopacket.SerializableLayer
	if src.Addr().Is4() {
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IP(src.Addr().AsSlice()),
			DstIP:    net.IP(dst.Addr().AsSlice()),
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		network = ip
	} else {
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolTCP,
			SrcIP:      net.IP(src.Addr().AsSlice()),
			DstIP:      net.IP(dst.Addr().AsSlice()),
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		network = ip
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, network, tcp, gopacket.Payload(seg.Payload)))
	return append([]byte(nil), buf.Bytes()...)
}

// Packets serialises every segment.
func Packets(t testing.TB, segs []Segment, client, server netip.AddrPort) [][]byte {
	t.Helper()
	out := make([][]byte, len(segs))
	for i, s := range segs {
		out[i] = Packet(t, s, client, server)
	}
	return out
}
