// Package reassembly orders the TCP payload of one flow direction into a
// contiguous byte stream. Out-of-order segments are held until the hole in
// front of them fills or is declared lost.
package reassembly

import (
	"slices"
	"time"

	"github.com/google/gopacket/tcpassembly"
)

const (
	DefaultHoleTimeout  = 2 * time.Second
	DefaultMaxHeldBytes = 256 * 1024

	// per held range bookkeeping charged to Memory
	rangeOverhead = 48
)

// Config bounds how long and how much out-of-order data a stream holds.
type Config struct {
	HoleTimeout  time.Duration
	MaxHeldBytes int
}

// DefaultConfig returns the default reassembly limits.
func DefaultConfig() Config {
	return Config{
		HoleTimeout:  DefaultHoleTimeout,
		MaxHeldBytes: DefaultMaxHeldBytes,
	}
}

func (c Config) withDefaults() Config {
	if c.HoleTimeout <= 0 {
		c.HoleTimeout = DefaultHoleTimeout
	}
	if c.MaxHeldBytes <= 0 {
		c.MaxHeldBytes = DefaultMaxHeldBytes
	}
	return c
}

// Chunk is a run of contiguous stream bytes. Skipped is the number of
// bytes declared lost immediately before Data.
type Chunk struct {
	Skipped int
	Data    []byte
}

// Result is what one Feed made available, in stream order.
type Result struct {
	Chunks []Chunk
}

// Gap reports whether any bytes were declared lost.
func (r Result) Gap() bool {
	for _, c := range r.Chunks {
		if c.Skipped > 0 {
			return true
		}
	}
	return false
}

// Gaps returns the number of holes declared lost.
func (r Result) Gaps() int {
	n := 0
	for _, c := range r.Chunks {
		if c.Skipped > 0 {
			n++
		}
	}
	return n
}

// Len returns the number of delivered bytes.
func (r Result) Len() int {
	n := 0
	for _, c := range r.Chunks {
		n += len(c.Data)
	}
	return n
}

// Bytes concatenates all delivered data, ignoring gaps.
func (r Result) Bytes() []byte {
	if len(r.Chunks) == 1 {
		return r.Chunks[0].Data
	}
	out := make([]byte, 0, r.Len())
	for _, c := range r.Chunks {
		out = append(out, c.Data...)
	}
	return out
}

type heldRange struct {
	seq   tcpassembly.Sequence
	data  []byte
	since time.Time
}

// Stream reassembles one direction. It is not safe for concurrent use; the
// owning session serialises access.
type Stream struct {
	cfg       Config
	started   bool
	next      tcpassembly.Sequence
	held      []heldRange
	heldBytes int
	delivered uint64
	skipped   uint64
}

// NewStream creates a stream that adopts the first sequence it sees unless
// SetInitial is called first.
func NewStream(cfg Config) *Stream {
	return &Stream{cfg: cfg.withDefaults()}
}

// diff returns b - a in the 32-bit sequence space.
//
// tcpassembly.Sequence.Difference wraps by 2^32-1 rather than 2^32, which is
// off by one across the wrap point, so the signed 32-bit subtraction is used.
func diff(a, b tcpassembly.Sequence) int {
	return int(int32(uint32(b) - uint32(a)))
}

// SetInitial records the sequence number carried by a SYN. Later SYNs
// (retransmissions) are ignored.
func (s *Stream) SetInitial(isn uint32) {
	if s.started {
		return
	}
	s.started = true
	s.next = tcpassembly.Sequence(isn).Add(1)
}

// Started reports whether the stream has an expected sequence.
func (s *Stream) Started() bool {
	return s.started
}

// Next returns the next expected sequence number.
func (s *Stream) Next() uint32 {
	return uint32(s.next)
}

// Feed adds a segment and returns every byte that became contiguous,
// including data released by a hole declared lost at now.
func (s *Stream) Feed(seq uint32, payload []byte, now time.Time) Result {
	var res Result

	if len(payload) > 0 {
		if !s.started {
			s.started = true
			s.next = tcpassembly.Sequence(seq)
		}

		at := tcpassembly.Sequence(seq)
		d := diff(s.next, at)
		switch {
		case d < 0:
			if -d >= len(payload) {
				break
			}
			payload = payload[-d:]
			fallthrough
		case d == 0:
			data := append([]byte(nil), payload...)
			s.advance(len(data))
			res.Chunks = append(res.Chunks, Chunk{Data: data})
			s.coalesce(&res)
		default:
			s.hold(at, payload, now)
		}
	}

	s.expire(&res, now)
	return res
}

// Expire declares holes lost that have waited past the timeout without any
// new segment arriving.
func (s *Stream) Expire(now time.Time) Result {
	var res Result
	s.expire(&res, now)
	return res
}

func (s *Stream) advance(n int) {
	s.next = s.next.Add(n)
	s.delivered += uint64(n)
}

// coalesce appends held ranges that now start at or before next.
func (s *Stream) coalesce(res *Result) {
	for len(s.held) > 0 {
		h := s.held[0]
		d := diff(s.next, h.seq)
		if d > 0 {
			return
		}
		s.held = s.held[1:]
		s.heldBytes -= len(h.data)
		if -d >= len(h.data) {
			continue
		}
		data := h.data[-d:]
		s.advance(len(data))
		appendData(res, data)
	}
}

func appendData(res *Result, data []byte) {
	if n := len(res.Chunks); n > 0 {
		res.Chunks[n-1].Data = append(res.Chunks[n-1].Data, data...)
		return
	}
	res.Chunks = append(res.Chunks, Chunk{Data: data})
}

// hold stores the parts of payload not already covered by held ranges.
func (s *Stream) hold(at tcpassembly.Sequence, payload []byte, now time.Time) {
	cur := at
	rem := payload
	var pieces []heldRange

	for _, h := range s.held {
		if len(rem) == 0 {
			break
		}
		hs := diff(cur, h.seq)
		he := hs + len(h.data)
		if he <= 0 {
			continue
		}
		if hs >= len(rem) {
			break
		}
		if hs > 0 {
			pieces = append(pieces, heldRange{seq: cur, data: append([]byte(nil), rem[:hs]...), since: now})
		}
		if he >= len(rem) {
			rem = nil
			break
		}
		rem = rem[he:]
		cur = cur.Add(he)
	}
	if len(rem) > 0 {
		pieces = append(pieces, heldRange{seq: cur, data: append([]byte(nil), rem...), since: now})
	}
	if len(pieces) == 0 {
		return
	}

	for _, p := range pieces {
		s.heldBytes += len(p.data)
	}
	s.held = append(s.held, pieces...)
	slices.SortFunc(s.held, func(a, b heldRange) int {
		return diff(s.next, a.seq) - diff(s.next, b.seq)
	})
}

func (s *Stream) oldestHeld() time.Time {
	oldest := s.held[0].since
	for _, h := range s.held[1:] {
		if h.since.Before(oldest) {
			oldest = h.since
		}
	}
	return oldest
}

func (s *Stream) expire(res *Result, now time.Time) {
	for len(s.held) > 0 {
		if s.heldBytes <= s.cfg.MaxHeldBytes && now.Sub(s.oldestHeld()) <= s.cfg.HoleTimeout {
			return
		}
		lost := diff(s.next, s.held[0].seq)
		s.next = s.held[0].seq
		s.skipped += uint64(lost)
		res.Chunks = append(res.Chunks, Chunk{Skipped: lost})
		s.coalesce(res)
	}
}

// HeldBytes returns the bytes waiting behind a hole.
func (s *Stream) HeldBytes() int {
	return s.heldBytes
}

// Memory estimates the bytes owned by the stream.
func (s *Stream) Memory() int {
	return s.heldBytes + len(s.held)*rangeOverhead
}

// Delivered returns the total bytes released in order.
func (s *Stream) Delivered() uint64 {
	return s.delivered
}

// Skipped returns the total bytes declared lost.
func (s *Stream) Skipped() uint64 {
	return s.skipped
}

// Reset drops held data and forgets the expected sequence.
func (s *Stream) Reset() {
	s.started = false
	s.next = 0
	s.held = nil
	s.heldBytes = 0
}
