package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/endorses/tlsniff/internal/pkg/decrypt"
	"github.com/endorses/tlsniff/internal/pkg/handshake"
	"github.com/endorses/tlsniff/internal/pkg/reassembly"
	"github.com/endorses/tlsniff/internal/pkg/stats"
)

// sessionOverhead approximates the fixed allocation of a session for
// memory accounting.
const sessionOverhead = 1024

// Session is the decode state of one TCP flow. All methods except the
// atomic accessors require mu.
type Session struct {
	mu sync.Mutex

	id      uuid.UUID
	tuple   Tuple
	env     *Env
	created time.Time

	// read by table sweeps without mu
	lastActive atomic.Int64
	retired    atomic.Bool
	discarded  atomic.Bool

	machine    *handshake.Machine
	streams    [2]*reassembly.Stream
	parsers    [2]*handshake.RecordParser
	assemblers [2]handshake.MessageAssembler
	readers    [2]decrypt.RecordDecryptor

	// encrypted is set once a direction sent ChangeCipherSpec; opaque
	// directions are only counted, never framed.
	encrypted [2]bool
	opaque    [2]bool

	// a direction is done after its close_notify, or once the stream has
	// delivered everything up to its FIN
	fin         [2]bool
	finSeq      [2]uint32
	closeNotify [2]bool

	transcript    []byte
	clientRandom  []byte
	serverRandom  []byte
	sessionID     []byte
	offeredTicket []byte
	issuedTicket  []byte
	clientEMS     bool
	ems           bool
	sni           string
	version       uint16
	suiteID       uint16
	suite         *decrypt.SuiteInfo
	keys          *decrypt.SessionKeys

	resumed     bool
	clientAuth  bool
	failed      bool
	midstream   bool
	keysActive  bool
	reported    bool
	closed      bool
	released    bool
	missed      int
	lastSecond  int64
	lastEncrypt int64

	bytes [2]uint64
}

func newSession(tuple Tuple, env *Env, cfg reassembly.Config, now time.Time) *Session {
	s := &Session{
		id:      uuid.New(),
		tuple:   tuple,
		env:     env,
		created: now,
		machine: handshake.NewMachine(),
		streams: [2]*reassembly.Stream{reassembly.NewStream(cfg), reassembly.NewStream(cfg)},
		parsers: [2]*handshake.RecordParser{handshake.NewRecordParser(), handshake.NewRecordParser()},
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() uuid.UUID { return s.id }

// Tuple returns the client and server endpoints.
func (s *Session) Tuple() Tuple { return s.tuple }

// LastActive returns the packet time of the last segment.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// outcome accumulates what one segment produced.
type outcome struct {
	data        []byte
	encrypted   bool
	decrypted   bool
	established bool
	err         error
}

// fail keeps the first error of the segment.
func (o *outcome) fail(err error) {
	if o.err == nil {
		o.err = err
	}
}

func (s *Session) directionOf(seg Segment) handshake.Direction {
	if seg.Src == s.tuple.Client {
		return handshake.DirectionClient
	}
	return handshake.DirectionServer
}

// Process runs one segment through the pipeline.
func (s *Session) Process(seg Segment, now time.Time) (Result, error) {
	dir := s.directionOf(seg)
	s.lastActive.Store(now.UnixNano())

	var o outcome
	if s.closed {
		// stragglers of a finished flow stay with it
		s.bytes[dir] += uint64(len(seg.Payload))
		if len(seg.Payload) > 0 {
			s.countEncrypted(len(seg.Payload), &o)
		}
		s.account(now, &o)
		return s.result(&o), nil
	}

	st := s.streams[dir]
	seq := seg.Seq
	if seg.SYN {
		st.SetInitial(seq)
		seq++
	}
	s.bytes[dir] += uint64(len(seg.Payload))
	if seg.FIN && !s.fin[dir] {
		s.fin[dir] = true
		s.finSeq[dir] = seq + uint32(len(seg.Payload))
	}
	// holes only expire on segments of their own direction so a result
	// never mixes the two
	s.feed(dir, st.Feed(seq, seg.Payload, now), &o)

	switch {
	case seg.RST:
		s.terminate()
	case s.done(handshake.DirectionClient) && s.done(handshake.DirectionServer):
		s.terminate()
	}

	s.account(now, &o)
	return s.result(&o), o.err
}

// done reports whether dir has nothing more to deliver. A FIN with a hole
// before it leaves the direction open until the hole fills or expires.
func (s *Session) done(dir handshake.Direction) bool {
	if s.closeNotify[dir] {
		return true
	}
	if !s.fin[dir] {
		return false
	}
	st := s.streams[dir]
	return !st.Started() || int32(st.Next()-s.finSeq[dir]) >= 0
}

func (s *Session) account(now time.Time, o *outcome) {
	st := s.env.Stats
	sec := now.Unix()
	st.Tick(sec)
	if sec != s.lastSecond {
		s.lastSecond = sec
		st.FlowActive()
	}
	if o.encrypted {
		st.Inc(stats.EncryptedPackets)
		if sec != s.lastEncrypt {
			s.lastEncrypt = sec
			st.EncryptedFlowActive()
		}
	}
	if o.decrypted {
		st.Inc(stats.DecryptedPackets)
	}
}

func (s *Session) result(o *outcome) Result {
	return Result{
		Data:        o.data,
		Info:        s.info(),
		Established: o.established,
		Closed:      s.closed,
	}
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info()
}

func (s *Session) info() Info {
	info := Info{
		ID:          s.id,
		Tuple:       s.tuple,
		Created:     s.created,
		Valid:       s.keys != nil && !s.failed,
		Version:     s.version,
		CipherSuite: s.suiteID,
		ServerName:  s.sni,
		Resumed:     s.resumed,
		ClientAuth:  s.clientAuth,
		State:       s.machine.State().String(),
		MissedData:  s.missed,
		ClientBytes: s.bytes[handshake.DirectionClient],
		ServerBytes: s.bytes[handshake.DirectionServer],
	}
	if s.version != 0 {
		info.CipherSuiteName = decrypt.SuiteName(s.suiteID)
	}
	if s.suite != nil {
		info.KeySize = s.suite.KeyLen * 8
	}
	return info
}

func (s *Session) feed(dir handshake.Direction, res reassembly.Result, o *outcome) {
	for _, c := range res.Chunks {
		if c.Skipped > 0 {
			s.gap(dir, c.Skipped, o)
		}
		if len(c.Data) > 0 && !s.closed {
			s.consume(dir, c.Data, o)
		}
	}
}

// gap handles bytes of dir declared lost.
func (s *Session) gap(dir handshake.Direction, lost int, o *outcome) {
	s.missed++
	s.env.Stats.Inc(stats.MissedData)
	s.trace("gap", "dir", dir, "lost", lost)

	if s.closed || s.opaque[dir] {
		return
	}

	r := &s.readers[dir]
	switch {
	case s.encrypted[dir] && r.Active():
		r.Gap(lost)
		if r.Broken() {
			s.opaque[dir] = true
			o.fail(fmt.Errorf("%w: %s cipher state lost", ErrReassemblyGap, dir))
			return
		}
		s.parsers[dir].Resync(s.version)
		s.assemblers[dir].Reset()
	case s.encrypted[dir] || s.failed:
		s.opaque[dir] = true
	default:
		o.fail(fmt.Errorf("%w: %d bytes of %s handshake lost", ErrReassemblyGap, lost, dir))
		s.fail()
		s.opaque[dir] = true
	}
}

// looksLikeClientHello reports whether a client stream can start with a
// handshake record carrying a ClientHello.
func looksLikeClientHello(data []byte) bool {
	if len(data) == 0 || data[0] != handshake.ContentTypeHandshake {
		return false
	}
	if len(data) > 1 && data[1] != 3 {
		return false
	}
	if len(data) > 5 && data[5] != handshake.TypeClientHello {
		return false
	}
	return true
}

func (s *Session) consume(dir handshake.Direction, data []byte, o *outcome) {
	if s.machine.State() == handshake.StateStart && !s.failed && s.parsers[dir].BufferedBytes() == 0 &&
		(dir == handshake.DirectionServer || !looksLikeClientHello(data)) {
		// picked up mid-stream: nothing can be decoded
		s.midstream = true
		s.fail()
		s.opaque = [2]bool{true, true}
		s.trace("mid-stream pickup", "dir", dir)
	}

	if s.opaque[dir] {
		s.countEncrypted(len(data), o)
		return
	}

	records, err := s.parsers[dir].ParseRecords(data)
	for _, r := range records {
		if s.closed {
			break
		}
		s.record(dir, r, o)
	}
	if err == nil || s.closed {
		return
	}

	if s.failed {
		s.opaque[dir] = true
		return
	}
	s.malformed(err, o)
}

func (s *Session) countEncrypted(n int, o *outcome) {
	s.env.Stats.Add(stats.EncryptedBytes, uint64(n))
	o.encrypted = true
}

func (s *Session) record(dir handshake.Direction, r *handshake.Record, o *outcome) {
	if s.opaque[dir] {
		s.countEncrypted(handshake.RecordHeaderSize+len(r.Fragment), o)
		return
	}

	data := r.Fragment
	if s.encrypted[dir] {
		s.countEncrypted(len(r.Fragment), o)
		rd := &s.readers[dir]
		if !rd.Active() {
			return
		}
		pt, err := rd.Decrypt(r.ContentType, r.Fragment)
		if err != nil {
			s.env.Stats.Inc(stats.DecodeFails)
			s.trace("record rejected", "dir", dir, "type", handshake.ContentTypeName(r.ContentType), "seq", rd.Seq()-1, "error", err)
			o.fail(err)
			return
		}
		data = pt
	}

	switch r.ContentType {
	case handshake.ContentTypeChangeCipherSpec:
		s.changeCipherSpec(dir, o)

	case handshake.ContentTypeAlert:
		s.alert(dir, data, o)

	case handshake.ContentTypeHandshake:
		if !s.failed {
			s.handshakeRecord(dir, data, o)
		}

	case handshake.ContentTypeApplicationData:
		switch {
		case s.encrypted[dir]:
			if s.readers[dir].Active() {
				o.data = append(o.data, data...)
				o.decrypted = true
				s.env.Stats.Add(stats.DecryptedBytes, uint64(len(data)))
			}
		case s.failed:
			s.countEncrypted(len(data), o)
		default:
			s.malformed(fmt.Errorf("%w: application data before ChangeCipherSpec", handshake.ErrMalformedRecord), o)
		}
	}
}

func (s *Session) alert(dir handshake.Direction, data []byte, o *outcome) {
	a, err := handshake.ParseAlert(data)
	if err != nil {
		if !s.failed {
			s.malformed(err, o)
		}
		return
	}

	s.env.Stats.Inc(stats.Alerts)
	s.trace("alert", "dir", dir, "level", a.Level, "description", a.Description)
	if !a.Closes() {
		return
	}
	if a.Level == handshake.AlertLevelFatal {
		o.fail(fmt.Errorf("%w: %s sent description %d", ErrAlertReceived, dir, a.Description))
		s.terminate()
		return
	}
	// close_notify ends one direction; the peer may still have records in
	// flight
	s.closeNotify[dir] = true
	if s.done(dir.Reverse()) {
		s.terminate()
	}
}

func (s *Session) changeCipherSpec(dir handshake.Direction, o *outcome) {
	if s.failed {
		s.encrypted[dir] = true
		return
	}

	ev, err := s.machine.ChangeCipherSpec(dir)
	if err != nil {
		s.malformed(err, o)
		return
	}
	if ev.Has(handshake.EventResumption) {
		s.resumption(o)
	}

	if s.machine.Epoch() > 1 {
		// keys of a renegotiated handshake are never derived
		s.opaque[dir] = true
		s.trace("renegotiated keys active, direction no longer decoded", "dir", dir)
		return
	}

	s.encrypted[dir] = true
	if s.keys == nil || s.failed {
		return
	}
	c, err := s.keys.NewCipher(dir)
	if err != nil {
		o.fail(err)
		s.fail()
		return
	}
	s.readers[dir].Activate(c, s.version)
	if !s.keysActive {
		s.keysActive = true
		s.env.Stats.EncryptedConnStarted()
	}
}

// fail makes the session permanently undecodable.
func (s *Session) fail() {
	s.failed = true
	s.readers = [2]decrypt.RecordDecryptor{}
	s.keys.Wipe()
	s.keys = nil
	s.transcript = nil
}

// malformed records a parse failure and closes the session.
func (s *Session) malformed(err error, o *outcome) {
	s.env.Stats.Inc(stats.DecodeFails)
	s.trace("malformed", "error", err)
	o.fail(err)
	s.fail()
	s.terminate()
}

func (s *Session) terminate() {
	s.closed = true
	s.machine.Close()
}

// memory estimates the bytes the session holds.
func (s *Session) memory() int {
	n := sessionOverhead + len(s.transcript)
	for d := range s.streams {
		n += s.streams[d].Memory() + s.parsers[d].BufferedBytes() + s.assemblers[d].Pending()
	}
	return n
}

// release frees buffers and keys. It reports whether undelivered data was
// discarded.
func (s *Session) release() bool {
	if s.released {
		return false
	}
	s.released = true
	pending := false
	for d := range s.streams {
		if s.streams[d].HeldBytes() > 0 || s.parsers[d].BufferedBytes() > 0 || s.assemblers[d].Pending() > 0 {
			pending = true
		}
		s.streams[d].Reset()
		s.parsers[d].Reset()
		s.assemblers[d].Reset()
	}
	s.readers = [2]decrypt.RecordDecryptor{}
	s.keys.Wipe()
	s.keys = nil
	s.transcript = nil
	s.terminate()
	return pending
}

func (s *Session) trace(msg string, args ...any) {
	l := s.env.tracer()
	if l == nil {
		return
	}
	l.Debug(msg, append([]any{"session", s.id.String(), "flow", s.tuple.String()}, args...)...)
}
