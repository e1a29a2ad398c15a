package session

import (
	"container/list"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/endorses/tlsniff/internal/pkg/stats"
)

// TableStats describes the table's occupancy.
type TableStats struct {
	Active           int    `yaml:"active"`
	Total            uint64 `yaml:"total"`
	Peak             int    `yaml:"peak"`
	MaxSessions      int    `yaml:"max_sessions"`
	MissedData       uint64 `yaml:"missed_data"`
	ReassemblyMemory int64  `yaml:"reassembly_memory"`
	Evictions        uint64 `yaml:"evictions"`
}

type entry struct {
	key FlowKey
	s   *Session
	mem int

	// a tombstone is a closed session kept so late segments of its flow
	// are counted against it instead of starting a new one
	tomb     bool
	closedAt time.Time
}

// victim is a session removed from the index whose buffers still need
// releasing outside the table lock.
type victim struct {
	s       *Session
	evicted bool
	idle    bool
}

// Table owns every live session. The index and both lists are guarded by
// mu, which is never held while a session decodes.
type Table struct {
	env *Env

	mu       sync.Mutex
	cfg      Config
	sessions map[FlowKey]*list.Element // element of lru or tombs
	lru      *list.List                // front is most recently used
	tombs    *list.List                // front was closed first

	memory          int64
	total           uint64
	peak            int
	lastMaintenance time.Time
}

// NewTable creates an empty table.
func NewTable(cfg Config, env *Env) *Table {
	return &Table{
		env:      env,
		cfg:      cfg.withDefaults(),
		sessions: make(map[FlowKey]*list.Element),
		lru:      list.New(),
		tombs:    list.New(),
	}
}

// SetRecovery toggles LRU eviction. maxMemory bounds the bytes all
// sessions may hold and must be positive when recovery is enabled.
func (t *Table) SetRecovery(enabled bool, maxMemory int64) error {
	if enabled && maxMemory <= 0 {
		return fmt.Errorf("recovery memory budget must be positive, got %d", maxMemory)
	}
	t.mu.Lock()
	t.cfg.Recovery = enabled
	t.cfg.MaxMemory = maxMemory
	t.mu.Unlock()
	return nil
}

// Dispatch routes one segment to its session, creating the session when
// the segment can start one.
func (t *Table) Dispatch(seg Segment, now time.Time) (Result, error) {
	key := KeyOf(seg.Src, seg.Dst)

	t.mu.Lock()
	victims := t.maintainLocked(now)

	var s *Session
	if el, ok := t.sessions[key]; ok {
		e := el.Value.(*entry)
		switch {
		case !e.tomb:
			s = e.s
			t.lru.MoveToFront(el)
		case seg.SYN && !seg.ACK:
			// the client reused the port
			t.forgetLocked(el)
		default:
			s = e.s
		}
	}
	if s == nil {
		if !seg.SYN && len(seg.Payload) == 0 {
			t.mu.Unlock()
			t.release(victims)
			return Result{Ignored: true}, nil
		}
		if t.lru.Len() >= t.cfg.MaxSessions {
			if !t.cfg.Recovery {
				t.mu.Unlock()
				t.release(victims)
				return Result{}, fmt.Errorf("%w: %d live sessions", ErrResourceExhausted, t.cfg.MaxSessions)
			}
			if v, ok := t.evictOldestLocked(nil); ok {
				victims = append(victims, v)
			}
		}
		s = newSession(orient(seg, t.env), t.env, t.cfg.Reassembly, now)
		t.sessions[key] = t.lru.PushFront(&entry{key: key, s: s})
		t.total++
		if n := t.lru.Len(); n > t.peak {
			t.peak = n
		}
		s.trace("session created")
	}
	t.mu.Unlock()
	t.release(victims)

	s.mu.Lock()
	res, err := s.Process(seg, now)
	closed := s.closed
	if closed {
		s.release()
	}
	mem := s.memory()
	s.mu.Unlock()
	if s.retired.Load() {
		t.reclaim(s)
	}

	t.mu.Lock()
	victims = victims[:0]
	var current *list.Element
	if el, ok := t.sessions[key]; ok && el.Value.(*entry).s == s {
		e := el.Value.(*entry)
		switch {
		case e.tomb:
		case closed:
			t.buryLocked(el, now)
		default:
			t.memory += int64(mem - e.mem)
			e.mem = mem
			current = el
		}
	}
	if t.cfg.Recovery && t.cfg.MaxMemory > 0 {
		for t.memory > t.cfg.MaxMemory {
			v, ok := t.evictOldestLocked(current)
			if !ok {
				break
			}
			victims = append(victims, v)
		}
	}
	t.mu.Unlock()
	t.release(victims)

	return res, err
}

// orient decides which endpoint of a new flow is the client.
func orient(seg Segment, env *Env) Tuple {
	src, dst := seg.Src, seg.Dst
	switch {
	case seg.SYN && !seg.ACK:
		return Tuple{Client: src, Server: dst}
	case seg.SYN:
		return Tuple{Client: dst, Server: src}
	case env.isServerPort(dst.Port()):
		return Tuple{Client: src, Server: dst}
	case env.isServerPort(src.Port()):
		return Tuple{Client: dst, Server: src}
	case src.Port() < dst.Port():
		return Tuple{Client: dst, Server: src}
	default:
		return Tuple{Client: src, Server: dst}
	}
}

// maintainLocked forgets expired tombstones and sweeps idle sessions at
// most once per maintenance interval of packet time.
func (t *Table) maintainLocked(now time.Time) []victim {
	if !t.lastMaintenance.IsZero() && now.Sub(t.lastMaintenance) < t.cfg.MaintenanceInterval {
		return nil
	}
	t.lastMaintenance = now

	for el := t.tombs.Front(); el != nil; el = t.tombs.Front() {
		if now.Sub(el.Value.(*entry).closedAt) < t.cfg.MaintenanceInterval {
			break
		}
		t.forgetLocked(el)
	}

	// the back of the list was used least recently; the first session
	// still in its timeout ends the sweep
	var victims []victim
	for el := t.lru.Back(); el != nil; el = t.lru.Back() {
		if now.Sub(el.Value.(*entry).s.LastActive()) <= t.cfg.SessionTimeout {
			break
		}
		v := t.removeLocked(el, false)
		v.idle = true
		victims = append(victims, v)
	}
	return victims
}

// evictOldestLocked removes the least recently used session other than
// keep.
func (t *Table) evictOldestLocked(keep *list.Element) (victim, bool) {
	for el := t.lru.Back(); el != nil; el = el.Prev() {
		if el == keep {
			continue
		}
		return t.removeLocked(el, true), true
	}
	return victim{}, false
}

func (t *Table) removeLocked(el *list.Element, evicted bool) victim {
	e := el.Value.(*entry)
	t.lru.Remove(el)
	delete(t.sessions, e.key)
	t.memory -= int64(e.mem)
	if evicted {
		t.env.Stats.Inc(stats.Evictions)
	}
	return victim{s: e.s, evicted: evicted}
}

// buryLocked turns a live session into a tombstone. The oldest tombstones
// are forgotten once there are more than MaxSessions.
func (t *Table) buryLocked(el *list.Element, at time.Time) {
	e := el.Value.(*entry)
	t.lru.Remove(el)
	t.memory -= int64(e.mem)
	e.mem = 0
	e.tomb = true
	e.closedAt = at
	t.sessions[e.key] = t.tombs.PushBack(e)
	for t.tombs.Len() > t.cfg.MaxSessions {
		t.forgetLocked(t.tombs.Front())
	}
}

func (t *Table) forgetLocked(el *list.Element) {
	e := el.Value.(*entry)
	t.tombs.Remove(el)
	if cur, ok := t.sessions[e.key]; ok && cur == el {
		delete(t.sessions, e.key)
	}
}

// release frees the buffers of removed sessions. A session busy in
// another dispatch is marked retired and reclaimed when that dispatch
// finishes. Evicted or idle sessions that still held undelivered data
// count as missed data.
func (t *Table) release(victims []victim) {
	for _, v := range victims {
		switch {
		case v.evicted:
			v.s.discarded.Store(true)
			v.s.trace("session evicted")
		case v.idle:
			v.s.discarded.Store(true)
			v.s.trace("session idle")
		}
		v.s.retired.Store(true)
		t.reclaim(v.s)
	}
}

func (t *Table) reclaim(s *Session) {
	if !s.mu.TryLock() {
		return
	}
	pending := s.release()
	s.mu.Unlock()
	if pending && s.discarded.Load() {
		t.env.Stats.Inc(stats.MissedData)
	}
}

// Lookup returns the live session of the flow between a and b.
func (t *Table) Lookup(a, b netip.AddrPort) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, ok := t.sessions[KeyOf(a, b)]
	if !ok || el.Value.(*entry).tomb {
		return nil, false
	}
	return el.Value.(*entry).s, true
}

// Close terminates the flow between a and b. It reports whether a live
// session was found. Later segments of the flow are counted against the
// closed session until a new SYN or the next maintenance pass.
func (t *Table) Close(a, b netip.AddrPort) bool {
	t.mu.Lock()
	el, ok := t.sessions[KeyOf(a, b)]
	if !ok || el.Value.(*entry).tomb {
		t.mu.Unlock()
		return false
	}
	s := el.Value.(*entry).s
	t.buryLocked(el, s.LastActive())
	t.mu.Unlock()

	t.release([]victim{{s: s}})
	return true
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}

// Stats returns occupancy figures.
func (t *Table) Stats() TableStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TableStats{
		Active:           t.lru.Len(),
		Total:            t.total,
		Peak:             t.peak,
		MaxSessions:      t.cfg.MaxSessions,
		MissedData:       t.env.Stats.Get(stats.MissedData),
		ReassemblyMemory: t.memory,
		Evictions:        t.env.Stats.Get(stats.Evictions),
	}
}

// Clear removes every session and releases its buffers.
func (t *Table) Clear() {
	t.mu.Lock()
	victims := make([]victim, 0, t.lru.Len()+t.tombs.Len())
	for _, l := range []*list.List{t.lru, t.tombs} {
		for el := l.Front(); el != nil; el = el.Next() {
			victims = append(victims, victim{s: el.Value.(*entry).s})
		}
	}
	t.sessions = make(map[FlowKey]*list.Element)
	t.lru.Init()
	t.tombs.Init()
	t.memory = 0
	t.mu.Unlock()

	t.release(victims)
}
