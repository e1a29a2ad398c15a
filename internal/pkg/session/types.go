// Package session tracks TLS connections: one Session per TCP flow runs
// reassembly, handshake parsing, key derivation and record decryption, and
// the Table owns every Session under a bounded-memory recovery policy.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/endorses/tlsniff/internal/pkg/decrypt"
	"github.com/endorses/tlsniff/internal/pkg/reassembly"
	"github.com/endorses/tlsniff/internal/pkg/stats"
)

var (
	// ErrResourceExhausted indicates the table refused a new session.
	ErrResourceExhausted = errors.New("session table full")

	// ErrReassemblyGap indicates lost TCP data made a session or one of
	// its directions undecodable.
	ErrReassemblyGap = errors.New("unrecoverable reassembly gap")

	// ErrAlertReceived indicates a peer sent a fatal alert.
	ErrAlertReceived = errors.New("fatal alert received")
)

// Config configures the session table.
type Config struct {
	// MaxSessions bounds live sessions.
	// Default: 100000
	MaxSessions int

	// SessionTimeout drops sessions idle for longer, in packet time.
	// Default: 5 minutes
	SessionTimeout time.Duration

	// MaintenanceInterval is how often, in packet time, idle and closed
	// sessions are swept.
	// Default: 10 seconds
	MaintenanceInterval time.Duration

	// Recovery enables LRU eviction at MaxSessions and when session
	// memory exceeds MaxMemory.
	Recovery  bool
	MaxMemory int64

	Reassembly reassembly.Config
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxSessions:         100000,
		SessionTimeout:      5 * time.Minute,
		MaintenanceInterval: 10 * time.Second,
		Reassembly:          reassembly.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxSessions <= 0 {
		c.MaxSessions = def.MaxSessions
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = def.SessionTimeout
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = def.MaintenanceInterval
	}
	return c
}

// Env is what sessions share: key derivation, counters, tracing and the
// known server ports used to orient flows picked up mid-stream.
type Env struct {
	Scheduler  *decrypt.Scheduler
	Stats      *stats.Collector
	ServerPort func(port uint16) bool

	trace atomic.Pointer[slog.Logger]
}

// SetTrace replaces the trace logger. nil disables tracing.
func (e *Env) SetTrace(l *slog.Logger) {
	e.trace.Store(l)
}

func (e *Env) tracer() *slog.Logger {
	return e.trace.Load()
}

func (e *Env) isServerPort(port uint16) bool {
	return e.ServerPort != nil && e.ServerPort(port)
}

// Segment is one TCP segment as seen on the wire.
type Segment struct {
	Src, Dst netip.AddrPort
	Seq      uint32
	SYN      bool
	ACK      bool
	FIN      bool
	RST      bool
	Payload  []byte
}

// Tuple identifies a connection by its client and server endpoints.
type Tuple struct {
	Client netip.AddrPort
	Server netip.AddrPort
}

func (t Tuple) String() string {
	return fmt.Sprintf("%s->%s", t.Client, t.Server)
}

// FlowKey is the direction independent index of a flow.
type FlowKey struct {
	lo, hi netip.AddrPort
}

// KeyOf returns the same key for both directions of a flow.
func KeyOf(a, b netip.AddrPort) FlowKey {
	if a.Compare(b) > 0 {
		a, b = b, a
	}
	return FlowKey{lo: a, hi: b}
}

// Info is an immutable snapshot of a session's negotiated parameters.
type Info struct {
	ID              uuid.UUID
	Tuple           Tuple
	Created         time.Time
	Valid           bool
	Version         uint16
	CipherSuite     uint16
	CipherSuiteName string
	ServerName      string
	// KeySize is the symmetric key size in bits.
	KeySize    int
	Resumed    bool
	ClientAuth bool
	State      string
	MissedData int

	ClientBytes uint64
	ServerBytes uint64
}

// Result is the outcome of one dispatched segment.
type Result struct {
	// Data is the plaintext the segment released, in stream order.
	Data []byte
	Info Info
	// Established is set on the segment that completed the first
	// decodable handshake.
	Established bool
	Closed      bool
	// Ignored is set for segments that matched no session and could not
	// start one.
	Ignored bool
}
