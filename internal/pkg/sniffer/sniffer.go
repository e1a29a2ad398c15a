// Package sniffer is the entry point of the passive TLS decoder. A Sniffer
// owns the registered server keys, the session table and the statistics,
// and turns captured packets into decrypted application data.
package sniffer

import (
	"fmt"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/endorses/tlsniff/internal/pkg/decrypt"
	"github.com/endorses/tlsniff/internal/pkg/keystore"
	"github.com/endorses/tlsniff/internal/pkg/logger"
	"github.com/endorses/tlsniff/internal/pkg/session"
	"github.com/endorses/tlsniff/internal/pkg/stats"
)

// KeyType selects the encoding of registered key material.
type KeyType = keystore.KeyType

const (
	KeyTypePEM = keystore.KeyTypePEM
	KeyTypeDER = keystore.KeyTypeDER
)

// state is everything Init creates and Shutdown tears down.
type state struct {
	cfg   Config
	keys  *keystore.Store
	cache *decrypt.ResumptionCache
	stats *stats.Collector
	env   *session.Env
	table *session.Table
	trace *traceSink
}

// Sniffer decodes TLS sessions from captured packets. All methods are safe
// for concurrent use; packets of one flow must be passed in capture order.
type Sniffer struct {
	mu sync.RWMutex
	st *state

	buffers   *bufferRegistry
	callbacks dispatcher
}

// New returns an initialized Sniffer.
func New(cfg Config) (*Sniffer, error) {
	s := &Sniffer{buffers: newBufferRegistry()}
	if err := s.Init(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Init creates empty key, session and statistics state. Calling Init on an
// initialized Sniffer shuts the previous state down first.
func (s *Sniffer) Init(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	cache, err := decrypt.NewResumptionCache(cfg.ResumptionCacheSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	st := &state{
		cfg:   cfg,
		keys:  keystore.NewStore(),
		cache: cache,
		stats: stats.New(),
	}
	st.env = &session.Env{
		Scheduler:  decrypt.NewScheduler(st.keys, cache),
		Stats:      st.stats,
		ServerPort: st.keys.HasPort,
	}
	st.table = session.NewTable(cfg.sessionConfig(), st.env)
	if cfg.TraceOutput != "" {
		sink, err := openTrace(cfg.TraceOutput)
		if err != nil {
			return err
		}
		st.trace = sink
		st.env.SetTrace(sink.logger)
	}

	s.mu.Lock()
	if s.buffers == nil {
		s.buffers = newBufferRegistry()
	}
	old := s.st
	s.st = st
	s.mu.Unlock()

	if old != nil {
		old.close()
	}
	logger.Debug("Sniffer initialized",
		"max_sessions", cfg.MaxSessions,
		"recovery", cfg.Recovery,
		"max_memory", cfg.MaxMemory)
	return nil
}

// Shutdown releases every session, key, cached secret and outstanding
// decode buffer. The Sniffer can be initialized again afterwards.
func (s *Sniffer) Shutdown() {
	s.mu.Lock()
	old := s.st
	s.st = nil
	s.mu.Unlock()

	if old != nil {
		old.close()
	}
	if s.buffers != nil {
		s.buffers.wipeAll()
	}
}

func (st *state) close() {
	st.table.Clear()
	st.keys.Clear()
	st.cache.Purge()
	st.env.SetTrace(nil)
	if st.trace != nil {
		st.trace.Close()
	}
}

// current returns the live state or ErrNotInitialized.
func (s *Sniffer) current() (*state, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return nil, ErrNotInitialized
	}
	return s.st, nil
}

func lookupKey(address string, port int) (keystore.LookupKey, error) {
	lk, err := keystore.NewLookupKey(address, port)
	if err != nil {
		return keystore.LookupKey{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return lk, nil
}

// RegisterKey registers the private key of the server at address:port.
// An empty or unspecified address matches every address on the port.
// Registering the same address and port again replaces the key.
func (s *Sniffer) RegisterKey(address string, port int, material []byte, keyType KeyType, password string) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	lk, err := lookupKey(address, port)
	if err != nil {
		return err
	}
	if err := st.keys.Register(lk, material, keyType, passwordBytes(password)); err != nil {
		return err
	}
	logger.Info("Registered server key", "server", lk.String(), "type", keyType.String())
	return nil
}

// RegisterNamedKey registers a key selected by the SNI host name the client
// requests from address:port.
func (s *Sniffer) RegisterNamedKey(name, address string, port int, material []byte, keyType KeyType, password string) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	lk, err := lookupKey(address, port)
	if err != nil {
		return err
	}
	if err := st.keys.RegisterNamed(name, lk, material, keyType, passwordBytes(password)); err != nil {
		return err
	}
	logger.Info("Registered named server key", "name", name, "server", lk.String(), "type", keyType.String())
	return nil
}

// RegisterKeyFile reads key material from path and registers it like
// RegisterKey.
func (s *Sniffer) RegisterKeyFile(address string, port int, path string, keyType KeyType, password string) error {
	material, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyLoadFailure, err)
	}
	return s.RegisterKey(address, port, material, keyType, password)
}

func passwordBytes(password string) []byte {
	if password == "" {
		return nil
	}
	return []byte(password)
}

// SetRecovery enables or disables LRU eviction under a session memory
// budget. The budget must be positive when recovery is enabled.
func (s *Sniffer) SetRecovery(enabled bool, maxMemory int64) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	if err := st.table.SetRecovery(enabled, maxMemory); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	logger.Info("Session recovery configured", "enabled", enabled, "max_memory", maxMemory)
	return nil
}

// SessionStats returns session table occupancy.
func (s *Sniffer) SessionStats() (session.TableStats, error) {
	st, err := s.current()
	if err != nil {
		return session.TableStats{}, err
	}
	return st.table.Stats(), nil
}

// ReadStatistics returns a snapshot of every decode counter.
func (s *Sniffer) ReadStatistics() (stats.Snapshot, error) {
	st, err := s.current()
	if err != nil {
		return stats.Snapshot{}, err
	}
	return st.stats.Snapshot(), nil
}

// ResetStatistics zeroes every decode counter. Sessions are unaffected.
func (s *Sniffer) ResetStatistics() error {
	st, err := s.current()
	if err != nil {
		return err
	}
	st.stats.Reset()
	return nil
}

// CloseSession terminates the flow between client and server and releases
// its buffers. It reports whether the flow was tracked.
func (s *Sniffer) CloseSession(client, server netip.AddrPort) (bool, error) {
	st, err := s.current()
	if err != nil {
		return false, err
	}
	return st.table.Close(client, server), nil
}

// DecodePacket decodes one raw IPv4 or IPv6 packet captured at ts. It
// returns the plaintext the packet completed, or nil when there is none.
// A non-nil buffer must be released with FreeDecodeBuffer or
// FreeZeroedDecodeBuffer. Data may be returned together with an error
// about a later record of the same packet.
func (s *Sniffer) DecodePacket(packet []byte, ts time.Time) (*DecodeBuffer, error) {
	return s.DecodePacketWithSessionInfo(packet, ts, nil)
}

// DecodePacketWithSessionInfo is DecodePacket that also fills info with
// the packet's session when the packet belongs to one.
func (s *Sniffer) DecodePacketWithSessionInfo(packet []byte, ts time.Time, info *SessionInfo) (*DecodeBuffer, error) {
	seg, err := parsePacket(packet)
	if err != nil {
		return nil, err
	}
	return s.decode(seg, ts, info)
}

func (s *Sniffer) decode(seg session.Segment, ts time.Time, info *SessionInfo) (*DecodeBuffer, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}

	res, err := st.table.Dispatch(seg, ts)
	if res.Ignored {
		return nil, err
	}

	si := newSessionInfo(res.Info)
	if info != nil && res.Info.ID != uuid.Nil {
		*info = si
	}
	if res.Established {
		s.callbacks.notify(si)
	}

	var buf *DecodeBuffer
	if len(res.Data) > 0 {
		buf = s.buffers.issue(res.Data, seg.Src == res.Info.Tuple.Client)
	}
	return buf, err
}
