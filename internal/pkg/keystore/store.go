package keystore

import (
	"crypto/rsa"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"
)

type nameKey struct {
	name string
	addr netip.Addr
	port uint16
}

// Store provides thread-safe registration and lookup of server keys.
// Lookups take a read lock only; registration replaces any entry stored
// under the same lookup key.
type Store struct {
	mu     sync.RWMutex
	byAddr map[LookupKey]*Entry
	byName map[nameKey]*Entry
}

// NewStore creates an empty key store.
func NewStore() *Store {
	return &Store{
		byAddr: make(map[LookupKey]*Entry),
		byName: make(map[nameKey]*Entry),
	}
}

// Register decodes material and stores it under lookup.
func (s *Store) Register(lookup LookupKey, material []byte, keyType KeyType, password []byte) error {
	key, err := ParsePrivateKey(material, keyType, password)
	if err != nil {
		return err
	}
	s.Put(lookup, "", key)
	return nil
}

// RegisterNamed decodes material and stores it under name and lookup. Named
// keys are selected by the SNI the client requested.
func (s *Store) RegisterNamed(name string, lookup LookupKey, material []byte, keyType KeyType, password []byte) error {
	name = normalizeName(name)
	if name == "" {
		return fmt.Errorf("%w: empty key name", ErrInvalidLookup)
	}
	key, err := ParsePrivateKey(material, keyType, password)
	if err != nil {
		return err
	}
	s.Put(lookup, name, key)
	return nil
}

// Put stores an already decoded key.
func (s *Store) Put(lookup LookupKey, name string, key *rsa.PrivateKey) {
	entry := &Entry{
		Name:         normalizeName(name),
		Lookup:       lookup,
		Key:          key,
		RegisteredAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Name != "" {
		s.byName[nameKey{name: entry.Name, addr: lookup.Addr, port: lookup.Port}] = entry
		return
	}
	s.byAddr[lookup] = entry
}

// Lookup finds the key for a server. Order: exact address and port, then
// the SNI name on that address or any address, then a wildcard address on
// the port.
func (s *Store) Lookup(addr netip.Addr, port uint16, sni string) (*Entry, error) {
	addr = addr.Unmap()
	name := normalizeName(sni)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.byAddr[LookupKey{Addr: addr, Port: port}]; ok {
		return e, nil
	}
	if name != "" {
		if e, ok := s.byName[nameKey{name: name, addr: addr, port: port}]; ok {
			return e, nil
		}
		if e, ok := s.byName[nameKey{name: name, port: port}]; ok {
			return e, nil
		}
	}
	if e, ok := s.byAddr[LookupKey{Port: port}]; ok {
		return e, nil
	}

	return nil, fmt.Errorf("%w: %s (sni %q)", ErrKeyNotFound, netip.AddrPortFrom(addr, port), sni)
}

// Len returns the number of registered keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAddr) + len(s.byName)
}

// Clear drops every registered key.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAddr = make(map[LookupKey]*Entry)
	s.byName = make(map[nameKey]*Entry)
}

// HasPort reports whether any key is registered for port. The session
// table uses this to tell servers from clients on mid-stream pickup.
func (s *Store) HasPort(port uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k := range s.byAddr {
		if k.Port == port {
			return true
		}
	}
	for k := range s.byName {
		if k.port == port {
			return true
		}
	}
	return false
}

func normalizeName(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}
