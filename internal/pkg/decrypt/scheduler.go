package decrypt

import (
	"crypto/rsa"
	"fmt"
	"net/netip"

	"github.com/endorses/tlsniff/internal/pkg/keystore"
	"github.com/endorses/tlsniff/internal/pkg/memzero"
)

const preMasterSecretLen = 48

// FullHandshake carries what a static RSA key exchange needs.
type FullHandshake struct {
	Server             netip.AddrPort
	ServerName         string
	Version            uint16
	Suite              *SuiteInfo
	ClientRandom       []byte
	ServerRandom       []byte
	EncryptedPreMaster []byte
	// SessionHash is the transcript hash through ClientKeyExchange,
	// set when both sides negotiated extended_master_secret.
	SessionHash []byte
}

// Resumption carries what an abbreviated handshake needs.
type Resumption struct {
	Ticket       []byte
	SessionID    []byte
	Version      uint16
	Suite        *SuiteInfo
	ClientRandom []byte
	ServerRandom []byte
}

// Scheduler derives session keys from registered server keys or cached
// master secrets.
type Scheduler struct {
	keys  *keystore.Store
	cache *ResumptionCache
}

// NewScheduler creates a scheduler over a key store and resumption cache.
func NewScheduler(keys *keystore.Store, cache *ResumptionCache) *Scheduler {
	return &Scheduler{keys: keys, cache: cache}
}

// Cache returns the resumption cache.
func (s *Scheduler) Cache() *ResumptionCache {
	return s.cache
}

// DeriveFull recovers the pre-master secret with the server's private key
// and expands it. The returned entry is the key used, for reporting.
func (s *Scheduler) DeriveFull(h FullHandshake) (*SessionKeys, *keystore.Entry, error) {
	entry, err := s.keys.Lookup(h.Server.Addr(), h.Server.Port(), h.ServerName)
	if err != nil {
		return nil, nil, err
	}

	preMaster, err := rsa.DecryptPKCS1v15(nil, entry.Key, h.EncryptedPreMaster)
	if err != nil {
		return nil, entry, fmt.Errorf("%w: %v", ErrKeyMismatch, err)
	}
	defer memzero.Zero(preMaster)

	if len(preMaster) != preMasterSecretLen {
		return nil, entry, fmt.Errorf("%w: pre-master secret is %d bytes", ErrKeyMismatch, len(preMaster))
	}

	var master []byte
	if h.SessionHash != nil {
		master = DeriveExtendedMasterSecret(h.Version, h.Suite, preMaster, h.SessionHash)
	} else {
		master = DeriveMasterSecret(h.Version, h.Suite, preMaster, h.ClientRandom, h.ServerRandom)
	}

	return NewSessionKeys(h.Version, h.Suite, master, h.ClientRandom, h.ServerRandom), entry, nil
}

// Resume looks up the master secret of the session being resumed.
func (s *Scheduler) Resume(r Resumption) (*SessionKeys, error) {
	e, ok := s.cache.Lookup(r.Ticket, r.SessionID)
	if !ok {
		return nil, ErrResumptionMiss
	}
	if e.Suite != r.Suite.ID || e.Version != r.Version {
		memzero.Zero(e.MasterSecret)
		return nil, fmt.Errorf("%w: cached session used suite 0x%04x version 0x%04x", ErrResumptionMiss, e.Suite, e.Version)
	}
	return NewSessionKeys(r.Version, r.Suite, e.MasterSecret, r.ClientRandom, r.ServerRandom), nil
}

// Remember caches a verified session for later resumption.
func (s *Scheduler) Remember(ticket, sessionID []byte, keys *SessionKeys) {
	if keys == nil || (len(ticket) == 0 && len(sessionID) == 0) {
		return
	}
	s.cache.Store(ticket, sessionID, &ResumptionEntry{
		MasterSecret: keys.MasterSecret,
		Version:      keys.Version,
		Suite:        keys.Suite.ID,
	})
}
