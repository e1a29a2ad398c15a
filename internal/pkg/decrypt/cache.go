package decrypt

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/endorses/tlsniff/internal/pkg/memzero"
)

// DefaultResumptionCacheSize bounds each resumption index.
const DefaultResumptionCacheSize = 4096

// ResumptionEntry is the state needed to decode an abbreviated handshake.
type ResumptionEntry struct {
	MasterSecret []byte
	Version      uint16
	Suite        uint16
}

func (e *ResumptionEntry) clone() *ResumptionEntry {
	c := *e
	c.MasterSecret = append([]byte(nil), e.MasterSecret...)
	return &c
}

// ResumptionCache maps session tickets and session ids to master secrets.
// Both indexes are bounded LRUs; evicted secrets are zeroed.
type ResumptionCache struct {
	tickets *lru.Cache[string, *ResumptionEntry]
	ids     *lru.Cache[string, *ResumptionEntry]
}

// NewResumptionCache creates a cache holding up to size entries per index.
func NewResumptionCache(size int) (*ResumptionCache, error) {
	if size <= 0 {
		size = DefaultResumptionCacheSize
	}
	wipe := func(_ string, e *ResumptionEntry) {
		memzero.Zero(e.MasterSecret)
	}

	tickets, err := lru.NewWithEvict(size, wipe)
	if err != nil {
		return nil, err
	}
	ids, err := lru.NewWithEvict(size, wipe)
	if err != nil {
		return nil, err
	}
	return &ResumptionCache{tickets: tickets, ids: ids}, nil
}

// Lookup finds an entry by ticket first, then by session id. The returned
// entry is a copy the caller may keep.
func (c *ResumptionCache) Lookup(ticket, sessionID []byte) (*ResumptionEntry, bool) {
	if len(ticket) > 0 {
		if e, ok := c.tickets.Get(string(ticket)); ok {
			return e.clone(), true
		}
	}
	if len(sessionID) > 0 {
		if e, ok := c.ids.Get(string(sessionID)); ok {
			return e.clone(), true
		}
	}
	return nil, false
}

// Store indexes an entry under a ticket and/or session id. Each index
// holds its own copy of the secret.
func (c *ResumptionCache) Store(ticket, sessionID []byte, e *ResumptionEntry) {
	if len(ticket) > 0 {
		c.tickets.Add(string(ticket), e.clone())
	}
	if len(sessionID) > 0 {
		c.ids.Add(string(sessionID), e.clone())
	}
}

// Len returns the number of indexed tickets and session ids.
func (c *ResumptionCache) Len() int {
	return c.tickets.Len() + c.ids.Len()
}

// Purge drops and wipes every entry.
func (c *ResumptionCache) Purge() {
	c.tickets.Purge()
	c.ids.Purge()
}
