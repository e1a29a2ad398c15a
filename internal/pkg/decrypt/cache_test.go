package decrypt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumptionCacheLookupOrder(t *testing.T) {
	c, err := NewResumptionCache(8)
	require.NoError(t, err)

	byTicket := &ResumptionEntry{MasterSecret: bytes.Repeat([]byte{1}, 48), Version: 0x0303, Suite: 0x009c}
	byID := &ResumptionEntry{MasterSecret: bytes.Repeat([]byte{2}, 48), Version: 0x0303, Suite: 0x002f}
	c.Store([]byte("ticket"), nil, byTicket)
	c.Store(nil, []byte("session-id"), byID)
	assert.Equal(t, 2, c.Len())

	e, ok := c.Lookup([]byte("ticket"), []byte("session-id"))
	require.True(t, ok)
	assert.Equal(t, uint16(0x009c), e.Suite)

	e, ok = c.Lookup([]byte("unknown"), []byte("session-id"))
	require.True(t, ok)
	assert.Equal(t, uint16(0x002f), e.Suite)

	_, ok = c.Lookup(nil, nil)
	assert.False(t, ok)
	_, ok = c.Lookup([]byte("unknown"), []byte("other"))
	assert.False(t, ok)
}

func TestResumptionCacheCopies(t *testing.T) {
	c, err := NewResumptionCache(8)
	require.NoError(t, err)

	secret := bytes.Repeat([]byte{7}, 48)
	c.Store(nil, []byte("id"), &ResumptionEntry{MasterSecret: secret})
	secret[0] = 0

	e, ok := c.Lookup(nil, []byte("id"))
	require.True(t, ok)
	assert.Equal(t, byte(7), e.MasterSecret[0])

	e.MasterSecret[1] = 0
	again, _ := c.Lookup(nil, []byte("id"))
	assert.Equal(t, byte(7), again.MasterSecret[1])
}

func TestResumptionCacheBounded(t *testing.T) {
	c, err := NewResumptionCache(2)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		c.Store(nil, []byte(id), &ResumptionEntry{MasterSecret: []byte(id)})
	}
	assert.Equal(t, 2, c.Len())
	_, ok := c.Lookup(nil, []byte("a"))
	assert.False(t, ok)
	_, ok = c.Lookup(nil, []byte("c"))
	assert.True(t, ok)

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestResumptionCacheDefaultSize(t *testing.T) {
	c, err := NewResumptionCache(0)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		c.Store([]byte{byte(i)}, nil, &ResumptionEntry{})
	}
	assert.Equal(t, 10, c.Len())
}
