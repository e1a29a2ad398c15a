package sniffer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/endorses/tlsniff/internal/pkg/memzero"
)

// DecodeBuffer is decrypted data handed to the caller. It stays tracked
// until released with FreeDecodeBuffer or FreeZeroedDecodeBuffer.
type DecodeBuffer struct {
	Handle uuid.UUID
	Data   []byte
	// FromClient is set when Data was sent by the client.
	FromClient bool
}

// Len returns the number of decoded bytes.
func (b *DecodeBuffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// bufferRegistry tracks outstanding decode buffers so each is released
// exactly once.
type bufferRegistry struct {
	mu   sync.Mutex
	live map[uuid.UUID]*DecodeBuffer
}

func newBufferRegistry() *bufferRegistry {
	return &bufferRegistry{live: make(map[uuid.UUID]*DecodeBuffer)}
}

func (r *bufferRegistry) issue(data []byte, fromClient bool) *DecodeBuffer {
	b := &DecodeBuffer{Handle: uuid.New(), Data: data, FromClient: fromClient}
	r.mu.Lock()
	r.live[b.Handle] = b
	r.mu.Unlock()
	return b
}

// take removes b from the registry.
func (r *bufferRegistry) take(b *DecodeBuffer) (*DecodeBuffer, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil buffer", ErrUnknownBuffer)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	owned, ok := r.live[b.Handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBuffer, b.Handle)
	}
	delete(r.live, b.Handle)
	return owned, nil
}

func (r *bufferRegistry) outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// wipeAll zeroes and forgets every outstanding buffer.
func (r *bufferRegistry) wipeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, b := range r.live {
		memzero.Zero(b.Data)
		delete(r.live, h)
	}
}

// FreeDecodeBuffer releases a buffer returned by DecodePacket.
func (s *Sniffer) FreeDecodeBuffer(b *DecodeBuffer) error {
	owned, err := s.buffers.take(b)
	if err != nil {
		return err
	}
	owned.Data = nil
	return nil
}

// FreeZeroedDecodeBuffer zeroes the first size bytes of the buffer and
// releases it. size is clamped to the buffer.
func (s *Sniffer) FreeZeroedDecodeBuffer(b *DecodeBuffer, size int) error {
	owned, err := s.buffers.take(b)
	if err != nil {
		return err
	}
	memzero.Zero(owned.Data[:max(0, min(size, len(owned.Data)))])
	owned.Data = nil
	return nil
}

// OutstandingBuffers returns how many decode buffers await release.
func (s *Sniffer) OutstandingBuffers() int {
	return s.buffers.outstanding()
}
