package handshake

import (
	"fmt"
)

// Message is one handshake message. Raw holds header and body as they
// appear in the transcript; Body aliases Raw.
type Message struct {
	Type uint8
	Raw  []byte
	Body []byte
}

// MessageAssembler rebuilds handshake messages from the plaintext of
// handshake records. Messages may span records and records may carry
// several messages.
type MessageAssembler struct {
	buffer []byte
}

// Add appends a handshake record fragment and returns each completed
// message in order.
func (a *MessageAssembler) Add(fragment []byte) ([]Message, error) {
	a.buffer = append(a.buffer, fragment...)

	var msgs []Message
	for len(a.buffer) >= messageHeaderSize {
		length := int(a.buffer[1])<<16 | int(a.buffer[2])<<8 | int(a.buffer[3])
		if length > MaxMessageSize {
			typ := a.buffer[0]
			a.buffer = nil
			return msgs, fmt.Errorf("%w: %s length %d exceeds %d",
				ErrMalformedHandshake, MessageTypeName(typ), length, MaxMessageSize)
		}
		total := messageHeaderSize + length
		if len(a.buffer) < total {
			break
		}

		raw := make([]byte, total)
		copy(raw, a.buffer[:total])
		msgs = append(msgs, Message{Type: raw[0], Raw: raw, Body: raw[messageHeaderSize:]})
		a.buffer = a.buffer[total:]
	}

	if len(a.buffer) == 0 {
		a.buffer = nil
	}
	return msgs, nil
}

// Pending returns the bytes of an incomplete message.
func (a *MessageAssembler) Pending() int {
	return len(a.buffer)
}

// Reset drops any partial message.
func (a *MessageAssembler) Reset() {
	a.buffer = nil
}
