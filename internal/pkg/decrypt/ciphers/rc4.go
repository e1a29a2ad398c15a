package ciphers

import (
	"crypto/rc4"
	"crypto/subtle"
	"fmt"
)

// RC4Stream implements RC4-128 with HMAC. The keystream runs across
// records, so a lost record makes the rest of the direction undecodable.
type RC4Stream struct {
	stream *rc4.Cipher
	mac    recordMAC
}

// NewRC4 creates an RC4 record cipher with a 16-byte key.
func NewRC4(key, macKey []byte, mac MAC) (*RC4Stream, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("%w: expected 16 bytes, got %d", ErrInvalidKeySize, len(key))
	}
	if mac == MACNone || len(macKey) != mac.Size() {
		return nil, fmt.Errorf("%w: expected %d bytes MAC key, got %d", ErrInvalidKeySize, mac.Size(), len(macKey))
	}
	stream, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create RC4 cipher: %w", err)
	}
	return &RC4Stream{stream: stream, mac: newRecordMAC(mac, macKey)}, nil
}

// DecryptRecord implements Cipher. The keystream advances by the fragment
// length whether or not the MAC verifies.
func (c *RC4Stream) DecryptRecord(seq uint64, contentType uint8, version uint16, fragment []byte) ([]byte, error) {
	plaintext := make([]byte, len(fragment))
	c.stream.XORKeyStream(plaintext, fragment)

	if len(plaintext) < c.mac.size {
		return nil, fmt.Errorf("%w: stream record shorter than MAC", ErrInvalidCiphertext)
	}

	end := len(plaintext) - c.mac.size
	content := plaintext[:end]
	expected := c.mac.compute(seq, contentType, version, content)
	if subtle.ConstantTimeCompare(plaintext[end:], expected) != 1 {
		return nil, ErrAuthenticationFailed
	}
	return content, nil
}

// EncryptRecord implements Cipher.
func (c *RC4Stream) EncryptRecord(seq uint64, contentType uint8, version uint16, plaintext []byte) ([]byte, error) {
	body := append(append([]byte(nil), plaintext...), c.mac.compute(seq, contentType, version, plaintext)...)
	out := make([]byte, len(body))
	c.stream.XORKeyStream(out, body)
	return out, nil
}

// Mode implements Cipher.
func (c *RC4Stream) Mode() Mode { return ModeStream }

// KeySize implements Cipher.
func (c *RC4Stream) KeySize() int { return 16 }

// TagSize implements Cipher.
func (c *RC4Stream) TagSize() int { return c.mac.size }

// Stateless implements Cipher.
func (c *RC4Stream) Stateless() bool { return false }
