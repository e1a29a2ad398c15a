package ciphers

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

const (
	gcmSaltSize     = 4
	gcmExplicitSize = 8
)

// AESGCM implements AES-GCM for TLS 1.2.
//
// TLS 1.2 GCM structure:
// - Nonce: 4-byte implicit salt (from the key block) + 8-byte explicit nonce (from record)
// - Fragment: explicit nonce + encrypted data + 16-byte authentication tag
// - AAD: seq_num (8) + content_type (1) + version (2) + plaintext_length (2)
type AESGCM struct {
	aead    cipher.AEAD
	salt    [gcmSaltSize]byte
	keySize int
}

// NewAESGCM creates an AES-GCM record cipher. key must be 16 or 32 bytes,
// salt is the 4-byte implicit IV from the key block.
func NewAESGCM(key, salt []byte) (*AESGCM, error) {
	if len(key) != 16 && len(key) != 32 {
		return nil, fmt.Errorf("%w: expected 16 or 32 bytes, got %d", ErrInvalidKeySize, len(key))
	}
	if len(salt) != gcmSaltSize {
		return nil, fmt.Errorf("%w: expected %d bytes implicit IV, got %d", ErrInvalidIVSize, gcmSaltSize, len(salt))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	g := &AESGCM{aead: aead, keySize: len(key)}
	copy(g.salt[:], salt)
	return g, nil
}

func (g *AESGCM) nonce(explicit []byte) []byte {
	n := make([]byte, gcmSaltSize+gcmExplicitSize)
	copy(n, g.salt[:])
	copy(n[gcmSaltSize:], explicit)
	return n
}

// DecryptRecord implements Cipher.
func (g *AESGCM) DecryptRecord(seq uint64, contentType uint8, version uint16, fragment []byte) ([]byte, error) {
	if len(fragment) < gcmExplicitSize+g.aead.Overhead() {
		return nil, fmt.Errorf("%w: GCM fragment too short (%d bytes)", ErrInvalidCiphertext, len(fragment))
	}

	explicit := fragment[:gcmExplicitSize]
	ciphertext := fragment[gcmExplicitSize:]
	ad := additionalData(seq, contentType, version, len(ciphertext)-g.aead.Overhead())

	plaintext, err := g.aead.Open(nil, g.nonce(explicit), ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

// EncryptRecord implements Cipher. The explicit nonce is the sequence
// number, as most implementations choose.
func (g *AESGCM) EncryptRecord(seq uint64, contentType uint8, version uint16, plaintext []byte) ([]byte, error) {
	explicit := make([]byte, gcmExplicitSize)
	binary.BigEndian.PutUint64(explicit, seq)

	ad := additionalData(seq, contentType, version, len(plaintext))
	return g.aead.Seal(explicit, g.nonce(explicit), plaintext, ad), nil
}

// Mode implements Cipher.
func (g *AESGCM) Mode() Mode { return ModeAEAD }

// KeySize implements Cipher.
func (g *AESGCM) KeySize() int { return g.keySize }

// TagSize implements Cipher.
func (g *AESGCM) TagSize() int { return g.aead.Overhead() }

// Stateless implements Cipher.
func (g *AESGCM) Stateless() bool { return true }
