// Package ciphers implements the record protection of the static RSA
// TLS 1.0-1.2 cipher suites.
//
// Three constructions are covered:
//
//   - AEAD: AES-128-GCM, AES-256-GCM (4-byte salt + 8-byte explicit nonce)
//   - Block: AES-CBC and 3DES-EDE-CBC with HMAC, implicit (TLS 1.0) or
//     explicit (TLS 1.1+) IV
//   - Stream: RC4-128 with HMAC
//
// Usage:
//
//	c, err := ciphers.NewAESGCM(key, salt)
//	if err != nil {
//	    return err
//	}
//	plaintext, err := c.DecryptRecord(seq, contentType, version, fragment)
package ciphers

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"hash"
)

// Errors returned by cipher operations.
var (
	// ErrAuthenticationFailed indicates AEAD tag or HMAC verification failed.
	ErrAuthenticationFailed = errors.New("cipher: authentication failed")

	// ErrInvalidKeySize indicates the key size is wrong for the cipher.
	ErrInvalidKeySize = errors.New("cipher: invalid key size")

	// ErrInvalidIVSize indicates the IV/nonce size is wrong.
	ErrInvalidIVSize = errors.New("cipher: invalid IV size")

	// ErrInvalidCiphertext indicates the fragment cannot be a protected record.
	ErrInvalidCiphertext = errors.New("cipher: invalid ciphertext")

	// ErrInvalidPadding indicates CBC padding verification failed.
	ErrInvalidPadding = errors.New("cipher: invalid padding")
)

// IsAuthError reports whether err means the record failed integrity checks
// rather than being structurally impossible.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, ErrInvalidPadding)
}

// Cipher protects the records of one direction.
type Cipher interface {
	// DecryptRecord verifies and decrypts a record fragment. seq is the
	// record sequence number; contentType and version come from the
	// record header and feed the MAC or additional data.
	DecryptRecord(seq uint64, contentType uint8, version uint16, fragment []byte) ([]byte, error)

	// EncryptRecord produces a fragment DecryptRecord accepts. Used by
	// tests and tools that synthesise traffic.
	EncryptRecord(seq uint64, contentType uint8, version uint16, plaintext []byte) ([]byte, error)

	// Mode returns the construction.
	Mode() Mode

	// KeySize returns the cipher key size in bytes.
	KeySize() int

	// TagSize returns the AEAD tag or MAC size in bytes.
	TagSize() int

	// Stateless reports whether records can be decrypted independently of
	// their predecessors, which makes recovery after lost data possible.
	Stateless() bool
}

// Mode identifies the record protection construction.
type Mode int

const (
	// ModeAEAD is AES-GCM.
	ModeAEAD Mode = iota
	// ModeBlock is a block cipher in CBC mode with HMAC.
	ModeBlock
	// ModeStream is RC4 with HMAC.
	ModeStream
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeAEAD:
		return "AEAD"
	case ModeBlock:
		return "CBC"
	case ModeStream:
		return "Stream"
	default:
		return "Unknown"
	}
}

// MAC identifies the record MAC hash.
type MAC int

const (
	MACNone MAC = iota
	MACMD5
	MACSHA1
	MACSHA256
)

// Size returns the MAC output and key length.
func (m MAC) Size() int {
	switch m {
	case MACMD5:
		return md5.Size
	case MACSHA1:
		return sha1.Size
	case MACSHA256:
		return sha256.Size
	default:
		return 0
	}
}

func (m MAC) newHash() func() hash.Hash {
	switch m {
	case MACMD5:
		return md5.New
	case MACSHA256:
		return sha256.New
	default:
		return sha1.New
	}
}

// recordMAC computes the TLS record MAC:
// HMAC(seq_num(8) + type(1) + version(2) + length(2) + content).
type recordMAC struct {
	mac  hash.Hash
	size int
}

func newRecordMAC(alg MAC, key []byte) recordMAC {
	return recordMAC{mac: hmac.New(alg.newHash(), key), size: alg.Size()}
}

func (r recordMAC) compute(seq uint64, contentType uint8, version uint16, content []byte) []byte {
	var hdr [13]byte
	binary.BigEndian.PutUint64(hdr[:8], seq)
	hdr[8] = contentType
	binary.BigEndian.PutUint16(hdr[9:11], version)
	binary.BigEndian.PutUint16(hdr[11:13], uint16(len(content)))

	r.mac.Reset()
	r.mac.Write(hdr[:])
	r.mac.Write(content)
	return r.mac.Sum(nil)
}

// additionalData builds the TLS 1.2 AEAD additional data.
func additionalData(seq uint64, contentType uint8, version uint16, length int) []byte {
	ad := make([]byte, 13)
	binary.BigEndian.PutUint64(ad[:8], seq)
	ad[8] = contentType
	binary.BigEndian.PutUint16(ad[9:11], version)
	binary.BigEndian.PutUint16(ad[11:13], uint16(length))
	return ad
}
