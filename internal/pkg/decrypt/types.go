// Package decrypt recovers TLS session keys from static RSA key exchanges
// and decrypts the record layer of both directions.
//
// This package implements:
// - the cipher suite registry and ephemeral / unsupported classification
// - the TLS 1.0/1.1 (MD5/SHA-1) and TLS 1.2 (SHA-256/SHA-384) PRFs
// - master secret and extended master secret derivation
// - Finished verification
// - a bounded resumption cache keyed by ticket and session id
// - per-direction record decryption with recovery after lost data
package decrypt

import (
	"crypto"
	"crypto/tls"
	"errors"

	"github.com/endorses/tlsniff/internal/pkg/decrypt/ciphers"
	"github.com/endorses/tlsniff/internal/pkg/handshake"
)

// Errors
var (
	// ErrUnsupportedCipherSuite indicates a suite, version or compression
	// method the decoder cannot handle.
	ErrUnsupportedCipherSuite = errors.New("unsupported cipher suite")

	// ErrEphemeralKeyExchange indicates a forward-secret key exchange.
	ErrEphemeralKeyExchange = errors.New("ephemeral key exchange")

	// ErrKeyMismatch indicates the registered key did not decrypt the
	// pre-master secret, or the derived keys failed Finished verification.
	ErrKeyMismatch = errors.New("private key does not match session")

	// ErrResumptionMiss indicates no cached master secret for a resumed
	// session.
	ErrResumptionMiss = errors.New("resumption cache miss")

	// ErrAuthenticationFailure indicates a record failed integrity checks.
	ErrAuthenticationFailure = errors.New("record authentication failure")

	// ErrNoKeys indicates no decryption keys are available for a direction.
	ErrNoKeys = errors.New("no decryption keys available")
)

// BulkCipher identifies a suite's record protection.
type BulkCipher int

const (
	CipherAESGCM BulkCipher = iota
	CipherAESCBC
	Cipher3DESCBC
	CipherRC4
)

// SuiteInfo describes a decodable cipher suite.
type SuiteInfo struct {
	ID     uint16
	Name   string
	Cipher BulkCipher
	// KeyLen, IVLen and MAC partition the key block.
	KeyLen int
	IVLen  int
	MAC    ciphers.MAC
	// PRFHash is the TLS 1.2 PRF and Finished hash.
	PRFHash crypto.Hash
}

// IsAEAD reports whether the suite uses an AEAD cipher.
func (s *SuiteInfo) IsAEAD() bool {
	return s.Cipher == CipherAESGCM
}

// MinVersion returns the lowest protocol version defining the suite.
func (s *SuiteInfo) MinVersion() uint16 {
	if s.IsAEAD() || s.MAC == ciphers.MACSHA256 {
		return handshake.VersionTLS12
	}
	return handshake.VersionTLS10
}

// Static RSA key transport suites that can be decoded.
var suites = map[uint16]*SuiteInfo{
	0x0004: {ID: 0x0004, Name: "TLS_RSA_WITH_RC4_128_MD5", Cipher: CipherRC4, KeyLen: 16, MAC: ciphers.MACMD5, PRFHash: crypto.SHA256},
	0x0005: {ID: 0x0005, Name: "TLS_RSA_WITH_RC4_128_SHA", Cipher: CipherRC4, KeyLen: 16, MAC: ciphers.MACSHA1, PRFHash: crypto.SHA256},
	0x000a: {ID: 0x000a, Name: "TLS_RSA_WITH_3DES_EDE_CBC_SHA", Cipher: Cipher3DESCBC, KeyLen: 24, IVLen: 8, MAC: ciphers.MACSHA1, PRFHash: crypto.SHA256},
	0x002f: {ID: 0x002f, Name: "TLS_RSA_WITH_AES_128_CBC_SHA", Cipher: CipherAESCBC, KeyLen: 16, IVLen: 16, MAC: ciphers.MACSHA1, PRFHash: crypto.SHA256},
	0x0035: {ID: 0x0035, Name: "TLS_RSA_WITH_AES_256_CBC_SHA", Cipher: CipherAESCBC, KeyLen: 32, IVLen: 16, MAC: ciphers.MACSHA1, PRFHash: crypto.SHA256},
	0x003c: {ID: 0x003c, Name: "TLS_RSA_WITH_AES_128_CBC_SHA256", Cipher: CipherAESCBC, KeyLen: 16, IVLen: 16, MAC: ciphers.MACSHA256, PRFHash: crypto.SHA256},
	0x003d: {ID: 0x003d, Name: "TLS_RSA_WITH_AES_256_CBC_SHA256", Cipher: CipherAESCBC, KeyLen: 32, IVLen: 16, MAC: ciphers.MACSHA256, PRFHash: crypto.SHA256},
	0x009c: {ID: 0x009c, Name: "TLS_RSA_WITH_AES_128_GCM_SHA256", Cipher: CipherAESGCM, KeyLen: 16, IVLen: 4, PRFHash: crypto.SHA256},
	0x009d: {ID: 0x009d, Name: "TLS_RSA_WITH_AES_256_GCM_SHA384", Cipher: CipherAESGCM, KeyLen: 32, IVLen: 4, PRFHash: crypto.SHA384},
}

// LookupSuite returns the decodable suite with id.
func LookupSuite(id uint16) (*SuiteInfo, bool) {
	s, ok := suites[id]
	return s, ok
}

// SuiteName returns the IANA name of any suite, decodable or not.
func SuiteName(id uint16) string {
	if s, ok := suites[id]; ok {
		return s.Name
	}
	return tls.CipherSuiteName(id)
}

// Support is the decoder's verdict on a negotiated connection.
type Support int

const (
	Decodable Support = iota
	Ephemeral
	Unsupported
)

func (s Support) String() string {
	switch s {
	case Decodable:
		return "decodable"
	case Ephemeral:
		return "ephemeral"
	default:
		return "unsupported"
	}
}

// Classify decides whether a ServerHello's parameters can be decoded.
func Classify(version, suite uint16, compression uint8) Support {
	if version >= handshake.VersionTLS13 || isEphemeral(suite) {
		return Ephemeral
	}
	if version < handshake.VersionTLS10 || compression != 0 {
		return Unsupported
	}
	info, ok := suites[suite]
	if !ok || version < info.MinVersion() {
		return Unsupported
	}
	return Decodable
}

// isEphemeral reports (EC)DHE, anonymous DH, RSA_EXPORT and TLS 1.3
// suites.
func isEphemeral(id uint16) bool {
	switch id {
	case 0x0003, 0x0006, 0x0008, 0x0062, 0x0064:
		return true // RSA_EXPORT: temporary RSA key in ServerKeyExchange
	case 0x0032, 0x0033, 0x0034, 0x0038, 0x0039, 0x003a,
		0x0040, 0x0044, 0x0045, 0x0046,
		0x0067, 0x006a, 0x006b, 0x006c, 0x006d,
		0x0087, 0x0088, 0x0089,
		0x009e, 0x009f, 0x00a2, 0x00a3, 0x00a6, 0x00a7,
		0xcca8, 0xcca9, 0xccaa, 0xccac, 0xccad:
		return true
	}

	switch {
	case id >= 0x0011 && id <= 0x001b:
		return true // DHE_DSS, DHE_RSA, DH_anon
	case id >= 0x1301 && id <= 0x1305:
		return true
	case id >= 0xc006 && id <= 0xc00a, id >= 0xc010 && id <= 0xc019:
		return true
	case id >= 0xc023 && id <= 0xc030:
		// ECDHE and static ECDH alternate in pairs
		return (id-0xc023)%4 < 2
	}
	return false
}
