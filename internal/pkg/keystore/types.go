// Package keystore maps server lookup keys (address, port and optional
// virtual host name) to the RSA private keys used to recover pre-master
// secrets from static key exchanges.
package keystore

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// KeyType identifies the encoding of registered key material. The values
// match the FILETYPE_PEM / FILETYPE_DER constants of the classic sniffer API.
type KeyType int

const (
	// KeyTypePEM is PEM-armoured PKCS#1 or PKCS#8, optionally encrypted.
	KeyTypePEM KeyType = 1
	// KeyTypeDER is raw PKCS#1 or PKCS#8 DER.
	KeyTypeDER KeyType = 2
)

// String returns the key type name.
func (t KeyType) String() string {
	switch t {
	case KeyTypePEM:
		return "PEM"
	case KeyTypeDER:
		return "DER"
	default:
		return "unknown"
	}
}

// ParseKeyType converts "pem" / "der" (any case) to a KeyType.
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pem", "":
		return KeyTypePEM, nil
	case "der":
		return KeyTypeDER, nil
	default:
		return 0, fmt.Errorf("%w: unknown key type %q", ErrKeyLoad, s)
	}
}

var (
	// ErrKeyNotFound indicates no key is registered for a server.
	ErrKeyNotFound = errors.New("private key not found")

	// ErrKeyLoad indicates key material could not be decoded, was encrypted
	// with a different password, or is not an RSA key.
	ErrKeyLoad = errors.New("private key load failure")

	// ErrInvalidLookup indicates a malformed lookup key.
	ErrInvalidLookup = errors.New("invalid key lookup")
)

// LookupKey identifies the server endpoint a key is registered for.
// An invalid (zero) Addr is a wildcard matching every address on Port.
type LookupKey struct {
	Addr netip.Addr
	Port uint16
}

// NewLookupKey parses an address string. "", "*", "any", "0.0.0.0" and
// "::" produce a wildcard key.
func NewLookupKey(address string, port int) (LookupKey, error) {
	if port <= 0 || port > 65535 {
		return LookupKey{}, fmt.Errorf("%w: port %d out of range", ErrInvalidLookup, port)
	}

	lk := LookupKey{Port: uint16(port)}
	switch strings.TrimSpace(address) {
	case "", "*", "any", "0.0.0.0", "::":
		return lk, nil
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return LookupKey{}, fmt.Errorf("%w: %v", ErrInvalidLookup, err)
	}
	lk.Addr = addr.Unmap()
	return lk, nil
}

// IsWildcard reports whether the key matches any address.
func (k LookupKey) IsWildcard() bool {
	return !k.Addr.IsValid()
}

// String formats the key as addr:port.
func (k LookupKey) String() string {
	if k.IsWildcard() {
		return fmt.Sprintf("*:%d", k.Port)
	}
	return netip.AddrPortFrom(k.Addr, k.Port).String()
}

// Entry is a registered key. Entries are immutable once stored.
type Entry struct {
	Name         string
	Lookup       LookupKey
	Key          *rsa.PrivateKey
	RegisteredAt time.Time
}

// KeyBits returns the RSA modulus size in bits.
func (e *Entry) KeyBits() int {
	if e == nil || e.Key == nil {
		return 0
	}
	return e.Key.N.BitLen()
}
