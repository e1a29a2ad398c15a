package sniffer

import (
	"errors"

	"github.com/endorses/tlsniff/internal/pkg/decrypt"
	"github.com/endorses/tlsniff/internal/pkg/handshake"
	"github.com/endorses/tlsniff/internal/pkg/keystore"
	"github.com/endorses/tlsniff/internal/pkg/session"
)

// Error kinds returned by the sniffer. Kind maps every decode error to one
// of them.
var (
	ErrKeyNotFound            = keystore.ErrKeyNotFound
	ErrKeyLoadFailure         = keystore.ErrKeyLoad
	ErrUnsupportedCipherSuite = decrypt.ErrUnsupportedCipherSuite
	ErrKeyMismatch            = decrypt.ErrKeyMismatch
	ErrMalformedHandshake     = handshake.ErrMalformedHandshake
	ErrMalformedRecord        = handshake.ErrMalformedRecord
	ErrAuthenticationFailure  = decrypt.ErrAuthenticationFailure
	ErrReassemblyGap          = session.ErrReassemblyGap
	ErrResourceExhausted      = session.ErrResourceExhausted
	ErrAlertReceived          = session.ErrAlertReceived
)

var (
	// ErrNotInitialized is returned by entry points called before Init or
	// after Shutdown.
	ErrNotInitialized = errors.New("sniffer not initialized")

	// ErrInvalidConfig indicates rejected configuration.
	ErrInvalidConfig = errors.New("invalid sniffer configuration")

	// ErrInvalidPacket indicates bytes that are not an IPv4 or IPv6 TCP
	// packet.
	ErrInvalidPacket = errors.New("invalid packet")

	// ErrUnknownBuffer indicates a decode buffer that was never issued or
	// was already released.
	ErrUnknownBuffer = errors.New("unknown decode buffer")
)

// kinds maps internal errors to the sentinel they are reported as.
// The first match wins.
var kinds = []struct{ err, kind error }{
	{ErrKeyNotFound, ErrKeyNotFound},
	{decrypt.ErrResumptionMiss, ErrKeyNotFound},
	{ErrKeyLoadFailure, ErrKeyLoadFailure},
	{keystore.ErrInvalidLookup, ErrInvalidConfig},
	{ErrUnsupportedCipherSuite, ErrUnsupportedCipherSuite},
	{ErrKeyMismatch, ErrKeyMismatch},
	{ErrMalformedHandshake, ErrMalformedHandshake},
	{ErrMalformedRecord, ErrMalformedRecord},
	{ErrAuthenticationFailure, ErrAuthenticationFailure},
	{decrypt.ErrDirectionBroken, ErrReassemblyGap},
	{ErrReassemblyGap, ErrReassemblyGap},
	{ErrResourceExhausted, ErrResourceExhausted},
	{ErrAlertReceived, ErrAlertReceived},
	{ErrNotInitialized, ErrNotInitialized},
	{ErrInvalidConfig, ErrInvalidConfig},
	{ErrInvalidPacket, ErrInvalidPacket},
	{ErrUnknownBuffer, ErrUnknownBuffer},
}

// Kind returns the sentinel err is reported as, or nil when err is not a
// sniffer error.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return nil
}
