package handshake

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/crypto/cryptobyte"
)

// helloRetryRequestRandom is the fixed ServerHello.random of a TLS 1.3
// HelloRetryRequest.
var helloRetryRequestRandom = []byte{
	0xCF, 0x21, 0xAD, 0x74, 0xE5, 0x9A, 0x61, 0x11,
	0xBE, 0x1D, 0x8C, 0x02, 0x1E, 0x65, 0xB8, 0x91,
	0xC2, 0xA2, 0x11, 0x16, 0x7A, 0xBB, 0x8C, 0x5E,
	0x07, 0x9E, 0x09, 0xE2, 0xC8, 0xA8, 0x33, 0x9C,
}

// ClientHello holds the fields the decoder needs from a ClientHello.
type ClientHello struct {
	Version            uint16
	Random             [32]byte
	SessionID          []byte
	CipherSuites       []uint16
	CompressionMethods []uint8
	ServerName         string
	// SessionTicket is non-nil when the extension was sent; an empty
	// ticket only advertises support.
	SessionTicket        []byte
	ExtendedMasterSecret bool
	SupportedVersions    []uint16
}

// OffersTicket reports whether the client presented a ticket to resume.
func (ch *ClientHello) OffersTicket() bool {
	return len(ch.SessionTicket) > 0
}

// ServerHello holds the fields the decoder needs from a ServerHello.
type ServerHello struct {
	Version              uint16
	Random               [32]byte
	SessionID            []byte
	CipherSuite          uint16
	CompressionMethod    uint8
	ExtendedMasterSecret bool
	TicketSupported      bool
	// SelectedVersion is the supported_versions extension value, zero if
	// absent.
	SelectedVersion uint16
}

// NegotiatedVersion returns the effective protocol version.
func (sh *ServerHello) NegotiatedVersion() uint16 {
	if sh.SelectedVersion != 0 {
		return sh.SelectedVersion
	}
	return sh.Version
}

// IsHelloRetryRequest reports whether the message is a TLS 1.3 HRR.
func (sh *ServerHello) IsHelloRetryRequest() bool {
	return bytes.Equal(sh.Random[:], helloRetryRequestRandom)
}

func readUint8LengthPrefixed(s *cryptobyte.String, out *[]byte) bool {
	return s.ReadUint8LengthPrefixed((*cryptobyte.String)(out))
}

func readUint16LengthPrefixed(s *cryptobyte.String, out *[]byte) bool {
	return s.ReadUint16LengthPrefixed((*cryptobyte.String)(out))
}

func malformed(what string) error {
	return fmt.Errorf("%w: %s", ErrMalformedHandshake, what)
}

// ParseClientHello parses a ClientHello body (without the 4-byte header).
func ParseClientHello(body []byte) (*ClientHello, error) {
	s := cryptobyte.String(body)
	ch := &ClientHello{}

	var sessionID []byte
	if !s.ReadUint16(&ch.Version) || !s.CopyBytes(ch.Random[:]) ||
		!readUint8LengthPrefixed(&s, &sessionID) {
		return nil, malformed("ClientHello header")
	}
	if len(sessionID) > 32 {
		return nil, malformed("ClientHello session id too long")
	}
	ch.SessionID = bytes.Clone(sessionID)

	var suites cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&suites) || len(suites)%2 != 0 || suites.Empty() {
		return nil, malformed("ClientHello cipher suites")
	}
	for !suites.Empty() {
		var id uint16
		suites.ReadUint16(&id)
		ch.CipherSuites = append(ch.CipherSuites, id)
	}

	var compression []byte
	if !readUint8LengthPrefixed(&s, &compression) || len(compression) == 0 {
		return nil, malformed("ClientHello compression methods")
	}
	ch.CompressionMethods = bytes.Clone(compression)

	if s.Empty() {
		return ch, nil
	}

	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) || !s.Empty() {
		return nil, malformed("ClientHello extensions")
	}

	for !exts.Empty() {
		var typ uint16
		var data cryptobyte.String
		if !exts.ReadUint16(&typ) || !exts.ReadUint16LengthPrefixed(&data) {
			return nil, malformed("ClientHello extension framing")
		}

		switch typ {
		case ExtensionServerName:
			name, err := parseServerName(data)
			if err != nil {
				return nil, err
			}
			ch.ServerName = name
		case ExtensionSessionTicket:
			ch.SessionTicket = bytes.Clone([]byte(data))
			if ch.SessionTicket == nil {
				ch.SessionTicket = []byte{}
			}
		case ExtensionExtendedMasterSecret:
			if !data.Empty() {
				return nil, malformed("extended_master_secret not empty")
			}
			ch.ExtendedMasterSecret = true
		case ExtensionSupportedVersions:
			var list cryptobyte.String
			if !data.ReadUint8LengthPrefixed(&list) || len(list)%2 != 0 || !data.Empty() {
				return nil, malformed("ClientHello supported_versions")
			}
			for !list.Empty() {
				var v uint16
				list.ReadUint16(&v)
				ch.SupportedVersions = append(ch.SupportedVersions, v)
			}
		}
	}

	return ch, nil
}

func parseServerName(data cryptobyte.String) (string, error) {
	var list cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&list) || !data.Empty() || list.Empty() {
		return "", malformed("server_name list")
	}
	for !list.Empty() {
		var nameType uint8
		var host []byte
		if !list.ReadUint8(&nameType) || !readUint16LengthPrefixed(&list, &host) {
			return "", malformed("server_name entry")
		}
		if nameType != 0 {
			continue
		}
		return strings.TrimSuffix(string(host), "."), nil
	}
	return "", nil
}

// ParseServerHello parses a ServerHello body (without the 4-byte header).
func ParseServerHello(body []byte) (*ServerHello, error) {
	s := cryptobyte.String(body)
	sh := &ServerHello{}

	var sessionID []byte
	if !s.ReadUint16(&sh.Version) || !s.CopyBytes(sh.Random[:]) ||
		!readUint8LengthPrefixed(&s, &sessionID) ||
		!s.ReadUint16(&sh.CipherSuite) || !s.ReadUint8(&sh.CompressionMethod) {
		return nil, malformed("ServerHello header")
	}
	if len(sessionID) > 32 {
		return nil, malformed("ServerHello session id too long")
	}
	sh.SessionID = bytes.Clone(sessionID)

	if s.Empty() {
		return sh, nil
	}

	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) || !s.Empty() {
		return nil, malformed("ServerHello extensions")
	}

	for !exts.Empty() {
		var typ uint16
		var data cryptobyte.String
		if !exts.ReadUint16(&typ) || !exts.ReadUint16LengthPrefixed(&data) {
			return nil, malformed("ServerHello extension framing")
		}

		switch typ {
		case ExtensionExtendedMasterSecret:
			sh.ExtendedMasterSecret = true
		case ExtensionSessionTicket:
			sh.TicketSupported = true
		case ExtensionSupportedVersions:
			if !data.ReadUint16(&sh.SelectedVersion) || !data.Empty() {
				return nil, malformed("ServerHello supported_versions")
			}
		}
	}

	return sh, nil
}
