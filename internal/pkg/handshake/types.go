// Package handshake frames the TLS record layer and the handshake protocol
// carried in it, and tracks a connection's progress through the handshake.
package handshake

import (
	"errors"
)

// TLS record content types
const (
	ContentTypeChangeCipherSpec uint8 = 20
	ContentTypeAlert            uint8 = 21
	ContentTypeHandshake        uint8 = 22
	ContentTypeApplicationData  uint8 = 23
	ContentTypeHeartbeat        uint8 = 24
)

// Handshake message types
const (
	TypeHelloRequest       uint8 = 0
	TypeClientHello        uint8 = 1
	TypeServerHello        uint8 = 2
	TypeNewSessionTicket   uint8 = 4
	TypeCertificate        uint8 = 11
	TypeServerKeyExchange  uint8 = 12
	TypeCertificateRequest uint8 = 13
	TypeServerHelloDone    uint8 = 14
	TypeCertificateVerify  uint8 = 15
	TypeClientKeyExchange  uint8 = 16
	TypeFinished           uint8 = 20
	TypeCertificateStatus  uint8 = 22
	TypeNextProtocol       uint8 = 67
)

// Protocol versions
const (
	VersionSSL30 uint16 = 0x0300
	VersionTLS10 uint16 = 0x0301
	VersionTLS11 uint16 = 0x0302
	VersionTLS12 uint16 = 0x0303
	VersionTLS13 uint16 = 0x0304
)

// Extension types
const (
	ExtensionServerName           uint16 = 0
	ExtensionExtendedMasterSecret uint16 = 23
	ExtensionSessionTicket        uint16 = 35
	ExtensionSupportedVersions    uint16 = 43
	ExtensionRenegotiationInfo    uint16 = 0xff01
)

// Alert levels and the descriptions the decoder acts on
const (
	AlertLevelWarning uint8 = 1
	AlertLevelFatal   uint8 = 2

	AlertCloseNotify uint8 = 0
)

const (
	// RecordHeaderSize is type(1) + version(2) + length(2).
	RecordHeaderSize = 5

	// MaxRecordSize bounds a record fragment: 2^14 plaintext plus
	// expansion for MAC, padding and explicit IV.
	MaxRecordSize = 16384 + 2048

	// MaxMessageSize bounds a single handshake message.
	MaxMessageSize = 64 * 1024

	messageHeaderSize = 4
)

var (
	// ErrMalformedRecord indicates a record header or fragment that cannot
	// be part of a TLS stream.
	ErrMalformedRecord = errors.New("malformed TLS record")

	// ErrMalformedHandshake indicates a handshake message that fails to
	// parse or arrives out of order.
	ErrMalformedHandshake = errors.New("malformed handshake message")
)

// Direction identifies which peer sent data.
type Direction int

const (
	// DirectionClient is client-to-server traffic.
	DirectionClient Direction = iota
	// DirectionServer is server-to-client traffic.
	DirectionServer
)

// String returns the direction as a string.
func (d Direction) String() string {
	if d == DirectionClient {
		return "client"
	}
	return "server"
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	return 1 - d
}

// VersionName returns a human-readable protocol version name.
func VersionName(version uint16) string {
	switch version {
	case VersionSSL30:
		return "SSL 3.0"
	case VersionTLS10:
		return "TLS 1.0"
	case VersionTLS11:
		return "TLS 1.1"
	case VersionTLS12:
		return "TLS 1.2"
	case VersionTLS13:
		return "TLS 1.3"
	default:
		return "Unknown"
	}
}

// ContentTypeName returns a human-readable content type name.
func ContentTypeName(t uint8) string {
	switch t {
	case ContentTypeChangeCipherSpec:
		return "ChangeCipherSpec"
	case ContentTypeAlert:
		return "Alert"
	case ContentTypeHandshake:
		return "Handshake"
	case ContentTypeApplicationData:
		return "ApplicationData"
	case ContentTypeHeartbeat:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}

// MessageTypeName returns a human-readable handshake message name.
func MessageTypeName(t uint8) string {
	switch t {
	case TypeHelloRequest:
		return "HelloRequest"
	case TypeClientHello:
		return "ClientHello"
	case TypeServerHello:
		return "ServerHello"
	case TypeNewSessionTicket:
		return "NewSessionTicket"
	case TypeCertificate:
		return "Certificate"
	case TypeServerKeyExchange:
		return "ServerKeyExchange"
	case TypeCertificateRequest:
		return "CertificateRequest"
	case TypeServerHelloDone:
		return "ServerHelloDone"
	case TypeCertificateVerify:
		return "CertificateVerify"
	case TypeClientKeyExchange:
		return "ClientKeyExchange"
	case TypeFinished:
		return "Finished"
	case TypeCertificateStatus:
		return "CertificateStatus"
	case TypeNextProtocol:
		return "NextProtocol"
	default:
		return "Unknown"
	}
}
