package sniffer

import (
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/endorses/tlsniff/internal/pkg/session"
)

// SessionInfo describes the TLS session a decoded packet belongs to.
type SessionInfo struct {
	IsValid              bool
	VersionMajor         uint8
	VersionMinor         uint8
	CipherSuite0         uint8
	CipherSuite          uint8
	CipherSuiteName      string
	ServerNameIndication string
	// KeySize is the symmetric key size in bits.
	KeySize int

	SessionID  uuid.UUID
	Client     netip.AddrPort
	Server     netip.AddrPort
	Created    time.Time
	Resumed    bool
	ClientAuth bool
	State      string
}

// Version returns the protocol version as a single value.
func (i SessionInfo) Version() uint16 {
	return uint16(i.VersionMajor)<<8 | uint16(i.VersionMinor)
}

// CipherSuiteID returns the negotiated suite as a single value.
func (i SessionInfo) CipherSuiteID() uint16 {
	return uint16(i.CipherSuite0)<<8 | uint16(i.CipherSuite)
}

func newSessionInfo(in session.Info) SessionInfo {
	return SessionInfo{
		IsValid:              in.Valid,
		VersionMajor:         uint8(in.Version >> 8),
		VersionMinor:         uint8(in.Version),
		CipherSuite0:         uint8(in.CipherSuite >> 8),
		CipherSuite:          uint8(in.CipherSuite),
		CipherSuiteName:      in.CipherSuiteName,
		ServerNameIndication: in.ServerName,
		KeySize:              in.KeySize,
		SessionID:            in.ID,
		Client:               in.Tuple.Client,
		Server:               in.Tuple.Server,
		Created:              in.Created,
		Resumed:              in.Resumed,
		ClientAuth:           in.ClientAuth,
		State:                in.State,
	}
}
