package sslsniffer

import (
	"math"

	"github.com/endorses/tlsniff/internal/pkg/sniffer"
	"github.com/endorses/tlsniff/internal/pkg/stats"
)

// Key file encodings accepted by SetPrivateKey.
const (
	FiletypePEM = 1
	FiletypeDER = 2
)

const (
	CipherSuiteNameSize      = 256
	ServerNameIndicationSize = 128
)

// SSLInfo is the fixed-size session description filled by
// DecodePacketWithSessionInfo and passed to the connection callback.
type SSLInfo struct {
	IsValid               uint8
	ProtocolVersionMajor  uint8
	ProtocolVersionMinor  uint8
	ServerCipherSuite0    uint8
	ServerCipherSuite     uint8
	ServerCipherSuiteName [CipherSuiteNameSize]byte
	ServerNameIndication  [ServerNameIndicationSize]byte
	KeySize               uint32
}

// CipherSuiteName returns ServerCipherSuiteName up to its NUL.
func (i *SSLInfo) CipherSuiteName() string { return cString(i.ServerCipherSuiteName[:]) }

// SNI returns ServerNameIndication up to its NUL.
func (i *SSLInfo) SNI() string { return cString(i.ServerNameIndication[:]) }

func (i *SSLInfo) fill(in sniffer.SessionInfo) {
	*i = SSLInfo{
		ProtocolVersionMajor: in.VersionMajor,
		ProtocolVersionMinor: in.VersionMinor,
		ServerCipherSuite0:   in.CipherSuite0,
		ServerCipherSuite:    in.CipherSuite,
		KeySize:              clamp32(uint64(max(in.KeySize, 0))),
	}
	if in.IsValid {
		i.IsValid = 1
	}
	putCString(i.ServerCipherSuiteName[:], in.CipherSuiteName)
	putCString(i.ServerNameIndication[:], in.ServerNameIndication)
}

// SSLStats is the fixed-width counter block filled by ReadStatistics.
// Counters saturate at the maximum uint32.
type SSLStats struct {
	SSLStandardConns                 uint32
	SSLRehandshakeConns              uint32
	SSLClientAuthConns               uint32
	SSLResumedConns                  uint32
	SSLResumedRehandshakeConns       uint32
	SSLClientAuthRehandshakeConns    uint32
	SSLEphemeralMisses               uint32
	SSLResumeMisses                  uint32
	SSLCiphersUnsupported            uint32
	SSLKeysUnmatched                 uint32
	SSLKeyFails                      uint32
	SSLDecodeFails                   uint32
	SSLAlerts                        uint32
	SSLDecryptedBytes                uint32
	SSLEncryptedBytes                uint32
	SSLEncryptedPackets              uint32
	SSLDecryptedPackets              uint32
	SSLEncryptedConnsPerSecond       uint32
	SSLKeyMatches                    uint32
	SSLActiveEncryptedConnsPerSecond uint32
	SSLActiveFlowsPerSecond          uint32
}

func newSSLStats(s stats.Snapshot) SSLStats {
	return SSLStats{
		SSLStandardConns:                 clamp32(s.StandardConns),
		SSLRehandshakeConns:              clamp32(s.RehandshakeConns),
		SSLClientAuthConns:               clamp32(s.ClientAuthConns),
		SSLResumedConns:                  clamp32(s.ResumedConns),
		SSLResumedRehandshakeConns:       clamp32(s.ResumedRehandshakeConns),
		SSLClientAuthRehandshakeConns:    clamp32(s.ClientAuthRehandshakeConns),
		SSLEphemeralMisses:               clamp32(s.EphemeralMisses),
		SSLResumeMisses:                  clamp32(s.ResumeMisses),
		SSLCiphersUnsupported:            clamp32(s.CiphersUnsupported),
		SSLKeysUnmatched:                 clamp32(s.KeysUnmatched),
		SSLKeyFails:                      clamp32(s.KeyFails),
		SSLDecodeFails:                   clamp32(s.DecodeFails),
		SSLAlerts:                        clamp32(s.Alerts),
		SSLDecryptedBytes:                clamp32(s.DecryptedBytes),
		SSLEncryptedBytes:                clamp32(s.EncryptedBytes),
		SSLEncryptedPackets:              clamp32(s.EncryptedPackets),
		SSLDecryptedPackets:              clamp32(s.DecryptedPackets),
		SSLEncryptedConnsPerSecond:       clamp32(s.EncryptedConnsPerSecond),
		SSLKeyMatches:                    clamp32(s.KeyMatches),
		SSLActiveEncryptedConnsPerSecond: clamp32(s.ActiveEncryptedConnsPerSecond),
		SSLActiveFlowsPerSecond:          clamp32(s.ActiveFlowsPerSecond),
	}
}

func clamp32(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
