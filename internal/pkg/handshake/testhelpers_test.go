package handshake

import (
	"golang.org/x/crypto/cryptobyte"
)

type helloOpts struct {
	version   uint16
	sessionID []byte
	suites    []uint16
	sni       string
	ticket    []byte
	ems       bool
	versions  []uint16
	noExt     bool
}

func buildClientHello(o helloOpts) []byte {
	var b cryptobyte.Builder
	b.AddUint16(o.version)
	b.AddBytes(make([]byte, 32))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(o.sessionID) })
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, s := range o.suites {
			b.AddUint16(s)
		}
	})
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint8(0) })
	if o.noExt {
		return b.BytesOrPanic()
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		if o.sni != "" {
			b.AddUint16(ExtensionServerName)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint8(0)
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte(o.sni)) })
				})
			})
		}
		if o.ticket != nil {
			b.AddUint16(ExtensionSessionTicket)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(o.ticket) })
		}
		if o.ems {
			b.AddUint16(ExtensionExtendedMasterSecret)
			b.AddUint16(0)
		}
		if len(o.versions) > 0 {
			b.AddUint16(ExtensionSupportedVersions)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
					for _, v := range o.versions {
						b.AddUint16(v)
					}
				})
			})
		}
		// unknown extension is skipped
		b.AddUint16(0x1234)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte{1, 2, 3}) })
	})
	return b.BytesOrPanic()
}

func buildServerHello(version, suite uint16, sessionID []byte, ems bool, selected uint16) []byte {
	var b cryptobyte.Builder
	b.AddUint16(version)
	random := make([]byte, 32)
	random[0] = 0x42
	b.AddBytes(random)
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(sessionID) })
	b.AddUint16(suite)
	b.AddUint8(0)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		if ems {
			b.AddUint16(ExtensionExtendedMasterSecret)
			b.AddUint16(0)
		}
		if selected != 0 {
			b.AddUint16(ExtensionSupportedVersions)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint16(selected) })
		}
	})
	return b.BytesOrPanic()
}

func wrapMessage(typ uint8, body []byte) []byte {
	var b cryptobyte.Builder
	b.AddUint8(typ)
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(body) })
	return b.BytesOrPanic()
}

func wrapRecord(ct uint8, version uint16, fragment []byte) []byte {
	var b cryptobyte.Builder
	b.AddUint8(ct)
	b.AddUint16(version)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(fragment) })
	return b.BytesOrPanic()
}
