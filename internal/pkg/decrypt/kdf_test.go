package decrypt

import (
	"bytes"
	"crypto"
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/tlsniff/internal/pkg/handshake"
)

var liveSuites = []struct {
	name    string
	version uint16
	suite   uint16
}{
	{"TLS1.0 AES128-CBC", tls.VersionTLS10, tls.TLS_RSA_WITH_AES_128_CBC_SHA},
	{"TLS1.0 RC4-SHA", tls.VersionTLS10, tls.TLS_RSA_WITH_RC4_128_SHA},
	{"TLS1.1 AES256-CBC", tls.VersionTLS11, tls.TLS_RSA_WITH_AES_256_CBC_SHA},
	{"TLS1.1 3DES", tls.VersionTLS11, tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA},
	{"TLS1.2 AES128-CBC-SHA256", tls.VersionTLS12, tls.TLS_RSA_WITH_AES_128_CBC_SHA256},
	{"TLS1.2 AES128-GCM", tls.VersionTLS12, tls.TLS_RSA_WITH_AES_128_GCM_SHA256},
	{"TLS1.2 AES256-GCM-SHA384", tls.VersionTLS12, tls.TLS_RSA_WITH_AES_256_GCM_SHA384},
}

func TestPRFMatchesExportedKeyingMaterial(t *testing.T) {
	for _, tc := range liveSuites {
		t.Run(tc.name, func(t *testing.T) {
			res := runHandshake(t, tc.version, tc.suite, nil)
			suite := mustSuite(t, tc.suite)

			want, err := res.state.ExportKeyingMaterial("EXPORTER-tlsniff", nil, 40)
			require.NoError(t, err)

			seed := append(append([]byte(nil), res.clientRandom...), res.serverRandom...)
			got := prf(tc.version, suite, res.master, []byte("EXPORTER-tlsniff"), seed, 40)
			assert.Equal(t, want, got)
		})
	}
}

func TestKeyMaterialDecryptsClientRecords(t *testing.T) {
	payload := []byte("GET /index.html HTTP/1.1\r\nHost: decrypt.test\r\n\r\n")

	for _, tc := range liveSuites {
		t.Run(tc.name, func(t *testing.T) {
			res := runHandshake(t, tc.version, tc.suite, payload)
			suite := mustSuite(t, tc.suite)

			keys := NewSessionKeys(tc.version, suite, res.master, res.clientRandom, res.serverRandom)
			c, err := keys.NewCipher(handshake.DirectionClient)
			require.NoError(t, err)

			require.NotEmpty(t, res.protected)
			var app []byte
			for seq, rec := range res.protected {
				pt, err := c.DecryptRecord(uint64(seq), rec.contentType, tc.version, rec.fragment)
				require.NoError(t, err, "record %d", seq)
				switch rec.contentType {
				case handshake.ContentTypeHandshake:
					require.Equal(t, handshake.TypeFinished, pt[0])
				case handshake.ContentTypeApplicationData:
					app = append(app, pt...)
				}
			}
			assert.Equal(t, payload, app)
		})
	}
}

func TestPRFPrefixStable(t *testing.T) {
	secret := []byte("secret")
	seed := []byte("seed")

	short := PRF12(crypto.SHA256, secret, []byte("label"), seed, 20)
	long := PRF12(crypto.SHA256, secret, []byte("label"), seed, 100)
	assert.Equal(t, short, long[:20])

	short = PRF10(secret, []byte("label"), seed, 7)
	long = PRF10(secret, []byte("label"), seed, 64)
	assert.Equal(t, short, long[:7])

	assert.NotEqual(t, PRF10(secret, []byte("label"), seed, 32), PRF12(crypto.SHA256, secret, []byte("label"), seed, 32))
	assert.NotEqual(t, PRF12(crypto.SHA256, secret, []byte("label"), seed, 32), PRF12(crypto.SHA384, secret, []byte("label"), seed, 32))
}

func TestMasterSecretVariants(t *testing.T) {
	suite := mustSuite(t, 0x009c)
	pms := bytes.Repeat([]byte{0x03}, 48)
	cr := bytes.Repeat([]byte{0x01}, 32)
	sr := bytes.Repeat([]byte{0x02}, 32)

	std := DeriveMasterSecret(handshake.VersionTLS12, suite, pms, cr, sr)
	require.Len(t, std, MasterSecretLen)

	hash := TranscriptHash(handshake.VersionTLS12, suite, []byte("handshake messages"))
	ems := DeriveExtendedMasterSecret(handshake.VersionTLS12, suite, pms, hash)
	require.Len(t, ems, MasterSecretLen)
	assert.NotEqual(t, std, ems)

	// randoms are ordered client then server
	assert.NotEqual(t, std, DeriveMasterSecret(handshake.VersionTLS12, suite, pms, sr, cr))
}

func TestKeyMaterialLayout(t *testing.T) {
	master := bytes.Repeat([]byte{0x0b}, 48)
	cr := bytes.Repeat([]byte{0x01}, 32)
	sr := bytes.Repeat([]byte{0x02}, 32)

	tests := []struct {
		suite          uint16
		mac, key, ivec int
	}{
		{0x0004, 16, 16, 0},
		{0x0005, 20, 16, 0},
		{0x000a, 20, 24, 8},
		{0x002f, 20, 16, 16},
		{0x0035, 20, 32, 16},
		{0x003c, 32, 16, 16},
		{0x003d, 32, 32, 16},
		{0x009c, 0, 16, 4},
		{0x009d, 0, 32, 4},
	}

	for _, tt := range tests {
		t.Run(SuiteName(tt.suite), func(t *testing.T) {
			suite := mustSuite(t, tt.suite)
			km := DeriveKeyMaterial(handshake.VersionTLS12, suite, master, cr, sr)

			assert.Len(t, km.ClientMACKey, tt.mac)
			assert.Len(t, km.ServerMACKey, tt.mac)
			assert.Len(t, km.ClientWriteKey, tt.key)
			assert.Len(t, km.ServerWriteKey, tt.key)
			assert.Len(t, km.ClientWriteIV, tt.ivec)
			assert.Len(t, km.ServerWriteIV, tt.ivec)
			assert.Len(t, km.block, 2*(tt.mac+tt.key+tt.ivec))
			assert.NotEqual(t, km.ClientWriteKey, km.ServerWriteKey)
		})
	}
}

func TestTranscriptHashSize(t *testing.T) {
	msgs := []byte("messages")
	assert.Len(t, TranscriptHash(handshake.VersionTLS10, mustSuite(t, 0x002f), msgs), 36)
	assert.Len(t, TranscriptHash(handshake.VersionTLS11, mustSuite(t, 0x002f), msgs), 36)
	assert.Len(t, TranscriptHash(handshake.VersionTLS12, mustSuite(t, 0x002f), msgs), 32)
	assert.Len(t, TranscriptHash(handshake.VersionTLS12, mustSuite(t, 0x009d), msgs), 48)
}

func TestFinishedVerifyData(t *testing.T) {
	suite := mustSuite(t, 0x002f)
	master := bytes.Repeat([]byte{0x42}, 48)
	transcript := []byte("client hello ... client key exchange")

	keys := &SessionKeys{Version: handshake.VersionTLS12, Suite: suite, MasterSecret: master}
	hash := TranscriptHash(handshake.VersionTLS12, suite, transcript)

	client := FinishedVerifyData(handshake.VersionTLS12, suite, master, handshake.DirectionClient, hash)
	server := FinishedVerifyData(handshake.VersionTLS12, suite, master, handshake.DirectionServer, hash)
	require.Len(t, client, FinishedLen)
	assert.NotEqual(t, client, server)

	assert.NoError(t, keys.VerifyFinished(handshake.DirectionClient, transcript, client))
	assert.ErrorIs(t, keys.VerifyFinished(handshake.DirectionServer, transcript, client), ErrKeyMismatch)
	assert.ErrorIs(t, keys.VerifyFinished(handshake.DirectionClient, append(transcript, 0), client), ErrKeyMismatch)
	assert.ErrorIs(t, keys.VerifyFinished(handshake.DirectionClient, transcript, client[:11]), ErrKeyMismatch)
}
