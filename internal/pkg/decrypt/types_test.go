package decrypt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/endorses/tlsniff/internal/pkg/handshake"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		version     uint16
		suite       uint16
		compression uint8
		want        Support
	}{
		{"rsa aes gcm tls1.2", handshake.VersionTLS12, 0x009c, 0, Decodable},
		{"rsa aes cbc tls1.0", handshake.VersionTLS10, 0x002f, 0, Decodable},
		{"rsa rc4 md5 tls1.1", handshake.VersionTLS11, 0x0004, 0, Decodable},
		{"gcm below tls1.2", handshake.VersionTLS11, 0x009c, 0, Unsupported},
		{"sha256 mac below tls1.2", handshake.VersionTLS10, 0x003c, 0, Unsupported},
		{"ssl3", handshake.VersionSSL30, 0x002f, 0, Unsupported},
		{"deflate", handshake.VersionTLS12, 0x002f, 1, Unsupported},
		{"unknown suite", handshake.VersionTLS12, 0x00ff, 0, Unsupported},
		{"static ecdh", handshake.VersionTLS12, 0xc02d, 0, Unsupported},
		{"null suite", handshake.VersionTLS12, 0x0000, 0, Unsupported},
		{"ecdhe rsa gcm", handshake.VersionTLS12, 0xc02f, 0, Ephemeral},
		{"ecdhe ecdsa gcm", handshake.VersionTLS12, 0xc02b, 0, Ephemeral},
		{"ecdhe rsa cbc", handshake.VersionTLS12, 0xc013, 0, Ephemeral},
		{"dhe rsa aes", handshake.VersionTLS12, 0x0033, 0, Ephemeral},
		{"dhe rsa gcm", handshake.VersionTLS12, 0x009e, 0, Ephemeral},
		{"dh anon", handshake.VersionTLS10, 0x0018, 0, Ephemeral},
		{"rsa export", handshake.VersionTLS10, 0x0003, 0, Ephemeral},
		{"chacha", handshake.VersionTLS12, 0xcca8, 0, Ephemeral},
		{"tls1.3 suite", handshake.VersionTLS13, 0x1301, 0, Ephemeral},
		{"tls1.3 any suite", handshake.VersionTLS13, 0x009c, 0, Ephemeral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.version, tt.suite, tt.compression))
		})
	}
}

func TestSuiteName(t *testing.T) {
	assert.Equal(t, "TLS_RSA_WITH_AES_256_GCM_SHA384", SuiteName(0x009d))
	assert.Equal(t, "TLS_RSA_WITH_RC4_128_MD5", SuiteName(0x0004))
	assert.Equal(t, "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", SuiteName(0xc02f))
	assert.Equal(t, "0x1234", SuiteName(0x1234))
}

func TestSuiteMinVersion(t *testing.T) {
	for id, s := range suites {
		assert.Equal(t, id, s.ID)
		switch id {
		case 0x003c, 0x003d, 0x009c, 0x009d:
			assert.Equal(t, handshake.VersionTLS12, s.MinVersion(), s.Name)
		default:
			assert.Equal(t, handshake.VersionTLS10, s.MinVersion(), s.Name)
		}
	}
	_, ok := LookupSuite(0xc02f)
	assert.False(t, ok)
}
