package decode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/tlsniff/internal/pkg/sniffer"
	"github.com/endorses/tlsniff/internal/pkg/tlstest"
)

func TestParseKeySpec(t *testing.T) {
	tests := []struct {
		in      string
		want    KeySpec
		wantErr bool
	}{
		{in: "10.0.0.1:443=server.pem", want: KeySpec{Address: "10.0.0.1", Port: 443, File: "server.pem"}},
		{in: "10.0.0.1=server.pem,secret", want: KeySpec{Address: "10.0.0.1", Port: 443, File: "server.pem", Password: "secret"}},
		{in: "www.example.com@10.0.0.1:8443=www.pem", want: KeySpec{Name: "www.example.com", Address: "10.0.0.1", Port: 8443, File: "www.pem"}},
		{in: ":443=key.der", want: KeySpec{Port: 443, File: "key.der"}},
		{in: "*:993=imap.pem", want: KeySpec{Address: "*", Port: 993, File: "imap.pem"}},
		{in: "[2001:db8::1]:443=v6.pem", want: KeySpec{Address: "2001:db8::1", Port: 443, File: "v6.pem"}},
		{in: "2001:db8::1=v6.pem", want: KeySpec{Address: "2001:db8::1", Port: 443, File: "v6.pem"}},
		{in: "10.0.0.1:443", wantErr: true},
		{in: "10.0.0.1:443=", wantErr: true},
		{in: "@10.0.0.1=key.pem", wantErr: true},
		{in: "10.0.0.1:https=key.pem", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKeySpec(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeySpecKeyType(t *testing.T) {
	tests := []struct {
		spec    KeySpec
		want    sniffer.KeyType
		wantErr bool
	}{
		{spec: KeySpec{File: "server.pem"}, want: sniffer.KeyTypePEM},
		{spec: KeySpec{File: "server.key"}, want: sniffer.KeyTypePEM},
		{spec: KeySpec{File: "server.DER"}, want: sniffer.KeyTypeDER},
		{spec: KeySpec{File: "server.bin", Type: "der"}, want: sniffer.KeyTypeDER},
		{spec: KeySpec{File: "server.der", Type: "PEM"}, want: sniffer.KeyTypePEM},
		{spec: KeySpec{File: "server.p12", Type: "pkcs12"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec.File+"/"+tt.spec.Type, func(t *testing.T) {
			got, err := tt.spec.KeyType()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeySpecString(t *testing.T) {
	assert.Equal(t, "10.0.0.1:443=a.pem", KeySpec{Address: "10.0.0.1", Port: 443, File: "a.pem"}.String())
	assert.Equal(t, "www@[2001:db8::1]:443=b.pem", KeySpec{Name: "www", Address: "2001:db8::1", Port: 443, File: "b.pem"}.String())
}

func TestLoadKeyManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "keys.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
keys:
  - address: 10.0.0.1
    port: 8443
    file: server.pem
  - name: www.example.com
    address: 10.0.0.1
    file: /etc/keys/www.der
    type: der
    password: secret
`), 0o600))

	specs, err := LoadKeyManifest(manifest)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, KeySpec{Address: "10.0.0.1", Port: 8443, File: filepath.Join(dir, "server.pem")}, specs[0])
	assert.Equal(t, KeySpec{
		Name:     "www.example.com",
		Address:  "10.0.0.1",
		Port:     443,
		File:     "/etc/keys/www.der",
		Type:     "der",
		Password: "secret",
	}, specs[1])
}

func TestLoadKeyManifest_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadKeyManifest(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("keys: [\n"), 0o600))
	_, err = LoadKeyManifest(bad)
	assert.ErrorContains(t, err, "invalid key manifest")

	noFile := filepath.Join(dir, "nofile.yaml")
	require.NoError(t, os.WriteFile(noFile, []byte("keys:\n  - address: 10.0.0.1\n"), 0o600))
	_, err = LoadKeyManifest(noFile)
	assert.ErrorContains(t, err, "entry 0 has no file")
}

func TestKeySpecRegister(t *testing.T) {
	dir := t.TempDir()
	pemPath := filepath.Join(dir, "server.pem")
	derPath := filepath.Join(dir, "server.der")
	require.NoError(t, os.WriteFile(pemPath, tlstest.ServerIdentity().KeyPEM, 0o600))
	require.NoError(t, os.WriteFile(derPath, tlstest.ServerIdentity().KeyDER, 0o600))

	s, err := sniffer.New(sniffer.DefaultConfig())
	require.NoError(t, err)
	defer s.Shutdown()

	assert.NoError(t, KeySpec{Address: "10.0.0.1", Port: 443, File: pemPath}.Register(s))
	assert.NoError(t, KeySpec{Port: 8443, File: derPath}.Register(s))
	assert.NoError(t, KeySpec{Name: "www.example.com", Address: "10.0.0.1", Port: 443, File: pemPath}.Register(s))

	err = KeySpec{Address: "10.0.0.1", Port: 443, File: filepath.Join(dir, "missing.pem")}.Register(s)
	assert.ErrorIs(t, err, sniffer.ErrKeyLoadFailure)

	err = KeySpec{Address: "10.0.0.1", Port: 443, File: pemPath, Type: "der"}.Register(s)
	assert.ErrorIs(t, err, sniffer.ErrKeyLoadFailure)

	err = KeySpec{Address: "10.0.0.1", Port: 443, File: pemPath, Type: "jks"}.Register(s)
	assert.ErrorContains(t, err, "unknown key type")
}
