// Package tlstest drives real crypto/tls conversations over in-memory pipes
// and replays the recorded traffic as TCP segments or IP packets. It exists
// for decoder tests.
package tlstest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"sync"
	"time"
)

// Identity is an RSA key with a self-signed certificate.
type Identity struct {
	Key    *rsa.PrivateKey
	Cert   tls.Certificate
	KeyPEM []byte
	KeyDER []byte
}

var (
	identityMu sync.Mutex
	identities = map[string]*Identity{}
)

// NewIdentity returns the identity for name, generating it on first use.
func NewIdentity(name string) *Identity {
	identityMu.Lock()
	defer identityMu.Unlock()

	if id, ok := identities[name]; ok {
		return id
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(int64(len(identities) + 1)),
		Subject:      pkix.Name{CommonName: name},
		DNSNames:     []string{name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}

	keyDER := x509.MarshalPKCS1PrivateKey(key)
	id := &Identity{
		Key:    key,
		Cert:   tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key},
		KeyDER: keyDER,
		KeyPEM: pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyDER}),
	}
	identities[name] = id
	return id
}

// ServerIdentity is the default server identity.
func ServerIdentity() *Identity {
	return NewIdentity("server.tlsniff.test")
}
