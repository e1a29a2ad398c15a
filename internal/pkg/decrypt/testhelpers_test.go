package decrypt

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testCert    tls.Certificate
)

func serverIdentity(t *testing.T) (*rsa.PrivateKey, tls.Certificate) {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(1),
			Subject:      pkix.Name{CommonName: "decrypt.test"},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(time.Hour),
			DNSNames:     []string{"decrypt.test"},
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
		if err != nil {
			panic(err)
		}
		testKey = key
		testCert = tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	})
	return testKey, testCert
}

// recordingConn keeps a copy of everything written through it.
type recordingConn struct {
	net.Conn
	mu      sync.Mutex
	written bytes.Buffer
}

func (c *recordingConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	c.written.Write(b)
	c.mu.Unlock()
	return c.Conn.Write(b)
}

type wireRecord struct {
	contentType uint8
	fragment    []byte
}

// splitRecords cuts a byte stream into records.
func splitRecords(t *testing.T, b []byte) []wireRecord {
	t.Helper()
	var out []wireRecord
	for len(b) > 0 {
		require.GreaterOrEqual(t, len(b), 5)
		n := int(b[3])<<8 | int(b[4])
		require.GreaterOrEqual(t, len(b), 5+n)
		out = append(out, wireRecord{contentType: b[0], fragment: b[5 : 5+n]})
		b = b[5+n:]
	}
	return out
}

type handshakeResult struct {
	state        tls.ConnectionState
	clientRandom []byte
	serverRandom []byte
	master       []byte
	// protected holds the client's records after its ChangeCipherSpec:
	// Finished followed by the application data.
	protected []wireRecord
}

// runHandshake performs a real handshake over an in-memory pipe, sends
// payload from the client and returns the secrets crypto/tls logged.
func runHandshake(t *testing.T, version, suite uint16, payload []byte) handshakeResult {
	t.Helper()
	_, cert := serverIdentity(t)

	var keyLog bytes.Buffer
	clientConf := &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         version,
		MaxVersion:         version,
		CipherSuites:       []uint16{suite},
		KeyLogWriter:       &keyLog,
	}
	serverConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   version,
		MaxVersion:   version,
		CipherSuites: []uint16{suite},
	}

	c, s := net.Pipe()
	rs := &recordingConn{Conn: s}
	rc := &recordingConn{Conn: c}
	defer c.Close()
	defer s.Close()
	client := tls.Client(rc, clientConf)
	server := tls.Server(rs, serverConf)

	errc := make(chan error, 1)
	go func() { errc <- client.Handshake() }()
	require.NoError(t, server.Handshake())
	require.NoError(t, <-errc)

	if len(payload) > 0 {
		go func() {
			_, err := client.Write(payload)
			errc <- err
		}()
		got := make([]byte, len(payload))
		_, err := io.ReadFull(server, got)
		require.NoError(t, err)
		require.NoError(t, <-errc)
	}

	res := handshakeResult{state: client.ConnectionState()}

	sc := bufio.NewScanner(strings.NewReader(keyLog.String()))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) == 3 && f[0] == "CLIENT_RANDOM" {
			var err error
			res.clientRandom, err = hex.DecodeString(f[1])
			require.NoError(t, err)
			res.master, err = hex.DecodeString(f[2])
			require.NoError(t, err)
		}
	}
	require.Len(t, res.master, MasterSecretLen)

	// first server record is the ServerHello: header(5) type(1) length(3)
	// version(2) random(32)
	rs.mu.Lock()
	out := rs.written.Bytes()
	require.GreaterOrEqual(t, len(out), 43)
	require.Equal(t, byte(2), out[5])
	res.serverRandom = append([]byte(nil), out[11:43]...)
	rs.mu.Unlock()

	rc.mu.Lock()
	seenCCS := false
	for _, r := range splitRecords(t, rc.written.Bytes()) {
		if seenCCS {
			res.protected = append(res.protected, wireRecord{r.contentType, append([]byte(nil), r.fragment...)})
		}
		if r.contentType == 20 {
			seenCCS = true
		}
	}
	rc.mu.Unlock()

	return res
}

func mustSuite(t *testing.T, id uint16) *SuiteInfo {
	t.Helper()
	s, ok := LookupSuite(id)
	require.True(t, ok, "suite 0x%04x", id)
	return s
}
