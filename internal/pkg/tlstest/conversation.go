package tlstest

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"encoding/hex"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Flight is the bytes one side wrote before the other side wrote again.
type Flight struct {
	FromClient bool
	Data       []byte
}

// Conversation is the recorded wire traffic of one connection.
type Conversation struct {
	Flights      []Flight
	ClientRandom []byte
	MasterSecret []byte
	State        tls.ConnectionState
}

// Exchange is one request and optional response after the handshake.
type Exchange struct {
	Request  []byte
	Response []byte
}

// Pair holds the client and server configuration of repeated
// conversations. Reusing a Pair lets later conversations resume sessions.
type Pair struct {
	Client *tls.Config
	Server *tls.Config

	serverClose bool
}

// NewPair returns configurations pinned to one version and the given
// suites, served by ServerIdentity.
func NewPair(version uint16, suites ...uint16) *Pair {
	return &Pair{
		Client: &tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         version,
			MaxVersion:         version,
			CipherSuites:       suites,
			ServerName:         "server.tlsniff.test",
		},
		Server: &tls.Config{
			Certificates: []tls.Certificate{ServerIdentity().Cert},
			MinVersion:   version,
			MaxVersion:   version,
			CipherSuites: suites,
		},
	}
}

// WithResumption enables client side session tickets.
func (p *Pair) WithResumption() *Pair {
	p.Client.ClientSessionCache = tls.NewLRUClientSessionCache(8)
	return p
}

// WithClientAuth makes the server request, and the client send, a
// certificate.
func (p *Pair) WithClientAuth() *Pair {
	p.Server.ClientAuth = tls.RequireAnyClientCert
	p.Client.Certificates = []tls.Certificate{NewIdentity("client.tlsniff.test").Cert}
	return p
}

// WithServerCloseNotify makes the server answer the client's close_notify
// with its own.
func (p *Pair) WithServerCloseNotify() *Pair {
	p.serverClose = true
	return p
}

type recorder struct {
	mu      sync.Mutex
	flights []Flight
}

func (r *recorder) add(fromClient bool, b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.flights); n > 0 && r.flights[n-1].FromClient == fromClient {
		r.flights[n-1].Data = append(r.flights[n-1].Data, b...)
		return
	}
	r.flights = append(r.flights, Flight{FromClient: fromClient, Data: append([]byte(nil), b...)})
}

type recordingConn struct {
	net.Conn
	rec        *recorder
	fromClient bool
}

func (c *recordingConn) Write(b []byte) (int, error) {
	c.rec.add(c.fromClient, b)
	return c.Conn.Write(b)
}

// Converse runs a handshake, the exchanges and a client close_notify, and
// returns everything that crossed the wire. Writes are recorded before
// they reach the pipe, so the server's close_notify is captured even
// though the client has already gone.
func (p *Pair) Converse(t testing.TB, exchanges ...Exchange) *Conversation {
	t.Helper()

	var keyLog bytes.Buffer
	clientConf := p.Client.Clone()
	clientConf.KeyLogWriter = &keyLog

	rec := &recorder{}
	c, s := net.Pipe()
	defer c.Close()
	defer s.Close()
	client := tls.Client(&recordingConn{Conn: c, rec: rec, fromClient: true}, clientConf)
	server := tls.Server(&recordingConn{Conn: s, rec: rec}, p.Server)

	errc := make(chan error, 1)
	go func() { errc <- client.Handshake() }()
	if err := server.Handshake(); err != nil {
		c.Close()
		<-errc
		require.NoError(t, err)
	}
	require.NoError(t, <-errc)

	for _, ex := range exchanges {
		if len(ex.Request) > 0 {
			go func() {
				_, err := client.Write(ex.Request)
				errc <- err
			}()
			buf := make([]byte, len(ex.Request))
			_, err := io.ReadFull(server, buf)
			require.NoError(t, err)
			require.NoError(t, <-errc)
		}
		if len(ex.Response) > 0 {
			go func() {
				_, err := server.Write(ex.Response)
				errc <- err
			}()
			buf := make([]byte, len(ex.Response))
			_, err := io.ReadFull(client, buf)
			require.NoError(t, err)
			require.NoError(t, <-errc)
		}
	}

	go func() { errc <- client.Close() }()
	_, err := server.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, <-errc)
	if p.serverClose {
		_ = server.Close()
	}

	conv := &Conversation{State: client.ConnectionState()}
	sc := bufio.NewScanner(strings.NewReader(keyLog.String()))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) == 3 && f[0] == "CLIENT_RANDOM" {
			conv.ClientRandom, _ = hex.DecodeString(f[1])
			conv.MasterSecret, _ = hex.DecodeString(f[2])
		}
	}

	rec.mu.Lock()
	conv.Flights = rec.flights
	rec.mu.Unlock()
	return conv
}

// Stream returns the concatenated bytes one side sent.
func (c *Conversation) Stream(fromClient bool) []byte {
	var out []byte
	for _, f := range c.Flights {
		if f.FromClient == fromClient {
			out = append(out, f.Data...)
		}
	}
	return out
}
