// Package sslsniffer is a process-wide, status-code API over the TLS
// sniffer for callers that want a fixed calling convention: every entry
// point returns an int status, reports failures into a caller-supplied
// ErrorBuffer and exchanges fixed-size SSLInfo and SSLStats values.
//
// InitSniffer must be called before any other function and FreeSniffer
// releases everything again.
package sslsniffer

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/endorses/tlsniff/internal/pkg/logger"
	"github.com/endorses/tlsniff/internal/pkg/sniffer"
)

// ConnCallback is invoked once for every session whose handshake completed
// with usable keys.
type ConnCallback func(session uuid.UUID, info *SSLInfo, ctx any)

var (
	mu      sync.RWMutex
	std     *sniffer.Sniffer
	connCb  ConnCallback
	connCtx any

	// issued maps the first byte of each handed out data slice to the
	// buffer that owns it.
	bufMu  sync.Mutex
	issued = map[*byte]*sniffer.DecodeBuffer{}
)

// InitSniffer establishes the process-wide state with the default
// configuration. Calling it again discards all keys and sessions.
func InitSniffer() {
	if code := InitWithConfig(sniffer.DefaultConfig(), nil); code != StatusOK {
		logger.Error("Failed to initialize sniffer", "status", code)
	}
}

// InitWithConfig is InitSniffer with an explicit configuration.
func InitWithConfig(cfg sniffer.Config, errBuf *ErrorBuffer) int {
	errBuf.clear()
	mu.Lock()
	defer mu.Unlock()

	if std != nil {
		forgetBuffers()
		return errBuf.report(std.Init(cfg))
	}
	s, err := sniffer.New(cfg)
	if err != nil {
		return errBuf.report(err)
	}
	s.SetHandler(sniffer.HandlerFunc(notify))
	std = s
	return StatusOK
}

// FreeSniffer releases every session, key and outstanding decode buffer.
func FreeSniffer() {
	mu.RLock()
	s := std
	mu.RUnlock()
	if s == nil {
		return
	}
	s.Shutdown()
	forgetBuffers()
}

func instance() (*sniffer.Sniffer, error) {
	mu.RLock()
	defer mu.RUnlock()
	if std == nil {
		return nil, sniffer.ErrNotInitialized
	}
	return std, nil
}

func notify(info sniffer.SessionInfo) {
	mu.RLock()
	cb, ctx := connCb, connCtx
	mu.RUnlock()
	if cb == nil {
		return
	}
	var out SSLInfo
	out.fill(info)
	cb(info.SessionID, &out, ctx)
}

// SetConnectionCb registers the connection callback. nil removes it.
func SetConnectionCb(cb ConnCallback) int {
	mu.Lock()
	connCb = cb
	mu.Unlock()
	return StatusOK
}

// SetConnectionCtx sets the value passed to the connection callback.
func SetConnectionCtx(ctx any) int {
	mu.Lock()
	connCtx = ctx
	mu.Unlock()
	return StatusOK
}

// SetPrivateKey loads the key file of the server at address:port. typeK is
// FiletypePEM or FiletypeDER and password decrypts an encrypted PEM key.
func SetPrivateKey(address string, port int, keyFile string, typeK int, password string, errBuf *ErrorBuffer) int {
	errBuf.clear()
	s, err := instance()
	if err != nil {
		return errBuf.report(err)
	}
	return errBuf.report(s.RegisterKeyFile(address, port, keyFile, sniffer.KeyType(typeK), password))
}

// SetNamedPrivateKey loads the key used when clients of address:port ask
// for the host name in the SNI extension.
func SetNamedPrivateKey(name, address string, port int, keyFile string, typeK int, password string, errBuf *ErrorBuffer) int {
	errBuf.clear()
	s, err := instance()
	if err != nil {
		return errBuf.report(err)
	}
	material, err := readKeyFile(keyFile)
	if err != nil {
		return errBuf.report(err)
	}
	return errBuf.report(s.RegisterNamedKey(name, address, port, material, sniffer.KeyType(typeK), password))
}

// SetPrivateKeyBuffer is SetPrivateKey with the key material in memory.
func SetPrivateKeyBuffer(address string, port int, key []byte, typeK int, password string, errBuf *ErrorBuffer) int {
	errBuf.clear()
	s, err := instance()
	if err != nil {
		return errBuf.report(err)
	}
	return errBuf.report(s.RegisterKey(address, port, key, sniffer.KeyType(typeK), password))
}

// SetNamedPrivateKeyBuffer is SetNamedPrivateKey with the key material in
// memory.
func SetNamedPrivateKeyBuffer(name, address string, port int, key []byte, typeK int, password string, errBuf *ErrorBuffer) int {
	errBuf.clear()
	s, err := instance()
	if err != nil {
		return errBuf.report(err)
	}
	return errBuf.report(s.RegisterNamedKey(name, address, port, key, sniffer.KeyType(typeK), password))
}

func readKeyFile(path string) ([]byte, error) {
	material, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sniffer.ErrKeyLoadFailure, err)
	}
	return material, nil
}

// DecodePacket decodes one raw IP packet. It returns the number of decoded
// bytes stored in *data, or a negative status. A non-empty *data must be
// released with FreeDecodeBuffer or FreeZeroDecodeBuffer. When the packet
// completed data and also failed later, the count is returned and the
// failure is still written to errBuf.
func DecodePacket(packet []byte, data *[]byte, errBuf *ErrorBuffer) int {
	return DecodePacketWithSessionInfo(packet, data, nil, errBuf)
}

// DecodePacketWithSessionInfo is DecodePacket that also fills info when the
// packet belongs to a session.
func DecodePacketWithSessionInfo(packet []byte, data *[]byte, info *SSLInfo, errBuf *ErrorBuffer) int {
	errBuf.clear()
	if info != nil {
		*info = SSLInfo{}
	}
	if data == nil {
		return errBuf.report(fmt.Errorf("%w: nil data pointer", sniffer.ErrInvalidConfig))
	}
	*data = nil

	s, err := instance()
	if err != nil {
		return errBuf.report(err)
	}

	var si sniffer.SessionInfo
	buf, err := s.DecodePacketWithSessionInfo(packet, time.Now(), &si)
	if info != nil && si.SessionID != uuid.Nil {
		info.fill(si)
	}
	if buf == nil {
		return errBuf.report(err)
	}

	bufMu.Lock()
	issued[&buf.Data[0]] = buf
	bufMu.Unlock()
	*data = buf.Data
	errBuf.report(err)
	return len(buf.Data)
}

// take detaches the buffer backing *data.
func take(data *[]byte) (*sniffer.DecodeBuffer, error) {
	if data == nil || len(*data) == 0 {
		return nil, fmt.Errorf("%w: empty data", sniffer.ErrUnknownBuffer)
	}
	bufMu.Lock()
	defer bufMu.Unlock()
	key := &(*data)[0]
	buf, ok := issued[key]
	if !ok {
		return nil, fmt.Errorf("%w: not issued by DecodePacket", sniffer.ErrUnknownBuffer)
	}
	delete(issued, key)
	return buf, nil
}

func forgetBuffers() {
	bufMu.Lock()
	clear(issued)
	bufMu.Unlock()
}

// FreeDecodeBuffer releases *data and sets it to nil.
func FreeDecodeBuffer(data *[]byte, errBuf *ErrorBuffer) int {
	errBuf.clear()
	s, err := instance()
	if err != nil {
		return errBuf.report(err)
	}
	buf, err := take(data)
	if err != nil {
		return errBuf.report(err)
	}
	*data = nil
	return errBuf.report(s.FreeDecodeBuffer(buf))
}

// FreeZeroDecodeBuffer zeroes the first sz bytes of *data, releases it and
// sets it to nil.
func FreeZeroDecodeBuffer(data *[]byte, sz int, errBuf *ErrorBuffer) int {
	errBuf.clear()
	s, err := instance()
	if err != nil {
		return errBuf.report(err)
	}
	buf, err := take(data)
	if err != nil {
		return errBuf.report(err)
	}
	*data = nil
	return errBuf.report(s.FreeZeroedDecodeBuffer(buf, sz))
}

// Trace writes per-session diagnostics to traceFile. "" disables tracing
// and "-" writes to stderr.
func Trace(traceFile string, errBuf *ErrorBuffer) int {
	errBuf.clear()
	s, err := instance()
	if err != nil {
		return errBuf.report(err)
	}
	return errBuf.report(s.SetTraceOutput(traceFile))
}

// EnableRecovery turns LRU session eviction on (onOff != 0) with a session
// memory budget of maxMemory bytes, or off.
func EnableRecovery(onOff int, maxMemory int, errBuf *ErrorBuffer) int {
	errBuf.clear()
	s, err := instance()
	if err != nil {
		return errBuf.report(err)
	}
	return errBuf.report(s.SetRecovery(onOff != 0, int64(maxMemory)))
}

// GetSessionStats reports session table occupancy. nil outputs are skipped.
func GetSessionStats(active, total, peak, maxSessions, missedData, reassemblyMemory *uint32, errBuf *ErrorBuffer) int {
	errBuf.clear()
	s, err := instance()
	if err != nil {
		return errBuf.report(err)
	}
	ts, err := s.SessionStats()
	if err != nil {
		return errBuf.report(err)
	}
	for _, out := range []struct {
		p *uint32
		v uint64
	}{
		{active, uint64(max(ts.Active, 0))},
		{total, ts.Total},
		{peak, uint64(max(ts.Peak, 0))},
		{maxSessions, uint64(max(ts.MaxSessions, 0))},
		{missedData, ts.MissedData},
		{reassemblyMemory, uint64(max(ts.ReassemblyMemory, 0))},
	} {
		if out.p != nil {
			*out.p = clamp32(out.v)
		}
	}
	return StatusOK
}

// ResetStatistics zeroes every counter.
func ResetStatistics() int {
	s, err := instance()
	if err != nil {
		return Status(err)
	}
	return Status(s.ResetStatistics())
}

// ReadStatistics copies the counters into out.
func ReadStatistics(out *SSLStats) int {
	if out == nil {
		return StatusFatal
	}
	s, err := instance()
	if err != nil {
		return Status(err)
	}
	snap, err := s.ReadStatistics()
	if err != nil {
		return Status(err)
	}
	*out = newSSLStats(snap)
	return StatusOK
}
