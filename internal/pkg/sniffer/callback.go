package sniffer

import (
	"sync"

	"github.com/endorses/tlsniff/internal/pkg/logger"
)

// Handler observes sessions whose handshake completed with usable keys.
type Handler interface {
	HandleConnection(info SessionInfo)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(info SessionInfo)

// HandleConnection calls f.
func (f HandlerFunc) HandleConnection(info SessionInfo) { f(info) }

// ConnectionCallback receives the session info and the context registered
// with SetConnectionCallbackContext.
type ConnectionCallback func(info SessionInfo, ctx any)

// callbackHandler binds a ConnectionCallback to its context.
type callbackHandler struct {
	fn  ConnectionCallback
	ctx any
}

func (h callbackHandler) HandleConnection(info SessionInfo) {
	h.fn(info, h.ctx)
}

// dispatcher holds the single registered observer.
type dispatcher struct {
	mu      sync.RWMutex
	handler Handler
	fn      ConnectionCallback
	ctx     any
}

func (d *dispatcher) setHandler(h Handler) {
	d.mu.Lock()
	d.handler, d.fn, d.ctx = h, nil, nil
	d.mu.Unlock()
}

func (d *dispatcher) setCallback(fn ConnectionCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fn = fn
	if fn == nil {
		d.handler = nil
		return
	}
	d.handler = callbackHandler{fn: fn, ctx: d.ctx}
}

func (d *dispatcher) setContext(ctx any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctx = ctx
	if d.fn != nil {
		d.handler = callbackHandler{fn: d.fn, ctx: ctx}
	}
}

// notify runs the observer. A panicking observer is logged and otherwise
// ignored.
func (d *dispatcher) notify(info SessionInfo) {
	d.mu.RLock()
	h := d.handler
	d.mu.RUnlock()
	if h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic in connection callback",
				"panic", r,
				"session", info.SessionID.String())
		}
	}()
	h.HandleConnection(info)
}

// SetHandler registers the connection observer, replacing any callback.
// nil removes it.
func (s *Sniffer) SetHandler(h Handler) {
	s.callbacks.setHandler(h)
}

// SetConnectionCallback registers fn as the connection observer. nil
// removes it.
func (s *Sniffer) SetConnectionCallback(fn ConnectionCallback) {
	s.callbacks.setCallback(fn)
}

// SetConnectionCallbackContext sets the value passed to the connection
// callback.
func (s *Sniffer) SetConnectionCallbackContext(ctx any) {
	s.callbacks.setContext(ctx)
}
