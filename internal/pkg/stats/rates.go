package stats

import "sync/atomic"

// Rate gauges are driven by packet time, not wall time, so offline
// captures report the rates they were recorded at.

// rateWindow counts events for the current second and publishes them as
// gauges when the next second begins.
type rateWindow struct {
	second atomic.Int64

	encryptedConns  atomic.Uint64
	activeEncrypted atomic.Uint64
	activeFlows     atomic.Uint64

	lastEncryptedConns  atomic.Uint64
	lastActiveEncrypted atomic.Uint64
	lastActiveFlows     atomic.Uint64
}

func (w *rateWindow) advance(sec int64) {
	for {
		cur := w.second.Load()
		if sec <= cur {
			return
		}
		if !w.second.CompareAndSwap(cur, sec) {
			continue
		}
		enc := w.encryptedConns.Swap(0)
		act := w.activeEncrypted.Swap(0)
		flows := w.activeFlows.Swap(0)
		if cur != 0 && sec != cur+1 {
			// idle seconds in between
			enc, act, flows = 0, 0, 0
		}
		w.lastEncryptedConns.Store(enc)
		w.lastActiveEncrypted.Store(act)
		w.lastActiveFlows.Store(flows)
		return
	}
}

func (w *rateWindow) gauges() (enc, act, flows uint64) {
	return w.lastEncryptedConns.Load(), w.lastActiveEncrypted.Load(), w.lastActiveFlows.Load()
}

func (w *rateWindow) reset() {
	w.encryptedConns.Store(0)
	w.activeEncrypted.Store(0)
	w.activeFlows.Store(0)
	w.lastEncryptedConns.Store(0)
	w.lastActiveEncrypted.Store(0)
	w.lastActiveFlows.Store(0)
}

// Tick moves the rate window to the given unix second.
func (c *Collector) Tick(unixSecond int64) {
	c.rates.advance(unixSecond)
}

// FlowActive records that a flow carried a packet in the current second.
// Callers report each flow at most once per second.
func (c *Collector) FlowActive() {
	c.rates.activeFlows.Add(1)
}

// EncryptedFlowActive records that a flow carried encrypted traffic in the
// current second. Callers report each flow at most once per second.
func (c *Collector) EncryptedFlowActive() {
	c.rates.activeEncrypted.Add(1)
}

// EncryptedConnStarted records a connection whose keys became active.
func (c *Collector) EncryptedConnStarted() {
	c.rates.encryptedConns.Add(1)
}
