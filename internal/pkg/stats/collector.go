// Package stats tracks decode outcomes with lock-free atomic counters.
package stats

import (
	"sync/atomic"
)

// Counter identifies one event counter in the taxonomy.
type Counter int

const (
	StandardConns Counter = iota
	RehandshakeConns
	ClientAuthConns
	ResumedConns
	ResumedRehandshakeConns
	ClientAuthRehandshakeConns
	EphemeralMisses
	ResumeMisses
	CiphersUnsupported
	KeysUnmatched
	KeyFails
	DecodeFails
	Alerts
	DecryptedBytes
	EncryptedBytes
	EncryptedPackets
	DecryptedPackets
	KeyMatches
	MissedData
	Evictions

	numCounters
)

var counterNames = [numCounters]string{
	StandardConns:              "standard_conns",
	RehandshakeConns:           "rehandshake_conns",
	ClientAuthConns:            "client_auth_conns",
	ResumedConns:               "resumed_conns",
	ResumedRehandshakeConns:    "resumed_rehandshake_conns",
	ClientAuthRehandshakeConns: "client_auth_rehandshake_conns",
	EphemeralMisses:            "ephemeral_misses",
	ResumeMisses:               "resume_misses",
	CiphersUnsupported:         "ciphers_unsupported",
	KeysUnmatched:              "keys_unmatched",
	KeyFails:                   "key_fails",
	DecodeFails:                "decode_fails",
	Alerts:                     "alerts",
	DecryptedBytes:             "decrypted_bytes",
	EncryptedBytes:             "encrypted_bytes",
	EncryptedPackets:           "encrypted_packets",
	DecryptedPackets:           "decrypted_packets",
	KeyMatches:                 "key_matches",
	MissedData:                 "missed_data",
	Evictions:                  "evictions",
}

// String returns the counter name.
func (c Counter) String() string {
	if c < 0 || c >= numCounters {
		return "unknown"
	}
	return counterNames[c]
}

// Collector is the process-wide statistics registry. All methods are safe
// for concurrent use and never block writers.
type Collector struct {
	counters [numCounters]atomic.Uint64
	rates    rateWindow
}

// New creates a new statistics collector
func New() *Collector {
	return &Collector{}
}

// Inc increments counter c by one.
func (c *Collector) Inc(counter Counter) {
	c.counters[counter].Add(1)
}

// Add increments counter c by n.
func (c *Collector) Add(counter Counter, n uint64) {
	if n == 0 {
		return
	}
	c.counters[counter].Add(n)
}

// Get returns the current value of a counter.
func (c *Collector) Get(counter Counter) uint64 {
	return c.counters[counter].Load()
}

// Reset zeroes every counter and rate gauge.
func (c *Collector) Reset() {
	for i := range c.counters {
		c.counters[i].Store(0)
	}
	c.rates.reset()
}

// Snapshot returns a copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	encConns, activeEnc, activeFlows := c.rates.gauges()
	return Snapshot{
		StandardConns:                 c.Get(StandardConns),
		RehandshakeConns:              c.Get(RehandshakeConns),
		ClientAuthConns:               c.Get(ClientAuthConns),
		ResumedConns:                  c.Get(ResumedConns),
		ResumedRehandshakeConns:       c.Get(ResumedRehandshakeConns),
		ClientAuthRehandshakeConns:    c.Get(ClientAuthRehandshakeConns),
		EphemeralMisses:               c.Get(EphemeralMisses),
		ResumeMisses:                  c.Get(ResumeMisses),
		CiphersUnsupported:            c.Get(CiphersUnsupported),
		KeysUnmatched:                 c.Get(KeysUnmatched),
		KeyFails:                      c.Get(KeyFails),
		DecodeFails:                   c.Get(DecodeFails),
		Alerts:                        c.Get(Alerts),
		DecryptedBytes:                c.Get(DecryptedBytes),
		EncryptedBytes:                c.Get(EncryptedBytes),
		EncryptedPackets:              c.Get(EncryptedPackets),
		DecryptedPackets:              c.Get(DecryptedPackets),
		KeyMatches:                    c.Get(KeyMatches),
		MissedData:                    c.Get(MissedData),
		Evictions:                     c.Get(Evictions),
		EncryptedConnsPerSecond:       encConns,
		ActiveEncryptedConnsPerSecond: activeEnc,
		ActiveFlowsPerSecond:          activeFlows,
	}
}

// Snapshot is a point-in-time copy of the collector.
type Snapshot struct {
	StandardConns              uint64 `yaml:"standard_conns"`
	RehandshakeConns           uint64 `yaml:"rehandshake_conns"`
	ClientAuthConns            uint64 `yaml:"client_auth_conns"`
	ResumedConns               uint64 `yaml:"resumed_conns"`
	ResumedRehandshakeConns    uint64 `yaml:"resumed_rehandshake_conns"`
	ClientAuthRehandshakeConns uint64 `yaml:"client_auth_rehandshake_conns"`
	EphemeralMisses            uint64 `yaml:"ephemeral_misses"`
	ResumeMisses               uint64 `yaml:"resume_misses"`
	CiphersUnsupported         uint64 `yaml:"ciphers_unsupported"`
	KeysUnmatched              uint64 `yaml:"keys_unmatched"`
	KeyFails                   uint64 `yaml:"key_fails"`
	DecodeFails                uint64 `yaml:"decode_fails"`
	Alerts                     uint64 `yaml:"alerts"`
	DecryptedBytes             uint64 `yaml:"decrypted_bytes"`
	EncryptedBytes             uint64 `yaml:"encrypted_bytes"`
	EncryptedPackets           uint64 `yaml:"encrypted_packets"`
	DecryptedPackets           uint64 `yaml:"decrypted_packets"`
	KeyMatches                 uint64 `yaml:"key_matches"`
	MissedData                 uint64 `yaml:"missed_data"`
	Evictions                  uint64 `yaml:"evictions"`

	EncryptedConnsPerSecond       uint64 `yaml:"encrypted_conns_per_second"`
	ActiveEncryptedConnsPerSecond uint64 `yaml:"active_encrypted_conns_per_second"`
	ActiveFlowsPerSecond          uint64 `yaml:"active_flows_per_second"`
}
