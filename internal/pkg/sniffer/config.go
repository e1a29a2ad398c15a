package sniffer

import (
	"fmt"
	"time"

	"github.com/endorses/tlsniff/internal/pkg/decrypt"
	"github.com/endorses/tlsniff/internal/pkg/reassembly"
	"github.com/endorses/tlsniff/internal/pkg/session"
)

// Config holds sniffer configuration.
type Config struct {
	// MaxSessions bounds concurrently tracked TCP flows.
	// Default: 100000
	MaxSessions int `mapstructure:"max_sessions" yaml:"max_sessions"`

	// SessionTimeout drops flows idle for longer, measured in packet time.
	// Default: 5 minutes
	SessionTimeout time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`

	// MaintenanceInterval is how often idle flows are swept.
	// Default: 10 seconds
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval" yaml:"maintenance_interval"`

	// Recovery evicts least recently active sessions instead of refusing
	// new ones, and keeps total session memory under MaxMemory.
	Recovery  bool  `mapstructure:"recovery" yaml:"recovery"`
	MaxMemory int64 `mapstructure:"max_memory" yaml:"max_memory"`

	// HoleTimeout is how long out-of-order data waits for a missing
	// segment before the gap is declared lost.
	// Default: 2 seconds
	HoleTimeout time.Duration `mapstructure:"hole_timeout" yaml:"hole_timeout"`

	// MaxHeldBytes bounds out-of-order data per direction.
	// Default: 256 KiB
	MaxHeldBytes int `mapstructure:"max_held_bytes" yaml:"max_held_bytes"`

	// ResumptionCacheSize bounds cached master secrets.
	// Default: 4096
	ResumptionCacheSize int `mapstructure:"resumption_cache_size" yaml:"resumption_cache_size"`

	// TraceOutput receives per-session diagnostics: "" disables,
	// "-" is stderr, anything else a file path.
	TraceOutput string `mapstructure:"trace" yaml:"trace"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	sess := session.DefaultConfig()
	return Config{
		MaxSessions:         sess.MaxSessions,
		SessionTimeout:      sess.SessionTimeout,
		MaintenanceInterval: sess.MaintenanceInterval,
		HoleTimeout:         reassembly.DefaultHoleTimeout,
		MaxHeldBytes:        reassembly.DefaultMaxHeldBytes,
		ResumptionCacheSize: decrypt.DefaultResumptionCacheSize,
	}
}

// Validate rejects inconsistent settings. Zero values are defaulted, not
// rejected.
func (c Config) Validate() error {
	if c.MaxSessions < 0 {
		return fmt.Errorf("%w: max sessions %d", ErrInvalidConfig, c.MaxSessions)
	}
	if c.Recovery && c.MaxMemory <= 0 {
		return fmt.Errorf("%w: recovery needs a positive memory budget, got %d", ErrInvalidConfig, c.MaxMemory)
	}
	if c.ResumptionCacheSize < 0 {
		return fmt.Errorf("%w: resumption cache size %d", ErrInvalidConfig, c.ResumptionCacheSize)
	}
	return nil
}

func (c Config) sessionConfig() session.Config {
	return session.Config{
		MaxSessions:         c.MaxSessions,
		SessionTimeout:      c.SessionTimeout,
		MaintenanceInterval: c.MaintenanceInterval,
		Recovery:            c.Recovery,
		MaxMemory:           c.MaxMemory,
		Reassembly: reassembly.Config{
			HoleTimeout:  c.HoleTimeout,
			MaxHeldBytes: c.MaxHeldBytes,
		},
	}
}
