// Package constants provides shared constants used across tlsniff components.
package constants

// Channel buffer sizes
const (
	// SignalChannelBuffer is the buffer size for OS signal channels. A
	// single slot is enough since signal delivery never blocks the sender.
	SignalChannelBuffer = 1
)

// Capture file defaults
const (
	// PcapSnapLen is the snapshot length written to exported capture files.
	PcapSnapLen = 65536

	// StdinPath selects standard input as the capture file.
	StdinPath = "-"
)

// Key configuration
const (
	// DefaultServerPort is assumed when a key specification omits the port.
	DefaultServerPort = 443
)
