// Package pcapwriter exports the frames of decoded TLS sessions to a pcap
// file so they can be opened with the matching key in other tools.
package pcapwriter

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/endorses/tlsniff/internal/pkg/constants"
	"github.com/endorses/tlsniff/internal/pkg/logger"
)

// Writer appends frames to a pcap file. It is safe for concurrent use.
type Writer struct {
	filePath     string
	linkType     layers.LinkType
	file         *os.File
	buf          *bufio.Writer
	writer       *pcapgo.Writer
	mu           sync.Mutex
	closed       atomic.Bool
	packetCount  atomic.Int64
	bytesWritten atomic.Int64
}

// Config for PCAP writer
type Config struct {
	FilePath string          // Path to PCAP file
	LinkType layers.LinkType // Link type of every written frame
	SnapLen  uint32          // 0 = constants.PcapSnapLen
}

// New creates the file. The header is written with the first frame.
func New(config *Config) (*Writer, error) {
	if config == nil || config.FilePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	file, err := os.Create(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create PCAP file: %w", err)
	}

	buf := bufio.NewWriter(file)
	w := &Writer{
		filePath: config.FilePath,
		linkType: config.LinkType,
		file:     file,
		buf:      buf,
		writer:   pcapgo.NewWriter(buf),
	}
	snapLen := config.SnapLen
	if snapLen == 0 {
		snapLen = constants.PcapSnapLen
	}
	if err := w.writer.WriteFileHeader(snapLen, w.linkType); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to write PCAP header: %w", err)
	}

	logger.Debug("Created PCAP writer", "file", config.FilePath, "link_type", config.LinkType.String())
	return w, nil
}

// WritePacket appends one frame.
func (w *Writer) WritePacket(ci gopacket.CaptureInfo, data []byte) error {
	if w.closed.Load() {
		return fmt.Errorf("writer is closed")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if ci.CaptureLength == 0 {
		ci.CaptureLength = len(data)
	}
	if ci.Length == 0 {
		ci.Length = len(data)
	}
	if err := w.writer.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	w.packetCount.Add(1)
	w.bytesWritten.Add(int64(len(data)))
	return nil
}

// Close flushes buffered frames and closes the file.
func (w *Writer) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("failed to flush PCAP file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close PCAP file: %w", err)
	}

	logger.Info("Closed PCAP writer",
		"file", w.filePath,
		"packets", w.packetCount.Load(),
		"bytes", w.bytesWritten.Load())
	return nil
}

// Stats returns current writer statistics
func (w *Writer) Stats() (packetCount, bytesWritten int64) {
	return w.packetCount.Load(), w.bytesWritten.Load()
}

// FilePath returns the file path being written to
func (w *Writer) FilePath() string {
	return w.filePath
}
