// Package capture reads pcap and pcapng capture files for offline
// decoding.
package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/endorses/tlsniff/internal/pkg/constants"
)

// Format of a capture file.
type Format string

const (
	FormatPcap   Format = "pcap"
	FormatPcapNG Format = "pcapng"
)

const pcapngMagic = 0x0A0D0D0A

// PacketInfo is one frame read from a capture file.
type PacketInfo struct {
	Data        []byte
	LinkType    layers.LinkType
	CaptureInfo gopacket.CaptureInfo
}

// Source reads frames from a capture file.
type Source struct {
	format Format
	pcap   *pcapgo.Reader
	ng     *pcapgo.NgReader
	closer io.Closer
	count  int
}

// Open opens the capture file at path. constants.StdinPath reads standard
// input.
func Open(path string) (*Source, error) {
	if path == constants.StdinPath {
		return NewSource(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	src, err := NewSource(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	src.closer = f
	return src, nil
}

// NewSource detects the capture format from the first bytes of r.
func NewSource(r io.Reader) (*Source, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("invalid pcapng file: %w", err)
		}
		return &Source{format: FormatPcapNG, ng: ng}, nil
	}

	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("invalid pcap file: %w", err)
	}
	return &Source{format: FormatPcap, pcap: pr}, nil
}

// Format returns the detected file format.
func (s *Source) Format() Format {
	return s.format
}

// Count returns the number of frames read so far.
func (s *Source) Count() int {
	return s.count
}

// Next returns the next frame, or io.EOF at the end of the file.
func (s *Source) Next() (PacketInfo, error) {
	var (
		data []byte
		ci   gopacket.CaptureInfo
		link layers.LinkType
		err  error
	)
	if s.ng != nil {
		data, ci, err = s.ng.ReadPacketData()
		if err == nil {
			link = s.ng.LinkType()
			if iface, ierr := s.ng.Interface(ci.InterfaceIndex); ierr == nil {
				link = iface.LinkType
			}
		}
	} else {
		data, ci, err = s.pcap.ReadPacketData()
		link = s.pcap.LinkType()
	}
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return PacketInfo{}, fmt.Errorf("truncated capture after %d frames: %w", s.count, err)
		}
		return PacketInfo{}, err
	}
	s.count++
	return PacketInfo{Data: data, LinkType: link, CaptureInfo: ci}, nil
}

// Each calls fn for every frame until the end of the file, ctx is done or
// fn returns an error.
func (s *Source) Each(ctx context.Context, fn func(PacketInfo) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkt, err := s.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(pkt); err != nil {
			return err
		}
	}
}

// Close closes the underlying file.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
