package handshake

import (
	"encoding/binary"
	"fmt"
)

// Record is one TLS record. Fragment is owned by the record.
type Record struct {
	ContentType uint8
	Version     uint16
	Fragment    []byte
}

// Header returns the 5-byte wire header of the record.
func (r *Record) Header() [RecordHeaderSize]byte {
	var h [RecordHeaderSize]byte
	h[0] = r.ContentType
	binary.BigEndian.PutUint16(h[1:3], r.Version)
	binary.BigEndian.PutUint16(h[3:5], uint16(len(r.Fragment)))
	return h
}

func isValidContentType(t uint8) bool {
	return t >= ContentTypeChangeCipherSpec && t <= ContentTypeHeartbeat
}

// ValidateHeader checks a record header strictly: known content type,
// major version 3 and a length within MaxRecordSize.
func ValidateHeader(hdr []byte) (contentType uint8, version uint16, length int, err error) {
	if len(hdr) < RecordHeaderSize {
		return 0, 0, 0, fmt.Errorf("%w: short header", ErrMalformedRecord)
	}
	contentType = hdr[0]
	version = binary.BigEndian.Uint16(hdr[1:3])
	length = int(binary.BigEndian.Uint16(hdr[3:5]))

	if !isValidContentType(contentType) {
		return 0, 0, 0, fmt.Errorf("%w: invalid content type %d", ErrMalformedRecord, contentType)
	}
	// TLS 1.3 keeps 0x0303 on the wire, anything past 0x0304 is garbage
	if hdr[1] != 0x03 || hdr[2] > 0x04 {
		return 0, 0, 0, fmt.Errorf("%w: invalid version 0x%04x", ErrMalformedRecord, version)
	}
	if length > MaxRecordSize {
		return 0, 0, 0, fmt.Errorf("%w: length %d exceeds max %d", ErrMalformedRecord, length, MaxRecordSize)
	}
	return contentType, version, length, nil
}

// PlausibleHeader reports whether hdr could start an encrypted-phase record
// of the negotiated version. Used to find a record boundary after lost data.
func PlausibleHeader(hdr []byte, version uint16) bool {
	ct, v, length, err := ValidateHeader(hdr)
	if err != nil {
		return false
	}
	if v != version || length == 0 {
		return false
	}
	switch ct {
	case ContentTypeApplicationData, ContentTypeAlert, ContentTypeHandshake:
		return true
	default:
		return false
	}
}

// RecordParser splits a direction's byte stream into records. It is not
// safe for concurrent use.
type RecordParser struct {
	buffer []byte

	resync        bool
	resyncVersion uint16
	discarded     int
}

// NewRecordParser creates a new TLS record parser.
func NewRecordParser() *RecordParser {
	return &RecordParser{
		buffer: make([]byte, 0, 1024),
	}
}

// ParseRecords appends data and extracts every complete record. A partial
// trailing record stays buffered for the next call.
func (p *RecordParser) ParseRecords(data []byte) ([]*Record, error) {
	p.buffer = append(p.buffer, data...)

	if p.resync && !p.findBoundary() {
		return nil, nil
	}

	var records []*Record
	for {
		record, n, err := parseOneRecord(p.buffer)
		if err != nil {
			p.buffer = p.buffer[:0]
			return records, err
		}
		if record == nil {
			break
		}
		records = append(records, record)
		p.buffer = p.buffer[n:]
	}

	p.compact()
	return records, nil
}

// parseOneRecord returns a nil record when more data is needed.
func parseOneRecord(data []byte) (*Record, int, error) {
	if len(data) < RecordHeaderSize {
		return nil, 0, nil
	}

	contentType, version, length, err := ValidateHeader(data)
	if err != nil {
		return nil, 0, err
	}

	recordLen := RecordHeaderSize + length
	if len(data) < recordLen {
		return nil, 0, nil
	}

	fragment := make([]byte, length)
	copy(fragment, data[RecordHeaderSize:recordLen])

	return &Record{
		ContentType: contentType,
		Version:     version,
		Fragment:    fragment,
	}, recordLen, nil
}

// Resync drops buffered bytes and makes the parser search for the next
// plausible header of version before framing again.
func (p *RecordParser) Resync(version uint16) {
	p.discarded += len(p.buffer)
	p.buffer = p.buffer[:0]
	p.resync = true
	p.resyncVersion = version
}

// Resyncing reports whether the parser is still looking for a boundary.
func (p *RecordParser) Resyncing() bool {
	return p.resync
}

// Discarded returns the bytes skipped while resynchronising.
func (p *RecordParser) Discarded() int {
	return p.discarded
}

// findBoundary advances the buffer to a header that is followed either by
// the end of the buffer or by another plausible header.
func (p *RecordParser) findBoundary() bool {
	buf := p.buffer
	for i := 0; i+RecordHeaderSize <= len(buf); i++ {
		if !PlausibleHeader(buf[i:], p.resyncVersion) {
			continue
		}
		end := i + RecordHeaderSize + int(binary.BigEndian.Uint16(buf[i+3:i+5]))
		switch {
		case end+RecordHeaderSize <= len(buf):
			if !PlausibleHeader(buf[end:], p.resyncVersion) {
				continue
			}
		case end < len(buf):
			// next header only partly here, wait for more
			p.skip(i)
			return false
		case end > len(buf):
			// need the whole candidate record to confirm it
			p.skip(i)
			return false
		}
		p.skip(i)
		p.resync = false
		return true
	}

	keep := RecordHeaderSize - 1
	if len(buf) > keep {
		p.skip(len(buf) - keep)
	}
	return false
}

func (p *RecordParser) skip(n int) {
	p.discarded += n
	p.buffer = append(p.buffer[:0], p.buffer[n:]...)
}

func (p *RecordParser) compact() {
	if cap(p.buffer) > 4*MaxRecordSize && len(p.buffer) < MaxRecordSize {
		p.buffer = append(make([]byte, 0, MaxRecordSize), p.buffer...)
	}
}

// Reset clears the parser state.
func (p *RecordParser) Reset() {
	p.buffer = p.buffer[:0]
	p.resync = false
	p.discarded = 0
}

// BufferedBytes returns the number of bytes waiting in the buffer.
func (p *RecordParser) BufferedBytes() int {
	return len(p.buffer)
}
