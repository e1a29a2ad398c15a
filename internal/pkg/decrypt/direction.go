package decrypt

import (
	"errors"
	"fmt"

	"github.com/endorses/tlsniff/internal/pkg/decrypt/ciphers"
)

// ErrDirectionBroken indicates a direction lost its cipher state after
// missing data and can no longer be decrypted.
var ErrDirectionBroken = errors.New("cipher state lost after missing data")

const (
	// smallest protected record: header, explicit nonce and GCM tag
	minProtectedRecord = 5 + 8 + 16
	maxResyncWindow    = 1 << 12
)

// RecordDecryptor holds the read state of one direction: the record
// cipher and the next expected sequence number.
type RecordDecryptor struct {
	cipher  ciphers.Cipher
	version uint16
	seq     uint64
	broken  bool

	// resync > 0 means the sequence number is uncertain by up to that
	// many records after a gap.
	resync uint64
}

// Activate installs a new cipher, as at ChangeCipherSpec. The sequence
// number restarts at zero.
func (d *RecordDecryptor) Activate(c ciphers.Cipher, version uint16) {
	d.cipher = c
	d.version = version
	d.seq = 0
	d.resync = 0
	d.broken = false
}

// Active reports whether records of this direction are encrypted.
func (d *RecordDecryptor) Active() bool {
	return d.cipher != nil
}

// Broken reports whether the direction became undecodable.
func (d *RecordDecryptor) Broken() bool {
	return d.broken
}

// Resyncing reports whether the sequence number is being searched for.
func (d *RecordDecryptor) Resyncing() bool {
	return d.resync > 0
}

// Seq returns the next expected record sequence number.
func (d *RecordDecryptor) Seq() uint64 {
	return d.seq
}

// Gap tells the decryptor that lostBytes of this direction's stream were
// never seen. Ciphers that carry state across records cannot continue.
func (d *RecordDecryptor) Gap(lostBytes int) {
	if d.cipher == nil || d.broken {
		return
	}
	if !d.cipher.Stateless() {
		d.broken = true
		return
	}
	w := uint64(lostBytes/minProtectedRecord) + 2
	d.resync = min(d.resync+w, maxResyncWindow)
}

// Decrypt opens one record fragment. The sequence number advances exactly
// once per record whatever the outcome. While resynchronising, the
// sequence numbers inside the window are tried in order and the first one
// that authenticates is adopted.
func (d *RecordDecryptor) Decrypt(contentType uint8, fragment []byte) ([]byte, error) {
	if d.cipher == nil {
		return nil, ErrNoKeys
	}
	if d.broken {
		return nil, ErrDirectionBroken
	}

	if d.resync > 0 {
		for off := uint64(0); off <= d.resync; off++ {
			pt, err := d.cipher.DecryptRecord(d.seq+off, contentType, d.version, fragment)
			if err == nil {
				d.seq += off + 1
				d.resync = 0
				return pt, nil
			}
		}
		d.seq++
		return nil, fmt.Errorf("%w: no sequence number near %d", ErrAuthenticationFailure, d.seq-1)
	}

	seq := d.seq
	d.seq++
	pt, err := d.cipher.DecryptRecord(seq, contentType, d.version, fragment)
	if err != nil {
		return nil, fmt.Errorf("%w: seq %d: %v", ErrAuthenticationFailure, seq, err)
	}
	return pt, nil
}
