package sslsniffer

import (
	"errors"

	"github.com/endorses/tlsniff/internal/pkg/sniffer"
)

// Status codes returned by every entry point. Zero is success; DecodePacket
// returns a non-negative byte count instead.
const (
	StatusOK                     = 0
	StatusFatal                  = -1
	StatusKeyNotFound            = -2
	StatusKeyLoadFailure         = -3
	StatusUnsupportedCipherSuite = -4
	StatusKeyMismatch            = -5
	StatusMalformedHandshake     = -6
	StatusMalformedRecord        = -7
	StatusAuthenticationFailure  = -8
	StatusReassemblyGap          = -9
	StatusResourceExhausted      = -10
	StatusAlertReceived          = -11
	StatusNotInitialized         = -12
	StatusInvalidConfig          = -13
	StatusInvalidPacket          = -14
	StatusUnknownBuffer          = -15
)

var statusOf = map[error]int{
	sniffer.ErrKeyNotFound:            StatusKeyNotFound,
	sniffer.ErrKeyLoadFailure:         StatusKeyLoadFailure,
	sniffer.ErrUnsupportedCipherSuite: StatusUnsupportedCipherSuite,
	sniffer.ErrKeyMismatch:            StatusKeyMismatch,
	sniffer.ErrMalformedHandshake:     StatusMalformedHandshake,
	sniffer.ErrMalformedRecord:        StatusMalformedRecord,
	sniffer.ErrAuthenticationFailure:  StatusAuthenticationFailure,
	sniffer.ErrReassemblyGap:          StatusReassemblyGap,
	sniffer.ErrResourceExhausted:      StatusResourceExhausted,
	sniffer.ErrAlertReceived:          StatusAlertReceived,
	sniffer.ErrNotInitialized:         StatusNotInitialized,
	sniffer.ErrInvalidConfig:          StatusInvalidConfig,
	sniffer.ErrInvalidPacket:          StatusInvalidPacket,
	sniffer.ErrUnknownBuffer:          StatusUnknownBuffer,
}

// Status returns the status code err is reported with. nil is StatusOK and
// an error of no known kind is StatusFatal.
func Status(err error) int {
	if err == nil {
		return StatusOK
	}
	if code, ok := statusOf[sniffer.Kind(err)]; ok {
		return code
	}
	return StatusFatal
}

// StatusError returns the sentinel a status code stands for, or nil for
// StatusOK and non-negative counts.
func StatusError(code int) error {
	if code >= 0 {
		return nil
	}
	for err, c := range statusOf {
		if c == code {
			return err
		}
	}
	return errFatal
}

var errFatal = errors.New("sniffer failure")

// ErrorBufferSize is the capacity of an ErrorBuffer including its NUL.
const ErrorBufferSize = 80

// ErrorBuffer receives the message of a failed call. The message is
// truncated to fit and always NUL-terminated.
type ErrorBuffer [ErrorBufferSize]byte

// String returns the message up to the first NUL.
func (b *ErrorBuffer) String() string {
	if b == nil {
		return ""
	}
	return cString(b[:])
}

func (b *ErrorBuffer) clear() {
	if b != nil {
		clear(b[:])
	}
}

// report writes err into b and returns its status code.
func (b *ErrorBuffer) report(err error) int {
	if err == nil {
		return StatusOK
	}
	if b != nil {
		putCString(b[:], err.Error())
	}
	return Status(err)
}

// putCString copies s into dst, truncating to leave room for the NUL.
func putCString(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	clear(dst[n:])
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
