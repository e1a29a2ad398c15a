package handshake

import (
	"bytes"

	"golang.org/x/crypto/cryptobyte"
)

// ParseClientKeyExchange returns the RSA-encrypted pre-master secret.
// TLS 1.0 and later prefix it with a two byte length.
func ParseClientKeyExchange(body []byte) ([]byte, error) {
	s := cryptobyte.String(body)
	var encrypted []byte
	if !readUint16LengthPrefixed(&s, &encrypted) || !s.Empty() || len(encrypted) == 0 {
		return nil, malformed("ClientKeyExchange")
	}
	return encrypted, nil
}

// NewSessionTicket is a TLS 1.2 session ticket issued by the server.
type NewSessionTicket struct {
	LifetimeHint uint32
	Ticket       []byte
}

// ParseNewSessionTicket parses a TLS 1.2 NewSessionTicket body.
func ParseNewSessionTicket(body []byte) (*NewSessionTicket, error) {
	s := cryptobyte.String(body)
	nst := &NewSessionTicket{}
	var ticket []byte
	if !s.ReadUint32(&nst.LifetimeHint) || !readUint16LengthPrefixed(&s, &ticket) || !s.Empty() {
		return nil, malformed("NewSessionTicket")
	}
	nst.Ticket = bytes.Clone(ticket)
	return nst, nil
}

// ParseCertificate returns the number of certificates in a Certificate
// message. An empty list is how a client declines client authentication.
func ParseCertificate(body []byte) (int, error) {
	s := cryptobyte.String(body)
	var list cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&list) || !s.Empty() {
		return 0, malformed("Certificate list")
	}
	n := 0
	for !list.Empty() {
		var cert cryptobyte.String
		if !list.ReadUint24LengthPrefixed(&cert) || cert.Empty() {
			return 0, malformed("Certificate entry")
		}
		n++
	}
	return n, nil
}

// ParseFinished returns verify_data.
func ParseFinished(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, malformed("empty Finished")
	}
	return body, nil
}

// Alert is a decoded alert record.
type Alert struct {
	Level       uint8
	Description uint8
}

// Closes reports whether the alert ends the connection.
func (a Alert) Closes() bool {
	return a.Level == AlertLevelFatal || a.Description == AlertCloseNotify
}

// ParseAlert parses the plaintext of an alert record.
func ParseAlert(fragment []byte) (Alert, error) {
	if len(fragment) != 2 {
		return Alert{}, malformed("alert length")
	}
	return Alert{Level: fragment[0], Description: fragment[1]}, nil
}
