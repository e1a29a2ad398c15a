package handshake

import (
	"fmt"
)

// State is a connection's position in the handshake.
type State int

const (
	StateStart State = iota
	StateClientHello
	StateServerHello
	StateCertificate
	StateServerKeyExchange
	StateClientKeyExchange
	StateFinishedPending
	StateEstablished
	StateClosed
)

var stateNames = [...]string{
	StateStart:             "START",
	StateClientHello:       "CLIENT_HELLO",
	StateServerHello:       "SERVER_HELLO",
	StateCertificate:       "CERTIFICATE",
	StateServerKeyExchange: "SERVER_KEY_EXCHANGE",
	StateClientKeyExchange: "CLIENT_KEY_EXCHANGE",
	StateFinishedPending:   "FINISHED_PENDING",
	StateEstablished:       "ESTABLISHED",
	StateClosed:            "CLOSED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Mode is the kind of handshake in progress.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeFull
	ModeResumed
)

// Events is the set of transitions one step produced.
type Events uint16

const (
	EventClientHello Events = 1 << iota
	EventRenegotiation
	EventServerHello
	EventFullHandshake
	EventResumption
	EventServerKeyExchange
	EventCertificateRequest
	EventClientCertificate
	EventClientKeyExchange
	EventNewSessionTicket
	EventChangeCipherSpec
	EventFinished
	EventEstablished
)

// Has reports whether e contains every event in want.
func (e Events) Has(want Events) bool {
	return e&want == want
}

// Machine tracks handshake order for both directions of a connection. It
// validates sequencing only; message contents are parsed by the caller.
type Machine struct {
	state State
	mode  Mode
	epoch int

	renegotiating       bool
	clientAuthRequested bool

	// each at most once per handshake
	certificate [2]bool
	certStatus  bool

	ccs      [2]bool
	finished [2]bool
}

// NewMachine returns a machine in StateStart.
func NewMachine() *Machine {
	return &Machine{}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Mode returns whether the current handshake is full or abbreviated.
func (m *Machine) Mode() Mode { return m.mode }

// Epoch counts handshakes on the connection, starting at 1 with the first
// ClientHello.
func (m *Machine) Epoch() int { return m.epoch }

// Renegotiating reports whether a handshake after the first is in progress.
func (m *Machine) Renegotiating() bool { return m.renegotiating }

// ClientAuthRequested reports whether the server sent CertificateRequest in
// the current handshake.
func (m *Machine) ClientAuthRequested() bool { return m.clientAuthRequested }

// ChangeCipherSpecSeen reports whether dir switched to the pending keys in
// the current handshake.
func (m *Machine) ChangeCipherSpecSeen(dir Direction) bool { return m.ccs[dir] }

// Close moves the machine to its terminal state.
func (m *Machine) Close() {
	m.state = StateClosed
}

func unexpected(dir Direction, what string, state State) error {
	return fmt.Errorf("%w: unexpected %s from %s in state %s", ErrMalformedHandshake, what, dir, state)
}

func (m *Machine) decide(mode Mode) Events {
	if m.mode != ModeUnknown {
		return 0
	}
	m.mode = mode
	if mode == ModeResumed {
		m.state = StateFinishedPending
		return EventResumption
	}
	return EventFullHandshake
}

// Step applies one handshake message.
func (m *Machine) Step(dir Direction, msgType uint8) (Events, error) {
	if m.state == StateClosed {
		return 0, unexpected(dir, MessageTypeName(msgType), m.state)
	}

	switch msgType {
	case TypeHelloRequest:
		if dir != DirectionServer {
			break
		}
		return 0, nil

	case TypeClientHello:
		if dir != DirectionClient {
			break
		}
		switch m.state {
		case StateStart:
			m.state = StateClientHello
			m.epoch = 1
			return EventClientHello, nil
		case StateEstablished:
			m.epoch++
			m.state = StateClientHello
			m.mode = ModeUnknown
			m.renegotiating = true
			m.clientAuthRequested = false
			m.certificate = [2]bool{}
			m.certStatus = false
			m.ccs = [2]bool{}
			m.finished = [2]bool{}
			return EventClientHello | EventRenegotiation, nil
		}

	case TypeServerHello:
		if dir == DirectionServer && m.state == StateClientHello {
			m.state = StateServerHello
			return EventServerHello, nil
		}

	case TypeCertificate:
		if m.certificate[dir] {
			break
		}
		if dir == DirectionServer {
			if m.state == StateServerHello {
				ev := m.decide(ModeFull)
				m.state = StateCertificate
				m.certificate[dir] = true
				return ev, nil
			}
			break
		}
		if m.mode == ModeFull && (m.state == StateCertificate || m.state == StateServerKeyExchange) {
			m.certificate[dir] = true
			if m.clientAuthRequested {
				return EventClientCertificate, nil
			}
			return 0, nil
		}

	case TypeCertificateStatus:
		if dir == DirectionServer && m.state == StateCertificate && m.certificate[dir] && !m.certStatus {
			m.certStatus = true
			return 0, nil
		}

	case TypeServerKeyExchange:
		if dir == DirectionServer && (m.state == StateServerHello || m.state == StateCertificate) {
			ev := m.decide(ModeFull)
			m.state = StateServerKeyExchange
			return ev | EventServerKeyExchange, nil
		}

	case TypeCertificateRequest:
		if dir == DirectionServer && (m.state == StateServerHello || m.state == StateCertificate || m.state == StateServerKeyExchange) {
			ev := m.decide(ModeFull)
			if m.state == StateServerHello {
				m.state = StateCertificate
			}
			m.clientAuthRequested = true
			return ev | EventCertificateRequest, nil
		}

	case TypeServerHelloDone:
		if dir == DirectionServer && (m.state == StateServerHello || m.state == StateCertificate || m.state == StateServerKeyExchange) {
			ev := m.decide(ModeFull)
			if m.state == StateServerHello {
				m.state = StateCertificate
			}
			return ev, nil
		}

	case TypeClientKeyExchange:
		if dir == DirectionClient && m.mode == ModeFull &&
			(m.state == StateCertificate || m.state == StateServerKeyExchange) {
			m.state = StateClientKeyExchange
			return EventClientKeyExchange, nil
		}

	case TypeCertificateVerify:
		if dir == DirectionClient && m.state == StateClientKeyExchange {
			return 0, nil
		}

	case TypeNewSessionTicket:
		if dir != DirectionServer {
			break
		}
		switch m.state {
		case StateServerHello:
			return m.decide(ModeResumed) | EventNewSessionTicket, nil
		case StateClientKeyExchange, StateFinishedPending:
			if !m.ccs[DirectionServer] {
				return EventNewSessionTicket, nil
			}
		}

	case TypeNextProtocol:
		if dir == DirectionClient && m.ccs[DirectionClient] && !m.finished[DirectionClient] {
			return 0, nil
		}

	case TypeFinished:
		if !m.ccs[dir] || m.finished[dir] {
			break
		}
		m.finished[dir] = true
		ev := EventFinished
		if m.finished[DirectionClient] && m.finished[DirectionServer] {
			m.state = StateEstablished
			m.renegotiating = false
			ev |= EventEstablished
		}
		return ev, nil
	}

	return 0, unexpected(dir, MessageTypeName(msgType), m.state)
}

// ChangeCipherSpec applies a ChangeCipherSpec record from dir.
func (m *Machine) ChangeCipherSpec(dir Direction) (Events, error) {
	if m.ccs[dir] {
		return 0, unexpected(dir, "ChangeCipherSpec", m.state)
	}

	var ev Events
	switch m.state {
	case StateServerHello:
		if dir != DirectionServer {
			return 0, unexpected(dir, "ChangeCipherSpec", m.state)
		}
		ev = m.decide(ModeResumed)
	case StateClientKeyExchange:
		m.state = StateFinishedPending
	case StateFinishedPending:
	default:
		return 0, unexpected(dir, "ChangeCipherSpec", m.state)
	}

	m.ccs[dir] = true
	return ev | EventChangeCipherSpec, nil
}
