package session

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/endorses/tlsniff/internal/pkg/decrypt"
	"github.com/endorses/tlsniff/internal/pkg/handshake"
	"github.com/endorses/tlsniff/internal/pkg/keystore"
	"github.com/endorses/tlsniff/internal/pkg/logger"
	"github.com/endorses/tlsniff/internal/pkg/stats"
)

func (s *Session) handshakeRecord(dir handshake.Direction, fragment []byte, o *outcome) {
	msgs, err := s.assemblers[dir].Add(fragment)
	for _, m := range msgs {
		if s.failed || s.closed {
			return
		}
		s.message(dir, m, o)
	}
	if err != nil && !s.closed {
		s.malformed(err, o)
	}
}

func (s *Session) message(dir handshake.Direction, m handshake.Message, o *outcome) {
	ev, err := s.machine.Step(dir, m.Type)
	if err != nil {
		s.malformed(err, o)
		return
	}
	primary := s.machine.Epoch() == 1

	if primary {
		// Finished covers every message before it
		if m.Type == handshake.TypeFinished {
			s.finished(dir, m, o)
			if s.failed {
				return
			}
		}
		if m.Type != handshake.TypeHelloRequest {
			s.transcript = append(s.transcript, m.Raw...)
		}
	}

	if ev.Has(handshake.EventRenegotiation) {
		s.clientAuth = false
		s.trace("renegotiation", "epoch", s.machine.Epoch())
	} else if ev.Has(handshake.EventClientHello) {
		s.clientHello(m, o)
	}
	if ev.Has(handshake.EventServerHello) && primary {
		s.serverHello(m, o)
	}
	if ev.Has(handshake.EventResumption) {
		s.resumption(o)
	}
	if ev.Has(handshake.EventClientCertificate) {
		if n, err := handshake.ParseCertificate(m.Body); err == nil && n > 0 {
			s.clientAuth = true
		}
	}
	if ev.Has(handshake.EventClientKeyExchange) {
		s.clientKeyExchange(m, o)
	}
	if ev.Has(handshake.EventNewSessionTicket) && primary && !s.failed {
		nst, err := handshake.ParseNewSessionTicket(m.Body)
		if err != nil {
			s.malformed(err, o)
			return
		}
		s.issuedTicket = nst.Ticket
	}
	if ev.Has(handshake.EventEstablished) && primary {
		s.established(o)
	}
}

func (s *Session) clientHello(m handshake.Message, o *outcome) {
	ch, err := handshake.ParseClientHello(m.Body)
	if err != nil {
		s.malformed(err, o)
		return
	}
	s.clientRandom = bytes.Clone(ch.Random[:])
	s.offeredTicket = ch.SessionTicket
	s.clientEMS = ch.ExtendedMasterSecret
	s.sni = ch.ServerName
	s.trace("client hello", "sni", ch.ServerName, "suites", len(ch.CipherSuites), "ticket", ch.OffersTicket())
}

func (s *Session) serverHello(m handshake.Message, o *outcome) {
	sh, err := handshake.ParseServerHello(m.Body)
	if err != nil {
		s.malformed(err, o)
		return
	}
	s.serverRandom = bytes.Clone(sh.Random[:])
	s.sessionID = sh.SessionID
	s.version = sh.NegotiatedVersion()
	s.suiteID = sh.CipherSuite
	s.ems = s.clientEMS && sh.ExtendedMasterSecret

	name := decrypt.SuiteName(sh.CipherSuite)
	s.trace("server hello", "version", handshake.VersionName(s.version), "suite", name, "ems", s.ems)

	switch decrypt.Classify(s.version, sh.CipherSuite, sh.CompressionMethod) {
	case decrypt.Ephemeral:
		s.env.Stats.Inc(stats.EphemeralMisses)
		o.fail(fmt.Errorf("%w: %w: %s", decrypt.ErrUnsupportedCipherSuite, decrypt.ErrEphemeralKeyExchange, name))
		s.fail()
	case decrypt.Unsupported:
		s.env.Stats.Inc(stats.CiphersUnsupported)
		o.fail(fmt.Errorf("%w: %s %s compression %d", decrypt.ErrUnsupportedCipherSuite,
			handshake.VersionName(s.version), name, sh.CompressionMethod))
		s.fail()
	default:
		s.suite, _ = decrypt.LookupSuite(sh.CipherSuite)
	}
}

// resumption runs when the server's first message after ServerHello shows
// an abbreviated handshake.
func (s *Session) resumption(o *outcome) {
	if s.machine.Epoch() > 1 {
		s.env.Stats.Inc(stats.ResumedRehandshakeConns)
		return
	}
	if s.failed {
		return
	}

	keys, err := s.env.Scheduler.Resume(decrypt.Resumption{
		Ticket:       s.offeredTicket,
		SessionID:    s.sessionID,
		Version:      s.version,
		Suite:        s.suite,
		ClientRandom: s.clientRandom,
		ServerRandom: s.serverRandom,
	})
	if err != nil {
		s.env.Stats.Inc(stats.ResumeMisses)
		logger.Debug("Resumed session not in cache", "flow", s.tuple.String(), "error", err)
		o.fail(err)
		s.fail()
		return
	}

	s.env.Stats.Inc(stats.ResumedConns)
	s.keys = keys
	s.resumed = true
	s.trace("resumed")
}

func (s *Session) clientKeyExchange(m handshake.Message, o *outcome) {
	if s.machine.Epoch() > 1 {
		if s.clientAuth {
			s.env.Stats.Inc(stats.ClientAuthRehandshakeConns)
		} else {
			s.env.Stats.Inc(stats.RehandshakeConns)
		}
		return
	}
	if s.failed {
		return
	}

	encrypted, err := handshake.ParseClientKeyExchange(m.Body)
	if err != nil {
		s.malformed(err, o)
		return
	}

	h := decrypt.FullHandshake{
		Server:             s.tuple.Server,
		ServerName:         s.sni,
		Version:            s.version,
		Suite:              s.suite,
		ClientRandom:       s.clientRandom,
		ServerRandom:       s.serverRandom,
		EncryptedPreMaster: encrypted,
	}
	if s.ems {
		h.SessionHash = decrypt.TranscriptHash(s.version, s.suite, s.transcript)
	}

	keys, entry, err := s.env.Scheduler.DeriveFull(h)
	switch {
	case errors.Is(err, keystore.ErrKeyNotFound):
		s.env.Stats.Inc(stats.KeysUnmatched)
		o.fail(err)
		s.fail()
		return
	case err != nil:
		s.env.Stats.Inc(stats.KeyFails)
		logger.Debug("Key did not decrypt pre-master secret", "flow", s.tuple.String(), "error", err)
		o.fail(err)
		s.fail()
		return
	}

	s.env.Stats.Inc(stats.KeyMatches)
	if s.clientAuth {
		s.env.Stats.Inc(stats.ClientAuthConns)
	} else {
		s.env.Stats.Inc(stats.StandardConns)
	}
	s.keys = keys
	s.trace("keys derived", "key", entry.Lookup.String(), "name", entry.Name, "bits", entry.KeyBits(), "ems", s.ems)
}

func (s *Session) finished(dir handshake.Direction, m handshake.Message, o *outcome) {
	if s.keys == nil {
		return
	}
	verifyData, err := handshake.ParseFinished(m.Body)
	if err == nil {
		err = s.keys.VerifyFinished(dir, s.transcript, verifyData)
	}
	if err != nil {
		s.env.Stats.Inc(stats.KeyFails)
		s.trace("finished rejected", "dir", dir, "error", err)
		o.fail(err)
		s.fail()
	}
}

func (s *Session) established(o *outcome) {
	if s.failed || s.keys == nil {
		return
	}
	s.transcript = nil

	ticket := s.issuedTicket
	if len(ticket) == 0 {
		ticket = s.offeredTicket
	}
	s.env.Scheduler.Remember(ticket, s.sessionID, s.keys)

	if !s.reported {
		s.reported = true
		o.established = true
	}
	s.trace("established", "resumed", s.resumed, "client_auth", s.clientAuth)
}
