package sniffer

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/endorses/tlsniff/internal/pkg/logger"
)

// traceSink is an open trace destination.
type traceSink struct {
	logger *slog.Logger
	closer io.Closer
}

// openTrace opens path for tracing. "-" is stderr.
func openTrace(path string) (*traceSink, error) {
	if path == "-" {
		return &traceSink{logger: logger.NewTrace(os.Stderr)}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: trace output: %v", ErrInvalidConfig, err)
	}
	return &traceSink{logger: logger.NewTrace(f), closer: f}, nil
}

func (t *traceSink) Close() {
	if t.closer == nil {
		return
	}
	if err := t.closer.Close(); err != nil {
		logger.Warn("Failed to close trace output", "error", err)
	}
}

// SetTraceOutput directs per-session diagnostics to path. "" disables
// tracing and "-" writes to stderr. Tracing never affects decoding.
func (s *Sniffer) SetTraceOutput(path string) error {
	st, err := s.current()
	if err != nil {
		return err
	}

	var sink *traceSink
	if path != "" {
		if sink, err = openTrace(path); err != nil {
			return err
		}
	}

	s.mu.Lock()
	old := st.trace
	st.trace = sink
	st.cfg.TraceOutput = path
	if sink != nil {
		st.env.SetTrace(sink.logger)
	} else {
		st.env.SetTrace(nil)
	}
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}
