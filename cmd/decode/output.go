package decode

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/endorses/tlsniff/internal/pkg/cmdutil"
	"github.com/endorses/tlsniff/internal/pkg/session"
	"github.com/endorses/tlsniff/internal/pkg/sniffer"
	"github.com/endorses/tlsniff/internal/pkg/stats"
)

// printer writes decoded data and session announcements.
type printer struct {
	w     io.Writer
	hex   bool
	quiet bool
}

func (p *printer) session(info sniffer.SessionInfo) {
	if p.quiet {
		return
	}
	flags := ""
	if info.Resumed {
		flags += " resumed"
	}
	if info.ClientAuth {
		flags += " client-auth"
	}
	fmt.Fprintf(p.w, "=== %s -> %s TLS %d.%d %s (%d bit) sni=%q%s\n",
		info.Client, info.Server,
		info.VersionMajor, info.VersionMinor,
		info.CipherSuiteName, info.KeySize, info.ServerNameIndication, flags)
}

func (p *printer) data(info sniffer.SessionInfo, buf *sniffer.DecodeBuffer, ts time.Time) {
	if p.quiet {
		return
	}
	src, dst := info.Client, info.Server
	if !buf.FromClient {
		src, dst = dst, src
	}
	fmt.Fprintf(p.w, "--- %s %s -> %s %d bytes\n", ts.UTC().Format(time.RFC3339Nano), src, dst, buf.Len())
	if p.hex {
		fmt.Fprint(p.w, hex.Dump(buf.Data))
		return
	}
	text := printable(buf.Data)
	fmt.Fprint(p.w, text)
	if len(text) > 0 && text[len(text)-1] != '\n' {
		fmt.Fprintln(p.w)
	}
}

// printable replaces control bytes other than tab and line breaks with dots.
func printable(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		switch {
		case c == '\n' || c == '\r' || c == '\t':
			out[i] = c
		case c < 0x20 || c >= 0x7f:
			out[i] = '.'
		default:
			out[i] = c
		}
	}
	return string(out)
}

// CaptureSummary describes the capture file run.
type CaptureSummary struct {
	File     string `yaml:"file"`
	Format   string `yaml:"format"`
	Frames   int    `yaml:"frames"`
	Skipped  int    `yaml:"skipped"`
	Exported int64  `yaml:"exported,omitempty"`
}

// Report is the statistics block printed after decoding.
type Report struct {
	Capture  CaptureSummary     `yaml:"capture"`
	Sessions session.TableStats `yaml:"sessions"`
	Counters stats.Snapshot     `yaml:"counters"`
	Errors   map[string]int     `yaml:"errors,omitempty"`
}

func writeReport(w io.Writer, r Report, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		return writeTextReport(w, r)
	case "none":
		return nil
	}
	return fmt.Errorf("unknown stats format %q", format)
}

func writeTextReport(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k string, v any) { fmt.Fprintf(tw, "%s\t%v\n", k, v) }

	fmt.Fprintln(tw, "Capture")
	row("  file", r.Capture.File)
	row("  format", r.Capture.Format)
	row("  frames", r.Capture.Frames)
	row("  skipped", r.Capture.Skipped)
	if r.Capture.Exported > 0 {
		row("  exported", r.Capture.Exported)
	}

	fmt.Fprintln(tw, "Sessions")
	row("  active", r.Sessions.Active)
	row("  total", r.Sessions.Total)
	row("  peak", r.Sessions.Peak)
	row("  max sessions", r.Sessions.MaxSessions)
	row("  missed data", r.Sessions.MissedData)
	row("  evictions", r.Sessions.Evictions)
	row("  reassembly memory", cmdutil.FormatSize(r.Sessions.ReassemblyMemory))

	c := r.Counters
	fmt.Fprintln(tw, "Connections")
	row("  standard", c.StandardConns)
	row("  client auth", c.ClientAuthConns)
	row("  resumed", c.ResumedConns)
	row("  rehandshake", c.RehandshakeConns)
	row("  ephemeral misses", c.EphemeralMisses)
	row("  resume misses", c.ResumeMisses)
	row("  ciphers unsupported", c.CiphersUnsupported)
	row("  key matches", c.KeyMatches)
	row("  keys unmatched", c.KeysUnmatched)
	row("  key failures", c.KeyFails)

	fmt.Fprintln(tw, "Records")
	row("  decode failures", c.DecodeFails)
	row("  alerts", c.Alerts)
	row("  encrypted packets", c.EncryptedPackets)
	row("  encrypted bytes", c.EncryptedBytes)
	row("  decrypted packets", c.DecryptedPackets)
	row("  decrypted bytes", c.DecryptedBytes)

	if len(r.Errors) > 0 {
		fmt.Fprintln(tw, "Errors")
		kinds := make([]string, 0, len(r.Errors))
		for k := range r.Errors {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			row("  "+k, r.Errors[k])
		}
	}
	return tw.Flush()
}
