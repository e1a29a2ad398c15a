package decode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"sync"

	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/endorses/tlsniff/internal/pkg/cmdutil"
	"github.com/endorses/tlsniff/internal/pkg/logger"
	"github.com/endorses/tlsniff/internal/pkg/pcapwriter"
	"github.com/endorses/tlsniff/internal/pkg/signals"
	"github.com/endorses/tlsniff/internal/pkg/sniffer"
	"github.com/endorses/tlsniff/pkg/capture"
)

type options struct {
	readFile    string
	writeFile   string
	keys        []string
	namedKeys   []string
	keyManifest string
	trace       string
	hexDump     bool
	quiet       bool
	statsFormat string
}

// NewCommand returns the decode command.
func NewCommand() *cobra.Command {
	opts := &options{}
	def := sniffer.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decrypt TLS sessions in a capture file",
		Long: `Decrypt TLS sessions in a pcap or pcapng capture file.

Sessions are decoded when they used RSA key exchange with a server whose
private key is given. Sessions with forward secret key exchange are
counted but cannot be decrypted.

Key specifications have the form [name@]address[:port]=file[,password].
The port defaults to 443; an empty address or "*" matches any server.
A name selects the key by the SNI host name the client asked for.

Examples:
  # Decode with one key
  tlsniff decode -r capture.pcap --key 10.0.0.1:443=server.pem

  # Encrypted PEM key and a name based key
  tlsniff decode -r capture.pcapng --key 10.0.0.1=server.pem,secret \
    --named-key www.example.com@10.0.0.1:443=www.pem

  # Keys from a manifest, statistics as YAML, no data output
  tlsniff decode -r capture.pcap --keys keys.yaml -q --stats-format yaml

  # Bounded memory with LRU session eviction
  tlsniff decode -r big.pcap --key :443=server.pem --recovery --max-memory 64M`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.readFile, "read-file", "r", "", `capture file to decode ("-" for stdin)`)
	f.StringVarP(&opts.writeFile, "write-file", "w", "", "write frames of decodable sessions to a pcap file")
	f.StringArrayVar(&opts.keys, "key", nil, "server key: address[:port]=file[,password] (repeatable)")
	f.StringArrayVar(&opts.namedKeys, "named-key", nil, "SNI key: name@address[:port]=file[,password] (repeatable)")
	f.StringVar(&opts.keyManifest, "keys", "", "YAML key manifest")
	f.StringVar(&opts.trace, "trace", "", `per-session trace output file ("-" for stderr)`)
	f.BoolVarP(&opts.hexDump, "hex", "x", false, "print decoded data as a hex dump")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print decoded data")
	f.StringVar(&opts.statsFormat, "stats-format", "text", "statistics output: text, yaml or none")

	f.Int("max-sessions", def.MaxSessions, "maximum concurrently tracked flows")
	f.Duration("session-timeout", def.SessionTimeout, "drop flows idle for longer (capture time)")
	f.Bool("recovery", false, "evict least recently active sessions under memory pressure")
	f.String("max-memory", "", "session memory budget with --recovery (e.g. 64M)")
	f.Duration("hole-timeout", def.HoleTimeout, "how long out of order data waits for a missing segment")
	f.String("max-held-bytes", fmt.Sprint(def.MaxHeldBytes), "out of order bytes held per direction")
	f.Int("resumption-cache", def.ResumptionCacheSize, "cached master secrets for session resumption")

	_ = cmd.MarkFlagRequired("read-file")

	_ = viper.BindPFlag("sniffer.max_sessions", f.Lookup("max-sessions"))
	_ = viper.BindPFlag("sniffer.session_timeout", f.Lookup("session-timeout"))
	_ = viper.BindPFlag("sniffer.recovery", f.Lookup("recovery"))
	_ = viper.BindPFlag("sniffer.max_memory", f.Lookup("max-memory"))
	_ = viper.BindPFlag("sniffer.hole_timeout", f.Lookup("hole-timeout"))
	_ = viper.BindPFlag("sniffer.max_held_bytes", f.Lookup("max-held-bytes"))
	_ = viper.BindPFlag("sniffer.resumption_cache_size", f.Lookup("resumption-cache"))
	_ = viper.BindPFlag("decode.trace", f.Lookup("trace"))
	_ = viper.BindPFlag("decode.keys_file", f.Lookup("keys"))

	return cmd
}

// snifferConfig builds the sniffer configuration from flags and the
// config file.
func snifferConfig(trace string) (sniffer.Config, error) {
	cfg := sniffer.DefaultConfig()
	cfg.MaxSessions = viper.GetInt("sniffer.max_sessions")
	cfg.SessionTimeout = viper.GetDuration("sniffer.session_timeout")
	cfg.Recovery = viper.GetBool("sniffer.recovery")
	cfg.HoleTimeout = viper.GetDuration("sniffer.hole_timeout")
	cfg.ResumptionCacheSize = viper.GetInt("sniffer.resumption_cache_size")
	cfg.TraceOutput = cmdutil.GetStringConfig("decode.trace", trace)

	maxMemory, err := cmdutil.GetSizeConfig("sniffer.max_memory")
	if err != nil {
		return cfg, err
	}
	cfg.MaxMemory = maxMemory

	held, err := cmdutil.GetSizeConfig("sniffer.max_held_bytes")
	if err != nil {
		return cfg, err
	}
	if held > 0 {
		cfg.MaxHeldBytes = int(held)
	}
	return cfg, cfg.Validate()
}

// keySpecs collects keys from flags, the manifest and the config file's
// decode.keys list.
func keySpecs(opts *options) ([]KeySpec, error) {
	var specs []KeySpec
	for _, s := range cmdutil.GetStringSliceConfig("decode.keys", opts.keys) {
		spec, err := ParseKeySpec(s)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	for _, s := range opts.namedKeys {
		spec, err := ParseKeySpec(s)
		if err != nil {
			return nil, err
		}
		if spec.Name == "" {
			return nil, fmt.Errorf("named key %q: expected name@address", s)
		}
		specs = append(specs, spec)
	}
	if manifest := cmdutil.GetStringConfig("decode.keys_file", opts.keyManifest); manifest != "" {
		fromFile, err := LoadKeyManifest(manifest)
		if err != nil {
			return nil, err
		}
		specs = append(specs, fromFile...)
	}
	if len(specs) == 0 {
		return nil, errors.New("no server keys given, use --key, --named-key or --keys")
	}
	return specs, nil
}

func run(ctx context.Context, out io.Writer, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	cleanup := signals.SetupHandler(ctx, cancel)
	defer cleanup()

	cfg, err := snifferConfig(opts.trace)
	if err != nil {
		return err
	}
	specs, err := keySpecs(opts)
	if err != nil {
		return err
	}

	s, err := sniffer.New(cfg)
	if err != nil {
		return err
	}
	defer s.Shutdown()

	for _, spec := range specs {
		if err := spec.Register(s); err != nil {
			return fmt.Errorf("key %s: %w", spec, err)
		}
	}

	src, err := capture.Open(opts.readFile)
	if err != nil {
		return err
	}
	defer src.Close()

	p := &printer{w: out, hex: opts.hexDump, quiet: opts.quiet}
	s.SetHandler(sniffer.HandlerFunc(p.session))

	d := &decoder{sniffer: s, printer: p, writeFile: opts.writeFile, errors: map[string]int{}}
	defer d.close()

	stopStats := signals.OnStatsRequest(ctx, func() {
		if err := writeReport(out, d.report(opts.readFile, src.Format()), "text"); err != nil {
			logger.Warn("Failed to write statistics", "error", err)
		}
	})
	err = src.Each(ctx, d.frame)
	stopStats()

	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("Decode interrupted", "frames", src.Count())
	case err != nil:
		return err
	}

	if err := d.close(); err != nil {
		return err
	}
	return writeReport(out, d.report(opts.readFile, src.Format()), opts.statsFormat)
}

// decoder feeds frames to the sniffer.
type decoder struct {
	sniffer    *sniffer.Sniffer
	printer    *printer
	writeFile  string
	writer     *pcapwriter.Writer
	writerLink layers.LinkType

	// guards the counters against the statistics signal handler
	mu      sync.Mutex
	frames  int
	skipped int
	errors  map[string]int
}

func (d *decoder) frame(pkt capture.PacketInfo) error {
	ts := pkt.CaptureInfo.Timestamp
	var info sniffer.SessionInfo
	buf, err := d.sniffer.DecodeFrame(pkt.Data, pkt.LinkType, ts, &info)

	d.mu.Lock()
	d.frames++
	if err != nil {
		kind := sniffer.Kind(err)
		if errors.Is(kind, sniffer.ErrInvalidPacket) {
			d.skipped++
		} else if kind != nil {
			d.errors[kind.Error()]++
		}
	}
	d.mu.Unlock()
	if err != nil {
		logger.Debug("Frame not decoded", "frame", d.frames, "error", err)
	}

	if info.IsValid && d.writeFile != "" {
		if err := d.export(pkt); err != nil {
			return err
		}
	}

	if buf != nil {
		d.printer.data(info, buf, ts)
		if err := d.sniffer.FreeZeroedDecodeBuffer(buf, buf.Len()); err != nil {
			logger.Warn("Failed to release decode buffer", "error", err)
		}
	}
	return nil
}

func (d *decoder) export(pkt capture.PacketInfo) error {
	if d.writer == nil {
		w, err := pcapwriter.New(&pcapwriter.Config{FilePath: d.writeFile, LinkType: pkt.LinkType})
		if err != nil {
			return err
		}
		d.writer = w
		d.writerLink = pkt.LinkType
	}
	if pkt.LinkType != d.writerLink {
		logger.Debug("Frame not exported, link type differs", "link_type", pkt.LinkType.String())
		return nil
	}
	return d.writer.WritePacket(pkt.CaptureInfo, pkt.Data)
}

func (d *decoder) close() error {
	if d.writer == nil {
		return nil
	}
	return d.writer.Close()
}

func (d *decoder) report(file string, format capture.Format) Report {
	d.mu.Lock()
	r := Report{
		Capture: CaptureSummary{
			File:    file,
			Format:  string(format),
			Frames:  d.frames,
			Skipped: d.skipped,
		},
		Errors: maps.Clone(d.errors),
	}
	d.mu.Unlock()

	if d.writer != nil {
		r.Capture.Exported, _ = d.writer.Stats()
	}
	if ts, err := d.sniffer.SessionStats(); err == nil {
		r.Sessions = ts
	}
	if snap, err := d.sniffer.ReadStatistics(); err == nil {
		r.Counters = snap
	}
	return r
}
