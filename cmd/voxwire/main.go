// Command voxwire is a headless real-time voice client: it streams microphone
// PCM from stdin (or a file) to a voice backend over WebSocket and writes the
// synthesized reply audio to stdout (or a file).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/voxwire/voxwire/internal/client"
	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/health"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/pkg/audio/device"
	"github.com/voxwire/voxwire/pkg/protocol"
	"github.com/voxwire/voxwire/pkg/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inPath := flag.String("in", "-", "microphone PCM source (s16le mono), \"-\" for stdin")
	outPath := flag.String("out", "-", "playback PCM destination (s16le mono), \"-\" for stdout")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxwire: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxwire: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voxwire starting",
		"config", *configPath,
		"endpoint", cfg.Server.Endpoint,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxwire",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level applies live; everything else needs a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.RestartRequired {
			slog.Warn("config change requires restart", "fields", strings.Join(d.Restart, ", "))
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	micReader, micClose, err := openIn(*inPath)
	if err != nil {
		slog.Error("failed to open audio input", "path", *inPath, "err", err)
		return 1
	}
	defer micClose()

	outWriter, outClose, err := openOut(*outPath)
	if err != nil {
		slog.Error("failed to open audio output", "path", *outPath, "err", err)
		return 1
	}
	defer outClose()

	mic := device.NewInput(micReader, cfg.Audio.CaptureRate)
	speaker := device.NewOutput(outWriter, cfg.Audio.PlaybackRate)

	// ── Session runtime ───────────────────────────────────────────────────────
	rt := client.NewRuntime(cfg, mic, speaker,
		client.WithLogger(logger),
		client.WithMetrics(metrics),
		client.WithSink(&logSink{log: logger}),
	)

	printStartupSummary(cfg, *inPath, *outPath)

	if err := rt.Start(ctx); err != nil {
		slog.Error("failed to start session", "err", err)
		return 1
	}
	defer rt.Close()

	// ── Metrics endpoint ──────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		health.New(
			health.BoolChecker("transport", rt.Connected, "socket not connected"),
		).Register(mux)
		srv := &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Metrics.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("session running, press Ctrl+C to stop")
	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	rt.Close()

	if err := g.Wait(); err != nil {
		slog.Error("metrics server error", "err", err)
		return 1
	}

	printSessionSummary(rt)
	slog.Info("goodbye")
	return 0
}

// version is injected at build time via -ldflags.
var version = "dev"

// ── Sink ──────────────────────────────────────────────────────────────────────

// logSink surfaces the conversation on the log stream. Audio goes to the
// output device; this is the only textual view a headless run has.
type logSink struct {
	log *slog.Logger
}

var _ client.Sink = (*logSink)(nil)

func (s *logSink) Transcript(m protocol.Message) {
	s.log.Info("transcript", "kind", m.Type, "speaker", m.Speaker, "text", m.Text())
}

func (s *logSink) ToolEvent(m protocol.Message) {
	s.log.Info("tool event", "kind", m.Type, "tool", m.Tool)
}

func (s *logSink) Profile(p json.RawMessage) {
	s.log.Debug("session profile received", "bytes", len(p))
}

func (s *logSink) ConnectionStatus(st transport.Status) {
	s.log.Info("connection status", "status", st)
}

func (s *logSink) SessionEnded(reason string) {
	s.log.Info("session ended", "reason", reason)
}

// ── Startup and exit summaries ────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, inPath, outPath string) {
	fmt.Fprintln(os.Stderr, "╔════════════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║            Voxwire voice client            ║")
	fmt.Fprintln(os.Stderr, "╠════════════════════════════════════════════╣")
	printRow("Endpoint", cfg.Server.Endpoint)
	printRow("Capture", fmt.Sprintf("%d Hz from %s", cfg.Audio.CaptureRate, inPath))
	printRow("Playback", fmt.Sprintf("%d Hz to %s", cfg.Audio.PlaybackRate, outPath))
	if cfg.Metrics.ListenAddr != "" {
		printRow("Metrics", cfg.Metrics.ListenAddr)
	} else {
		printRow("Metrics", "(disabled)")
	}
	fmt.Fprintln(os.Stderr, "╚════════════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 30 {
		value = value[:27] + "..."
	}
	fmt.Fprintf(os.Stderr, "║  %-9s : %-30s ║\n", key, value)
}

func printSessionSummary(rt *client.Runtime) {
	snap := rt.Snapshot()
	slog.Info("session summary",
		"session_id", snap.SessionID,
		"turns", len(snap.Turns),
		"completed", snap.Completed,
		"ttft_p50", snap.FirstToken.P50,
		"ttft_p95", snap.FirstToken.P95,
		"total_p50", snap.Total.P50,
		"total_p95", snap.Total.P95,
		"dropped_blocks", rt.DroppedBlocks(),
		"barge_ins", rt.BargeIns(),
	)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openIn(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func openOut(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
