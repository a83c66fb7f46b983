package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"qstream/pkg/bridge/foxglove"
	"qstream/pkg/config"
	"qstream/pkg/display"
	"qstream/pkg/engine"
	"qstream/pkg/httpapi"
	"qstream/pkg/logger"
	"qstream/pkg/observability"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "stream":
		return runStream(args[1:], stdout, stderr)
	case "mock":
		return runMock(args[1:], stderr)
	case "init":
		return runInit(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintln(stderr, "unknown command:", args[0])
		printUsage(stderr)
		return 2
	}
}

type streamFlags struct {
	configPath string
	addr       string
	jsonl      string
	httpAddr   string
	logLevel   string
	logFormat  string
	report     time.Duration
	maxPayload int
	reconnect  bool
	foxglove   bool
	display    bool
	duration   time.Duration
}

func newStreamFlagSet(stderr io.Writer) (*flag.FlagSet, *streamFlags) {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &streamFlags{}
	fs.StringVar(&f.configPath, "config", config.DefaultConfigPath, "config file path")
	fs.StringVar(&f.addr, "addr", "", "device streaming address host:port")
	fs.StringVar(&f.jsonl, "jsonl", "", "JSONL summary output path (default: stdout)")
	fs.StringVar(&f.httpAddr, "http", "", "HTTP API listen address")
	fs.StringVar(&f.logLevel, "log-level", "", "log level")
	fs.StringVar(&f.logFormat, "log-format", "", "log format: console or json")
	fs.DurationVar(&f.report, "report", 0, "reporting interval")
	fs.IntVar(&f.maxPayload, "max-payload", 0, "largest payload the frame buffer may hold")
	fs.BoolVar(&f.reconnect, "reconnect", false, "redial after the stream ends with an error")
	fs.BoolVar(&f.foxglove, "foxglove", false, "serve summaries to Foxglove over websocket")
	fs.BoolVar(&f.display, "display", false, "show a live terminal display (press c to stop)")
	fs.DurationVar(&f.duration, "duration", 0, "stop streaming after this long")
	return fs, f
}

// apply overrides cfg with the flags that were set explicitly.
func (f *streamFlags) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "addr":
			cfg.Stream.Addr = f.addr
		case "jsonl":
			cfg.Output.JSONL = f.jsonl
		case "http":
			cfg.HTTP.Addr = f.httpAddr
		case "log-level":
			cfg.Log.Level = f.logLevel
		case "log-format":
			cfg.Log.Format = f.logFormat
		case "report":
			cfg.Stream.ReportInterval = f.report.String()
		case "max-payload":
			cfg.Stream.MaxPayload = f.maxPayload
		case "reconnect":
			cfg.Stream.Reconnect = f.reconnect
		case "foxglove":
			cfg.Foxglove.Enabled = f.foxglove
		}
	})
}

func loadStreamConfig(args []string, stderr io.Writer) (config.Config, *streamFlags, error) {
	fs, f := newStreamFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, nil, err
	}
	cfg, _, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	f.apply(fs, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, f, nil
}

func runStream(args []string, stdout io.Writer, stderr io.Writer) int {
	cfg, f, err := loadStreamConfig(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "qstreamd:", err)
		return 2
	}

	log := observability.InitLogger("qstreamd", observability.LogOptions{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Out:    stderr,
	})
	observability.RegisterMetrics()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(sigCtx, cfg, f, stdout, log); err != nil {
		log.Error().Err(err).Msg("qstreamd stopped")
		return 1
	}
	return 0
}

func serve(parent context.Context, cfg config.Config, f *streamFlags, stdout io.Writer, log zerolog.Logger) error {
	out, closeOut, err := jsonlOutput(cfg.Output.JSONL, f.display, stdout)
	if err != nil {
		return err
	}
	defer closeOut()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	hub := engine.NewHub()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	var cancelChecks []engine.CancelCheck
	if f.duration > 0 {
		cancelChecks = append(cancelChecks, engine.CancelAfter(f.duration))
	}

	if out != nil {
		w := logger.NewJSONLWriter(out)
		sub := hub.Subscribe()
		g.Go(func() error {
			return w.Consume(gctx, sub)
		})
	}

	if f.display {
		d := display.New(hub, cfg.Stream.Addr, display.WithOutput(stdout))
		cancelChecks = append(cancelChecks, d.CancelCheck())
		g.Go(func() error {
			return d.Run(gctx)
		})
	}

	sup := newSupervisor(cfg.Stream, hub, engine.CancelAny(cancelChecks...), log)

	if cfg.HTTP.Addr != "" {
		api := httpapi.NewServer(cfg.HTTP.Addr, hub, sup.State, log)
		g.Go(func() error {
			return api.Run(gctx)
		})
	}

	if cfg.Foxglove.Enabled {
		fcfg := foxglove.DefaultConfig()
		fcfg.WSAddr = cfg.Foxglove.WSAddr
		fcfg.Topic = cfg.Foxglove.Topic
		fcfg.Name = cfg.Foxglove.Name
		fox := foxglove.NewServer(fcfg, hub, log)
		g.Go(func() error {
			return fox.Run(gctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return sup.Run(gctx)
	})

	return g.Wait()
}

// jsonlOutput picks the summary sink. Without a path, summaries go to stdout
// unless the terminal display owns it.
func jsonlOutput(path string, displayOn bool, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" {
		if displayOn {
			return nil, func() {}, nil
		}
		return stdout, func() {}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open jsonl output: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

func runInit(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", config.DefaultConfigPath, "config file to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if _, err := os.Stat(*path); err == nil && !*force {
		fmt.Fprintln(stderr, "config already exists:", *path)
		return 1
	}
	cfg := config.Default()
	if err := cfg.Save(*path); err != nil {
		fmt.Fprintln(stderr, "write config:", err)
		return 1
	}
	fmt.Fprintln(stdout, "wrote", *path)
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  qstreamd stream [--config qstream.toml] [--addr host:port] [--jsonl file] [--http addr] [--report 250ms]")
	fmt.Fprintln(w, "                  [--reconnect] [--foxglove] [--display] [--duration 10s] [--log-level info] [--log-format console]")
	fmt.Fprintln(w, "  qstreamd mock   [--addr 127.0.0.1:1234] [--rate 100] [--analog 4] [--samples 50]")
	fmt.Fprintln(w, "  qstreamd init   [--config qstream.toml] [--force]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  stream   decode a device stream and report summaries")
	fmt.Fprintln(w, "  mock     serve a synthetic device stream")
	fmt.Fprintln(w, "  init     write a default config file")
}
