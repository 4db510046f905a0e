// Package main is the entry point for the docmap tool.
//
// docmap compiles a schema description file and manipulates the documents
// of a store through it: checking schemas, exporting them as JSON Schema,
// validating and importing JSONL files, and fetching documents. Configuration
// is read from docmap.yaml and CLI flags, flags taking precedence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/docmap/internal/config"
	"github.com/maruel/docmap/internal/jsonldb"
	"github.com/maruel/docmap/internal/mapper"
	"github.com/maruel/docmap/internal/schemafile"
	"github.com/maruel/docmap/internal/store"
	"github.com/maruel/docmap/internal/store/backends"
	"github.com/maruel/docmap/internal/store/storemetrics"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "docmap: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", "docmap.yaml", "Configuration file")
	storeDSN := flag.String("store", "", "Document store (mem:, jsonl:<dir>, sqlite:<file>)")
	schemas := flag.String("schemas", "", "Schema description file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	metricsAddr := flag.String("metrics", "", "Address to serve Prometheus metrics on")
	flag.Usage = usage
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}
	args := flag.Args()
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(newLogger(ll))

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "store":
			cfg.Store = *storeDSN
		case "schemas":
			cfg.Schemas = *schemas
		case "log-level":
			cfg.LogLevel = *logLevel
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, _ := cfg.Level()
	ll.Set(level)

	if args[0] == "init" {
		if len(args) != 1 {
			return fmt.Errorf("unknown arguments: %v", args[1:])
		}
		if _, err := os.Stat(*configPath); err == nil {
			return fmt.Errorf("%s already exists", *configPath)
		}
		if err := cfg.Save(*configPath); err != nil {
			return err
		}
		slog.InfoContext(ctx, "Wrote configuration", "path", *configPath)
		return nil
	}

	f, err := schemafile.Parse(cfg.Schemas)
	if err != nil {
		return err
	}
	db, err := backends.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	if cfg.Watch {
		if jdb, ok := db.(*jsonldb.Database); ok {
			if err := jdb.Watch(ctx, cfg.WatchInterval); err != nil {
				_ = db.Close()
				return fmt.Errorf("failed to watch store: %w", err)
			}
		} else {
			slog.WarnContext(ctx, "Watching is only supported by jsonl stores", "store", cfg.Store)
		}
	}
	if cfg.MetricsAddr != "" {
		var shutdown func()
		db, shutdown = serveMetrics(ctx, cfg.MetricsAddr, db)
		defer shutdown()
	}
	reg := mapper.Default
	reg.Connect(db)
	defer func() {
		if err := reg.Close(); err != nil {
			slog.WarnContext(ctx, "Failed to close store", "err", err)
		}
	}()
	if _, err := f.Compile(reg); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Loaded schemas", "path", cfg.Schemas, "store", cfg.Store, "schemas", len(f.Schemas))
	c := &cli{reg: reg, out: os.Stdout}
	return c.run(ctx, args)
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "usage: docmap [flags] <command> [args]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-32s %s\n", c.usage, c.help)
	}
	fmt.Fprintf(out, "  %-32s %s\n\nflags:\n", "init", "write the default configuration file")
	flag.PrintDefaults()
}

func newLogger(ll *slog.LevelVar) *slog.Logger {
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case int64:
				skip = t == 0
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// serveMetrics instruments db and serves its metrics on addr until the
// returned function is called.
func serveMetrics(ctx context.Context, addr string, db store.Database) (store.Database, func()) {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	db = storemetrics.New(promReg).Wrap(db)
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.InfoContext(ctx, "Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "Metrics server failed", "err", err)
		}
	}()
	return db, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(ctx, "Failed to stop metrics server", "err", err)
		}
	}
}

func printVersion() {
	version := "dev"
	goVersion := "unknown"
	revision := "unknown"
	dirty := false
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			version = v
		}
		goVersion = info.GoVersion
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.modified":
				dirty = setting.Value == "true"
			}
		}
	}
	fmt.Printf("docmap %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}
