// Command adsweep suppresses YouTube ads in Chrome tabs.
//
// Usage:
//
//	adsweep -config adsweep.yaml                 # sweep pages from YAML config
//	adsweep -config adsweep.yaml -db pages.db    # plus pages from SQLite
//	adsweep -url https://www.youtube.com/        # quick single-page sweep
//	adsweep -filter page.html -out clean.html    # sweep a saved page offline
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/adsweep/adblock"
	"github.com/hazyhaar/adsweep/idgen"
)

type options struct {
	configPath string
	dbPath     string
	dbPoll     time.Duration
	singleURL  string
	filterPath string
	outPath    string
	httpAddr   string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to adsweep.yaml config file")
	flag.StringVar(&opts.dbPath, "db", "", "SQLite database with a sweep_pages table")
	flag.DurationVar(&opts.dbPoll, "db-poll", 2*time.Second, "how often -db is checked for page changes")
	flag.StringVar(&opts.singleURL, "url", "", "sweep a single URL (stdout sink)")
	flag.StringVar(&opts.filterPath, "filter", "", "sweep a saved HTML file and exit")
	flag.StringVar(&opts.outPath, "out", "", "output file for -filter (default stdout)")
	flag.StringVar(&opts.httpAddr, "http", "", "listen address for the status API, e.g. :8090")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, opts); err != nil {
		logger.Error("adsweep: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	if opts.filterPath != "" {
		return runFilter(ctx, logger, opts)
	}

	if opts.singleURL != "" {
		cfg := adblock.DefaultConfig()
		cfg.Pages = []adblock.PageConfig{{ID: idgen.Page(), URL: opts.singleURL}}
		return serve(ctx, logger, cfg, opts, adblock.NewStdoutSink(nil))
	}

	if opts.configPath != "" || opts.dbPath != "" {
		cfg, err := loadConfig(ctx, opts)
		if err != nil {
			return err
		}
		sinks, err := adblock.SinksFromConfig(cfg, logger)
		if err != nil {
			return err
		}
		return serve(ctx, logger, cfg, opts, sinks...)
	}

	fmt.Fprintln(os.Stderr, "usage: adsweep -config <file> [-db <file>] | -url <url> | -filter <file> [-out <file>]")
	os.Exit(2)
	return nil
}

func loadConfig(ctx context.Context, opts options) (*adblock.Config, error) {
	cfg := adblock.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = adblock.LoadConfigFile(opts.configPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if opts.dbPath != "" {
		if err := adblock.MergeConfigDB(ctx, cfg, opts.dbPath); err != nil {
			return nil, fmt.Errorf("load config db: %w", err)
		}
	}
	return cfg, nil
}

// runFilter sweeps a saved page. The report goes to the log; sinks come
// only from an explicit config so they never mix with the HTML on stdout.
func runFilter(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg := adblock.DefaultConfig()
	var sinks []adblock.Sink
	if opts.configPath != "" {
		var err error
		if cfg, err = loadConfig(ctx, opts); err != nil {
			return err
		}
		for _, sc := range cfg.Sinks {
			switch sc.Type {
			case "webhook":
				sinks = append(sinks, adblock.NewWebhookSink(sc.URL, logger))
			case "sqlite":
				h, err := adblock.NewHistorySink(sc.Path, sc.Retention, logger)
				if err != nil {
					return err
				}
				sinks = append(sinks, h)
			}
		}
	}

	in, err := os.Open(opts.filterPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	var out io.Writer = os.Stdout
	if opts.outPath != "" {
		f, err := os.Create(opts.outPath)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	b := adblock.New(cfg, logger, sinks...)
	defer b.Stop()

	rep, err := b.Filter(ctx, in, out, opts.filterPath)
	if err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	logger.Info("adsweep: filtered", "file", opts.filterPath,
		"matched", rep.Matched, "suppressed", rep.Suppressed, "rejected", rep.Rejected)
	return nil
}

func serve(ctx context.Context, logger *slog.Logger, cfg *adblock.Config, opts options, sinks ...adblock.Sink) error {
	b := adblock.New(cfg, logger, sinks...)
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer b.Stop()

	if opts.dbPath != "" {
		go func() {
			load := func(ctx context.Context) (*adblock.Config, error) { return loadConfig(ctx, opts) }
			if err := b.WatchConfigDB(ctx, opts.dbPath, opts.dbPoll, load); err != nil {
				logger.Error("adsweep: config db watch", "error", err)
			}
		}()
	}

	httpAddr := opts.httpAddr
	if httpAddr == "" {
		httpAddr = cfg.HTTP
	}
	if httpAddr != "" {
		srv := &http.Server{
			Addr:              httpAddr,
			Handler:           b.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("adsweep: status API listening", "addr", httpAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("adsweep: status API", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	return nil
}
