package adblock

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hazyhaar/adsweep/adblock/dom"
	"github.com/hazyhaar/adsweep/adblock/internal/history"
	"github.com/hazyhaar/adsweep/adblock/internal/sink"
)

// Sink is the output interface for sweep reports.
type Sink = sink.Sink

// NewStdoutSink creates a JSON-lines sink. A nil writer means stdout.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink.
func NewCallbackSink(fn func(ctx context.Context, rep dom.Report) error) Sink {
	return sink.NewCallback(fn)
}

// NewHistorySink creates a sink that keeps reports in the SQLite database
// at path for retention (zero keeps them forever). The status API serves
// them under /pages/{id}/reports.
func NewHistorySink(path string, retention time.Duration, logger *slog.Logger) (Sink, error) {
	return history.Open(path, history.Config{Retention: retention, Logger: logger})
}

// SinksFromConfig builds the sinks a configuration declares, defaulting to
// stdout when none is declared.
func SinksFromConfig(cfg *Config, logger *slog.Logger) ([]Sink, error) {
	var sinks []Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, NewStdoutSink(nil))
		case "webhook":
			sinks = append(sinks, NewWebhookSink(sc.URL, logger))
		case "sqlite":
			h, err := NewHistorySink(sc.Path, sc.Retention, logger)
			if err != nil {
				for _, s := range sinks {
					s.Close()
				}
				return nil, fmt.Errorf("adblock: sqlite sink: %w", err)
			}
			sinks = append(sinks, h)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NewStdoutSink(nil))
	}
	return sinks, nil
}
