package sink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/adsweep/adblock/dom"
)

// Router hands every report to all its sinks in order. A failing sink is
// logged and skipped; the joined errors are returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a Router over sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Send(ctx context.Context, rep dom.Report) error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Send(ctx, rep); err != nil {
			r.logger.Warn("sink: report not delivered",
				"report_id", rep.ID, "page_id", rep.PageID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
