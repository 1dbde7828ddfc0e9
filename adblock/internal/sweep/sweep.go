// Package sweep applies the selector catalog to a document: every match is
// checked by the heuristic guard (for guarded entries) and then hidden or
// removed according to the suppression policy. It also clicks the player's
// skip button when it is rendered.
//
// Sweeps never fail. Query and element errors are logged and counted in the
// report, and the sweep moves on to the next match.
package sweep

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/adsweep/adblock/catalog"
	"github.com/hazyhaar/adsweep/adblock/dom"
	"github.com/hazyhaar/adsweep/adblock/heuristic"
)

// Policy is the suppression action.
type Policy string

const (
	// PolicyHide sets display:none. Reversible, and a later sweep can still
	// inspect the element.
	PolicyHide Policy = "hide"
	// PolicyRemove detaches the element. A false positive cannot be undone.
	PolicyRemove Policy = "remove"
)

// ParsePolicy accepts "hide", "remove" or "" (hide).
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyHide:
		return PolicyHide, nil
	case PolicyRemove:
		return PolicyRemove, nil
	}
	return "", fmt.Errorf("sweep: unknown policy %q", s)
}

// Config configures a Sweeper.
type Config struct {
	Catalog *catalog.Catalog
	Policy  Policy
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Catalog == nil {
		c.Catalog = catalog.Default()
	}
	if c.Policy == "" {
		c.Policy = PolicyHide
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Sweeper runs sweeps. It holds no per-document state, so one Sweeper can
// serve any number of documents.
type Sweeper struct {
	entries []catalog.Entry
	skip    string
	policy  Policy
	logger  *slog.Logger
}

// New creates a Sweeper.
func New(cfg Config) *Sweeper {
	cfg.defaults()
	return &Sweeper{
		entries: cfg.Catalog.Entries(),
		skip:    cfg.Catalog.Skip(),
		policy:  cfg.Policy,
		logger:  cfg.Logger,
	}
}

// Policy returns the suppression policy in use.
func (s *Sweeper) Policy() Policy { return s.policy }

// Sweep processes catalog entries in order and their matches in document
// order. Only the count fields of the returned report are set.
func (s *Sweeper) Sweep(ctx context.Context, doc dom.Document) dom.Report {
	var rep dom.Report

	for _, entry := range s.entries {
		if ctx.Err() != nil {
			return rep
		}

		els, err := doc.Query(ctx, entry.Selector)
		if err != nil {
			rep.Errors++
			s.logger.Warn("sweep: query failed", "selector", entry.Selector, "error", err)
			continue
		}

		for _, el := range els {
			rep.Matched++
			s.apply(ctx, entry, el, &rep)
		}
	}

	return rep
}

func (s *Sweeper) apply(ctx context.Context, entry catalog.Entry, el dom.Element, rep *dom.Report) {
	if entry.Guarded {
		ec, err := el.Context(ctx)
		if err != nil {
			rep.Errors++
			s.logger.Debug("sweep: element context", "selector", entry.Selector, "error", err)
			return
		}
		if v := heuristic.IsActualAd(ec); !v.Ad {
			rep.Rejected++
			s.logger.Debug("sweep: guard kept element",
				"selector", entry.Selector, "tag", ec.Tag, "reason", v.Reason)
			return
		}
	}

	switch s.policy {
	case PolicyRemove:
		if err := el.Remove(ctx); err != nil {
			rep.Errors++
			s.logger.Debug("sweep: remove", "selector", entry.Selector, "error", err)
			return
		}
	default:
		hidden, err := el.Hidden(ctx)
		if err != nil {
			rep.Errors++
			s.logger.Debug("sweep: hidden check", "selector", entry.Selector, "error", err)
			return
		}
		if hidden {
			rep.Skipped++
			return
		}
		if err := el.Hide(ctx); err != nil {
			rep.Errors++
			s.logger.Debug("sweep: hide", "selector", entry.Selector, "error", err)
			return
		}
	}
	rep.Suppressed++
}

// SkipAd clicks the first skip control if it is rendered. It reports whether
// a click was sent; whether playback actually advanced is not verified.
func (s *Sweeper) SkipAd(ctx context.Context, doc dom.Document) bool {
	el, ok, err := doc.First(ctx, s.skip)
	if err != nil {
		s.logger.Debug("sweep: skip lookup", "error", err)
		return false
	}
	if !ok {
		return false
	}

	visible, err := el.Visible(ctx)
	if err != nil || !visible {
		return false
	}

	if err := el.Click(ctx); err != nil {
		s.logger.Debug("sweep: skip click", "error", err)
		return false
	}
	s.logger.Info("sweep: skip button clicked")
	return true
}
