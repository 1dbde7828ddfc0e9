// Package catalog holds the selector lists that identify YouTube ad
// containers, the skip control and the insertion indicators watched by
// the mutation observer.
//
// The default catalog is deliberately narrow: only ad-framework classes,
// ad attributes and ad renderer tags. Substring selectors such as
// [class*="ad"] are not shipped; operators who want them add them as extra
// selectors and those still pass through the heuristic guard.
package catalog

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
)

// Entry is a single catalog selector.
type Entry struct {
	Selector string `json:"selector" yaml:"selector"`
	// Guarded entries are checked by the heuristic guard before suppression.
	// Unguarded entries carry an explicit ad marker and are always suppressed.
	Guarded bool `json:"guarded" yaml:"guarded"`
}

// Catalog is an ordered, immutable list of entries plus the skip-control
// selector and the mutation indicators.
type Catalog struct {
	entries    []Entry
	skip       string
	indicators []string
}

// Player and masthead selectors checked by the guard.
var guardedSelectors = []string{
	".ytp-ad-module",
	".ytp-ad-overlay-container",
	".ytp-ad-text-overlay",
	".ytp-ad-player-overlay",
	".ytp-ad-player-overlay-skip-or-preview",
	".ytp-ad-skip-button-container",
	".ytp-ad-button-container",

	`[id^="google_ads_iframe"]`,
	"[data-ad-unit-path]",
	"ytd-ad-slot-renderer",
	"ytd-display-ad-renderer",
	"ytd-promoted-sparkles-web-renderer",
	"ytd-promoted-video-renderer",
	"ytd-compact-promoted-video-renderer",
	"ytd-in-feed-ad-layout-renderer",

	"#masthead-ad",
	".masthead-ad-control",
}

// Selectors that carry an explicit ad marker.
var markedSelectors = []string{
	`ytd-reel-video-renderer[is-ad="true"]`,
	"[data-ad-slot-id]",
}

// SkipSelector matches both generations of the player's skip button.
const SkipSelector = ".ytp-ad-skip-button, .ytp-skip-ad-button"

// Insertions carrying one of these are worth an early resweep.
var defaultIndicators = []string{
	".ytp-ad-module",
	"[data-ad-slot-id]",
	"ytd-ad-slot-renderer",
	".ytp-ad-overlay-container",
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c := &Catalog{
		skip:       SkipSelector,
		indicators: append([]string(nil), defaultIndicators...),
	}
	for _, s := range guardedSelectors {
		c.entries = append(c.entries, Entry{Selector: s, Guarded: true})
	}
	for _, s := range markedSelectors {
		c.entries = append(c.entries, Entry{Selector: s})
	}
	return c
}

// With returns a copy of c with extra guarded selectors appended after the
// built-in ones. Blank and duplicate selectors are ignored.
func (c *Catalog) With(extra ...string) *Catalog {
	out := &Catalog{
		entries:    append([]Entry(nil), c.entries...),
		skip:       c.skip,
		indicators: append([]string(nil), c.indicators...),
	}
	seen := make(map[string]bool, len(out.entries))
	for _, e := range out.entries {
		seen[e.Selector] = true
	}
	for _, s := range extra {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out.entries = append(out.entries, Entry{Selector: s, Guarded: true})
	}
	return out
}

// Entries returns the entries in sweep order.
func (c *Catalog) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Skip returns the skip-control selector.
func (c *Catalog) Skip() string { return c.skip }

// Indicators returns the mutation indicator selectors.
func (c *Catalog) Indicators() []string {
	return append([]string(nil), c.indicators...)
}

// Validate compiles every selector and reports the first one that does not
// parse.
func (c *Catalog) Validate() error {
	all := make([]string, 0, len(c.entries)+len(c.indicators)+1)
	for _, e := range c.entries {
		all = append(all, e.Selector)
	}
	all = append(all, c.skip)
	all = append(all, c.indicators...)

	for _, s := range all {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("catalog: empty selector")
		}
		if _, err := cascadia.Compile(s); err != nil {
			return fmt.Errorf("catalog: selector %q: %w", s, err)
		}
	}
	return nil
}
