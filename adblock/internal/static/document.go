// Package static implements dom.Document over a parsed HTML tree. It is used
// to filter saved pages offline and as the fixture document in tests.
//
// There is no layout engine and no script execution: visibility is derived
// from inline styles and the hidden attribute, and clicks are only counted.
package static

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/adsweep/adblock/dom"
)

// Document is a goquery-backed dom.Watchable. All methods are safe for
// concurrent use.
type Document struct {
	mu         sync.Mutex
	doc        *goquery.Document
	indicators []indicator
	mutations  chan []dom.AddedNode
	clicks     int
}

type indicator struct {
	raw string
	sel cascadia.Selector
}

// Option configures a Document.
type Option func(*Document) error

// WithIndicators sets the selectors reported in AddedNode.Indicators.
func WithIndicators(selectors []string) Option {
	return func(d *Document) error {
		for _, s := range selectors {
			sel, err := cascadia.Compile(s)
			if err != nil {
				return fmt.Errorf("static: indicator %q: %w", s, err)
			}
			d.indicators = append(d.indicators, indicator{raw: s, sel: sel})
		}
		return nil
	}
}

// Parse reads an HTML document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("static: parse: %w", err)
	}
	d := &Document{
		doc:       doc,
		mutations: make(chan []dom.AddedNode, 64),
	}
	for _, o := range opts {
		if err := o(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

// Query implements dom.Document.
func (d *Document) Query(_ context.Context, selector string) ([]dom.Element, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("static: selector %q: %w", selector, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var out []dom.Element
	d.doc.FindMatcher(m).Each(func(_ int, s *goquery.Selection) {
		out = append(out, &element{doc: d, sel: s})
	})
	return out, nil
}

// First implements dom.Document.
func (d *Document) First(ctx context.Context, selector string) (dom.Element, bool, error) {
	els, err := d.Query(ctx, selector)
	if err != nil || len(els) == 0 {
		return nil, false, err
	}
	return els[0], true, nil
}

// Mutations implements dom.Watchable.
func (d *Document) Mutations() <-chan []dom.AddedNode {
	return d.mutations
}

// Insert appends markup as the last children of the first element matching
// parentSelector and publishes one mutation batch describing the inserted
// elements, the way a MutationObserver callback would.
func (d *Document) Insert(ctx context.Context, parentSelector, markup string) error {
	m, err := cascadia.Compile(parentSelector)
	if err != nil {
		return fmt.Errorf("static: selector %q: %w", parentSelector, err)
	}

	d.mu.Lock()
	parent := d.doc.FindMatcher(m).First()
	if parent.Length() == 0 {
		d.mu.Unlock()
		return fmt.Errorf("static: insert: no element matches %q", parentSelector)
	}
	target := parent.Get(0)

	nodes, err := html.ParseFragment(strings.NewReader(markup), target)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("static: insert: %w", err)
	}

	var batch []dom.AddedNode
	for _, n := range nodes {
		target.AppendChild(n)
		if n.Type == html.ElementNode {
			batch = append(batch, d.describe(n))
		}
	}
	d.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	select {
	case d.mutations <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// describe must be called with d.mu held.
func (d *Document) describe(n *html.Node) dom.AddedNode {
	added := dom.AddedNode{Tag: n.Data}
	for _, ind := range d.indicators {
		if ind.sel.Match(n) || ind.sel.MatchFirst(n) != nil {
			added.Indicators = append(added.Indicators, ind.raw)
		}
	}
	return added
}

// Clicks returns how many Click calls the document received.
func (d *Document) Clicks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clicks
}

// Render writes the current document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.doc.Nodes {
		if err := html.Render(w, n); err != nil {
			return fmt.Errorf("static: render: %w", err)
		}
	}
	return nil
}

// HTML returns the rendered document.
func (d *Document) HTML() (string, error) {
	var b strings.Builder
	if err := d.Render(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}
