// Package dom defines the document abstraction the sweep runs against and
// the structured types adsweep emits. A Document is either a live Chrome tab
// or a parsed HTML file; both expose the same operations.
package dom

import (
	"context"

	"github.com/hazyhaar/adsweep/adblock/heuristic"
)

// Document is a queryable DOM. Query returns matches in document order and
// an empty slice, not an error, when nothing matches.
type Document interface {
	Query(ctx context.Context, selector string) ([]Element, error)
	// First returns the first match of selector, if any.
	First(ctx context.Context, selector string) (Element, bool, error)
}

// Element is a handle to a node owned by the document.
type Element interface {
	// Context snapshots the element's tag, classes, attributes, ancestors
	// and media descendants for the heuristic guard.
	Context(ctx context.Context) (heuristic.ElementContext, error)
	// Hidden reports whether the element's own display style is none.
	Hidden(ctx context.Context) (bool, error)
	Hide(ctx context.Context) error
	Remove(ctx context.Context) error
	// Visible reports whether the element takes part in layout
	// (offsetParent != null on a live page).
	Visible(ctx context.Context) (bool, error)
	Click(ctx context.Context) error
}

// Watchable documents deliver batches of inserted element summaries, one
// batch per MutationObserver callback.
type Watchable interface {
	Document
	Mutations() <-chan []AddedNode
}

// AddedNode summarises one inserted element.
type AddedNode struct {
	Tag string `json:"tag"`
	// Indicators lists the indicator selectors the node matches itself or
	// through a descendant.
	Indicators []string `json:"indicators,omitempty"`
}
