package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/adsweep/adblock/dom"
	"github.com/hazyhaar/adsweep/adblock/heuristic"
)

//go:embed watch.js
var watchJS string

const bindingName = "__adsweep_binding"

// Document is a dom.Watchable over a live tab. Mutation batches come from
// an injected MutationObserver through a CDP runtime binding.
type Document struct {
	tab        *Tab
	indicators []string
	mutations  chan []dom.AddedNode
	logger     *slog.Logger
}

// NewDocument wraps tab. Call Attach to start receiving mutations.
func NewDocument(tab *Tab, indicators []string, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{
		tab:        tab,
		indicators: indicators,
		mutations:  make(chan []dom.AddedNode, 64),
		logger:     logger,
	}
}

// Attach installs the binding and the observer script in the current
// document and in every document the tab navigates to later. The binding
// listener stops when ctx is done.
func (d *Document) Attach(ctx context.Context) error {
	page := d.tab.Page

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		return fmt.Errorf("browser: add binding: %w", err)
	}

	// Subscribe before injecting so the observer's first batches have a
	// listener.
	wait := page.Context(ctx).EachEvent(d.onBinding)
	go wait()

	arg, err := json.Marshal(d.indicators)
	if err != nil {
		return fmt.Errorf("browser: marshal indicators: %w", err)
	}
	if _, err := page.EvalOnNewDocument(fmt.Sprintf("(%s)(%s);", watchJS, arg)); err != nil {
		return fmt.Errorf("browser: register observer: %w", err)
	}
	if _, err := page.Context(ctx).Eval(watchJS, d.indicators); err != nil {
		return fmt.Errorf("browser: inject observer: %w", err)
	}

	d.logger.Debug("browser: observer attached", "url", d.tab.PageURL)
	return nil
}

func (d *Document) onBinding(e *proto.RuntimeBindingCalled) {
	if e.Name != bindingName {
		return
	}
	batch, err := decodeBatch(e.Payload)
	if err != nil {
		d.logger.Warn("browser: parse binding payload", "error", err)
		return
	}
	d.deliver(batch)
}

func decodeBatch(payload string) ([]dom.AddedNode, error) {
	var batch []dom.AddedNode
	if err := json.Unmarshal([]byte(payload), &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// deliver queues batch without blocking. Every reported batch qualifies, so
// a full queue already guarantees a resweep and the extra batch can go.
func (d *Document) deliver(batch []dom.AddedNode) bool {
	select {
	case d.mutations <- batch:
		return true
	default:
		d.logger.Debug("browser: mutation queue full, batch dropped")
		return false
	}
}

// Mutations implements dom.Watchable.
func (d *Document) Mutations() <-chan []dom.AddedNode {
	return d.mutations
}

// Query implements dom.Document.
func (d *Document) Query(ctx context.Context, selector string) ([]dom.Element, error) {
	els, err := d.tab.Page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{el: el})
	}
	return out, nil
}

// First implements dom.Document.
func (d *Document) First(ctx context.Context, selector string) (dom.Element, bool, error) {
	has, el, err := d.tab.Page.Context(ctx).Has(selector)
	if err != nil {
		return nil, false, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	if !has {
		return nil, false, nil
	}
	return &element{el: el}, true, nil
}

const snapshotJS = `() => {
	const attrs = {};
	for (const a of this.attributes) attrs[a.name] = a.value;
	const ancestors = [];
	for (let p = this.parentElement; p; p = p.parentElement) {
		ancestors.push({ tag: p.localName, classes: Array.from(p.classList) });
	}
	return {
		tag: this.localName,
		classes: Array.from(this.classList),
		attrs: attrs,
		ancestors: ancestors,
		has_video: this.querySelector('video') !== null,
	};
}`

type element struct {
	el *rod.Element
}

func (e *element) Context(ctx context.Context) (heuristic.ElementContext, error) {
	res, err := e.el.Context(ctx).Eval(snapshotJS)
	if err != nil {
		return heuristic.ElementContext{}, err
	}
	return decodeContext(res.Value.JSON("", ""))
}

func decodeContext(raw string) (heuristic.ElementContext, error) {
	var ec heuristic.ElementContext
	if err := json.Unmarshal([]byte(raw), &ec); err != nil {
		return ec, fmt.Errorf("browser: decode element context: %w", err)
	}
	return ec, nil
}

func (e *element) Hidden(ctx context.Context) (bool, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.style.display === 'none'`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (e *element) Hide(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => { this.style.display = 'none' }`)
	return err
}

func (e *element) Remove(ctx context.Context) error {
	return e.el.Context(ctx).Remove()
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.offsetParent !== null`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// Click dispatches a DOM click, not a mouse event: the button may be covered
// by the player chrome and must still be activated.
func (e *element) Click(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => this.click()`)
	return err
}
