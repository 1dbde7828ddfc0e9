package static

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hazyhaar/adsweep/adblock/heuristic"
)

type element struct {
	doc *Document
	sel *goquery.Selection
}

func (e *element) Context(_ context.Context) (heuristic.ElementContext, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	n := e.sel.Get(0)
	ec := heuristic.ElementContext{
		Tag:      goquery.NodeName(e.sel),
		Classes:  strings.Fields(e.sel.AttrOr("class", "")),
		HasVideo: e.sel.Find("video").Length() > 0,
	}
	if len(n.Attr) > 0 {
		ec.Attrs = make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			ec.Attrs[a.Key] = a.Val
		}
	}
	e.sel.Parents().Each(func(_ int, p *goquery.Selection) {
		ec.Ancestors = append(ec.Ancestors, heuristic.Ancestor{
			Tag:     goquery.NodeName(p),
			Classes: strings.Fields(p.AttrOr("class", "")),
		})
	})
	return ec, nil
}

func (e *element) Hidden(_ context.Context) (bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return displayNone(e.sel.AttrOr("style", "")), nil
}

func (e *element) Hide(_ context.Context) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	style := e.sel.AttrOr("style", "")
	if displayNone(style) {
		return nil
	}
	e.sel.SetAttr("style", withDisplayNone(style))
	return nil
}

func (e *element) Remove(_ context.Context) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.sel.Remove()
	return nil
}

// Visible approximates offsetParent: an element detached from the document,
// or with a hidden self or ancestor, is not rendered.
func (e *element) Visible(_ context.Context) (bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	for n := e.sel.Get(0); n != nil; n = n.Parent {
		switch n.Type {
		case html.DocumentNode:
			return true, nil
		case html.ElementNode:
			for _, a := range n.Attr {
				if a.Key == "hidden" || (a.Key == "style" && displayNone(a.Val)) {
					return false, nil
				}
			}
		}
	}
	return false, nil
}

func (e *element) Click(_ context.Context) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.clicks++
	return nil
}

// displayNone reports whether the last display declaration in an inline
// style is none.
func displayNone(style string) bool {
	none := false
	for _, decl := range strings.Split(style, ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(prop), "display") {
			continue
		}
		val = strings.ToLower(strings.TrimSpace(val))
		none = val == "none" || strings.HasPrefix(val, "none ") || strings.HasPrefix(val, "none!")
	}
	return none
}

// withDisplayNone drops existing display declarations and appends
// display: none.
func withDisplayNone(style string) string {
	var kept []string
	for _, decl := range strings.Split(style, ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		prop, _, _ := strings.Cut(decl, ":")
		if strings.EqualFold(strings.TrimSpace(prop), "display") {
			continue
		}
		kept = append(kept, decl)
	}
	kept = append(kept, "display: none")
	return strings.Join(kept, "; ") + ";"
}
