// Package heuristic decides whether an element matched by a catalog
// selector is really an advertisement.
//
// IsActualAd is a pure function over an ElementContext snapshot so that it
// can be evaluated identically on a live Chrome page and on a parsed HTML
// document.
package heuristic

import "slices"

const (
	adModuleClass    = "ytp-ad-module"
	adOverlayClass   = "ytp-ad-overlay-container"
	adSlotAttr       = "data-ad-slot-id"
	watchContainerTg = "ytd-watch-flexy"
)

// Ancestor is one step of an element's ancestor chain.
type Ancestor struct {
	Tag     string   `json:"tag"`
	Classes []string `json:"classes,omitempty"`
}

// ElementContext is an immutable view of an element's local context.
type ElementContext struct {
	Tag     string            `json:"tag"`
	Classes []string          `json:"classes,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	// Ancestors is ordered nearest first.
	Ancestors []Ancestor `json:"ancestors,omitempty"`
	// HasVideo is true when a <video> element is a descendant.
	HasVideo bool `json:"has_video"`
}

// HasClass reports whether the element carries class c.
func (e ElementContext) HasClass(c string) bool {
	return slices.Contains(e.Classes, c)
}

// HasAttr reports whether the element carries attribute name.
func (e ElementContext) HasAttr(name string) bool {
	_, ok := e.Attrs[name]
	return ok
}

// Closest reports whether the element itself or an ancestor has the given tag
// (tag != "") or class (class != ""), mirroring Element.closest.
func (e ElementContext) Closest(tag, class string) bool {
	if matchStep(e.Tag, e.Classes, tag, class) {
		return true
	}
	for _, a := range e.Ancestors {
		if matchStep(a.Tag, a.Classes, tag, class) {
			return true
		}
	}
	return false
}

func matchStep(gotTag string, gotClasses []string, tag, class string) bool {
	if tag != "" && gotTag != tag {
		return false
	}
	if class != "" && !slices.Contains(gotClasses, class) {
		return false
	}
	return tag != "" || class != ""
}

// Verdict is the guard's decision with a short reason for debug logs.
type Verdict struct {
	Ad     bool
	Reason string
}

// IsActualAd returns whether el should be suppressed.
//
// An element wrapping a video is kept unless it is the player's ad module.
// Inside the watch page container only explicit ad markers are suppressed.
// Anything else matched by a catalog selector is treated as an ad.
func IsActualAd(el ElementContext) Verdict {
	adModule := el.HasClass(adModuleClass)

	if el.HasVideo && !adModule {
		return Verdict{Ad: false, Reason: "wraps video"}
	}

	if el.Closest(watchContainerTg, "") {
		if !adModule && !el.HasAttr(adSlotAttr) && !el.Closest("", adOverlayClass) {
			return Verdict{Ad: false, Reason: "watch page content"}
		}
		return Verdict{Ad: true, Reason: "ad marker in watch page"}
	}

	return Verdict{Ad: true, Reason: "catalog match"}
}
