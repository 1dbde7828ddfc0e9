package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is a navigated page ready to be swept.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string

	router *rod.HijackRouter
}

// OpenTab creates a tab, applies stealth and URL blocking, navigates to
// pageURL and waits for the load event.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	tab := &Tab{Page: page, PageURL: pageURL, PageID: pageID}

	if len(mgr.cfg.BlockURLs) > 0 {
		router, err := blockRequests(page, mgr.cfg.BlockURLs)
		if err != nil {
			mgr.cfg.Logger.Warn("browser: request blocking failed", "error", err)
		} else {
			tab.router = router
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		tab.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	// The sweep copes with a partially loaded page; a slow load is not fatal.
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load", "url", pageURL, "error", err)
	}

	return tab, nil
}

// Close stops request blocking and closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
		t.router = nil
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
