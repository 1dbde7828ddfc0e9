package browser

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockRequests fails every request whose URL matches one of patterns
// (Fetch.RequestPattern glob syntax, e.g. "*doubleclick.net*") and lets
// everything else through untouched.
func blockRequests(page *rod.Page, patterns []string) (*rod.HijackRouter, error) {
	router := page.HijackRequests()

	err := rod.Try(func() {
		for _, p := range patterns {
			router.MustAdd(p, func(h *rod.Hijack) {
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			})
		}
	})
	if err != nil {
		router.Stop()
		return nil, err
	}

	go router.Run()
	return router, nil
}
