// Package adblock suppresses advertisements on YouTube pages driven through
// Chrome. Each configured page gets a tab and a sweeping session: an initial
// sweep, resweeps after ad insertions reported by an injected
// MutationObserver, and a periodic fallback sweep.
//
// The same sweep runs offline on saved HTML through Filter.
package adblock

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/adsweep/adblock/catalog"
	"github.com/hazyhaar/adsweep/adblock/dom"
	"github.com/hazyhaar/adsweep/adblock/internal/browser"
	"github.com/hazyhaar/adsweep/adblock/internal/session"
	"github.com/hazyhaar/adsweep/adblock/internal/sink"
	"github.com/hazyhaar/adsweep/adblock/internal/static"
	"github.com/hazyhaar/adsweep/adblock/internal/sweep"
	"github.com/hazyhaar/adsweep/idgen"
)

// Blocker is the top-level orchestrator. It owns the browser, one session
// per page, and the sinks.
type Blocker struct {
	cfg    *Config
	mgr    *browser.Manager
	sinkR  *sink.Router
	recent reportHistory
	logger *slog.Logger

	mu    sync.Mutex
	pages map[string]*pageRun
}

// reportHistory is implemented by sinks that can replay past reports.
type reportHistory interface {
	Recent(ctx context.Context, pageID string, limit int) ([]dom.Report, error)
}

type pageRun struct {
	src    PageConfig // as configured, before an id is assigned
	cfg    PageConfig
	tab    *browser.Tab
	sess   *session.Session
	cancel context.CancelFunc
	done   chan struct{}
}

// PageStatus describes a running page.
type PageStatus struct {
	ID    string         `json:"id"`
	URL   string         `json:"url"`
	Stats session.Stats `json:"stats"`
}

// New creates a Blocker from configuration. Nothing is launched until Start.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) *Blocker {
	if logger == nil {
		logger = slog.Default()
	}

	mode, err := browser.ParseMode(cfg.Browser.Mode)
	if err != nil {
		logger.Warn("adblock: falling back to headless", "error", err)
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:       cfg.Browser.Remote,
		Mode:            mode,
		Stealth:         cfg.Browser.Stealth,
		BlockURLs:       cfg.Browser.BlockURLs,
		RecycleInterval: cfg.Browser.RecycleInterval,
		MemoryLimit:     cfg.Browser.MemoryLimit,
		XvfbDisplay:     cfg.Browser.XvfbDisplay,
		Logger:          logger,
	})

	b := &Blocker{
		cfg:    cfg,
		mgr:    mgr,
		sinkR:  sink.NewRouter(logger, sinks...),
		logger: logger,
		pages:  make(map[string]*pageRun),
	}
	for _, s := range sinks {
		if h, ok := s.(reportHistory); ok {
			b.recent = h
			break
		}
	}
	return b
}

// Start launches the browser and opens every configured page.
func (b *Blocker) Start(ctx context.Context) error {
	if _, err := b.mgr.Start(ctx); err != nil {
		return fmt.Errorf("adblock: start browser: %w", err)
	}

	b.mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: b.stopAll,
		AfterRecycle:  func(*rod.Browser) { b.reopenAll(ctx) },
	})

	for _, page := range b.cfg.Pages {
		if err := b.SweepPage(ctx, page); err != nil {
			b.logger.Error("adblock: failed to open page", "url", page.URL, "error", err)
		}
	}
	return nil
}

// SweepPage opens a tab on the page and starts its session. The session
// runs until ctx is done or Stop is called.
func (b *Blocker) SweepPage(ctx context.Context, pageCfg PageConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sweepPageLocked(ctx, pageCfg)
}

func (b *Blocker) sweepPageLocked(ctx context.Context, pageCfg PageConfig) error {
	src := pageCfg
	if pageCfg.ID == "" {
		pageCfg.ID = idgen.Page()
	}
	if _, ok := b.pages[pageCfg.ID]; ok {
		return fmt.Errorf("adblock: page %s already running", pageCfg.ID)
	}

	cat, policy, err := b.resolve(pageCfg)
	if err != nil {
		return err
	}

	tab, err := browser.OpenTab(ctx, b.mgr, pageCfg.URL, pageCfg.ID)
	if err != nil {
		return fmt.Errorf("adblock: open tab: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	doc := browser.NewDocument(tab, cat.Indicators(), b.logger)
	if err := doc.Attach(sessCtx); err != nil {
		cancel()
		tab.Close()
		return fmt.Errorf("adblock: attach observer: %w", err)
	}

	run := &pageRun{
		src:    src,
		cfg:    pageCfg,
		tab:    tab,
		sess:   b.newSession(doc, cat, policy, pageCfg),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.pages[pageCfg.ID] = run

	go func() {
		defer close(run.done)
		run.sess.Run(sessCtx)
	}()

	b.logger.Info("adblock: sweeping page", "url", pageCfg.URL, "id", pageCfg.ID, "policy", policy)
	return nil
}

// Filter runs one sweep over an HTML document read from r and writes the
// filtered document to w. Defaults and extra selectors come from the sweep
// configuration; the report is also sent to the sinks.
func (b *Blocker) Filter(ctx context.Context, r io.Reader, w io.Writer, source string) (dom.Report, error) {
	pageCfg := PageConfig{ID: idgen.Page(), URL: source, Policy: b.cfg.Sweep.Policy}
	cat, policy, err := b.resolve(pageCfg)
	if err != nil {
		return dom.Report{}, err
	}

	doc, err := static.Parse(r, static.WithIndicators(cat.Indicators()))
	if err != nil {
		return dom.Report{}, err
	}

	rep := b.newSession(doc, cat, policy, pageCfg).Sweep(ctx, dom.TriggerManual)
	if err := doc.Render(w); err != nil {
		return rep, err
	}
	return rep, nil
}

// Pages returns the status of every running page, ordered by id.
func (b *Blocker) Pages() []PageStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]PageStatus, 0, len(b.pages))
	for id, run := range b.pages {
		out = append(out, PageStatus{ID: id, URL: run.cfg.URL, Stats: run.sess.Stats()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop ends every session, closes the tabs, the sinks and the browser.
func (b *Blocker) Stop() {
	b.stopAll()
	b.sinkR.Close()
	b.mgr.Close()
}

func (b *Blocker) resolve(pageCfg PageConfig) (*catalog.Catalog, sweep.Policy, error) {
	cat := catalog.Default().
		With(b.cfg.Sweep.ExtraSelectors...).
		With(pageCfg.ExtraSelectors...)
	if err := cat.Validate(); err != nil {
		return nil, "", fmt.Errorf("adblock: page %s: %w", pageCfg.ID, err)
	}

	p := pageCfg.Policy
	if p == "" {
		p = b.cfg.Sweep.Policy
	}
	policy, err := sweep.ParsePolicy(p)
	if err != nil {
		return nil, "", fmt.Errorf("adblock: page %s: %w", pageCfg.ID, err)
	}
	return cat, policy, nil
}

func (b *Blocker) newSession(doc dom.Document, cat *catalog.Catalog, policy sweep.Policy, pageCfg PageConfig) *session.Session {
	delay := b.cfg.Sweep.ResweepDelay
	if b.cfg.Sweep.Immediate {
		delay = -1
	}
	logger := b.logger.With("url", pageCfg.URL)
	return session.New(session.Config{
		Doc:              doc,
		Sweeper:          sweep.New(sweep.Config{Catalog: cat, Policy: policy, Logger: logger}),
		Sink:             b.sinkR,
		PageID:           pageCfg.ID,
		PageURL:          pageCfg.URL,
		Indicators:       cat.Indicators(),
		ResweepDelay:     delay,
		FallbackInterval: b.cfg.Sweep.FallbackInterval,
		Logger:           logger,
	})
}

// Reconcile brings the running pages in line with pages: pages no longer
// listed are stopped, changed ones restarted and new ones opened. Pages
// without an id are matched by URL.
func (b *Blocker) Reconcile(ctx context.Context, pages []PageConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()

	running := make(map[string]PageConfig, len(b.pages))
	for id, run := range b.pages {
		running[id] = run.src
	}
	stop, start := diffPages(running, pages)

	for _, id := range stop {
		b.stopLocked(id, b.pages[id])
	}
	for _, page := range start {
		if err := b.sweepPageLocked(ctx, page); err != nil {
			b.logger.Error("adblock: failed to open page", "url", page.URL, "error", err)
		}
	}
	b.cfg.Pages = pages
	b.logger.Info("adblock: pages reconciled", "stopped", len(stop), "started", len(start), "running", len(b.pages))
}

// diffPages returns the ids of running pages to stop and the pages to
// start, in configuration order.
func diffPages(running map[string]PageConfig, want []PageConfig) (stop []string, start []PageConfig) {
	keep := make(map[string]bool, len(running))
	byKey := make(map[string]string, len(running))
	for id, src := range running {
		byKey[pageKey(src)] = id
	}

	for _, p := range want {
		id, ok := byKey[pageKey(p)]
		if ok && samePage(running[id], p) {
			keep[id] = true
			continue
		}
		start = append(start, p)
	}
	for id := range running {
		if !keep[id] {
			stop = append(stop, id)
		}
	}
	sort.Strings(stop)
	return stop, start
}

func pageKey(p PageConfig) string {
	if p.ID != "" {
		return "id:" + p.ID
	}
	return "url:" + p.URL
}

func samePage(x, y PageConfig) bool {
	return x.ID == y.ID && x.URL == y.URL && x.Policy == y.Policy &&
		slices.Equal(x.ExtraSelectors, y.ExtraSelectors)
}

func (b *Blocker) stopAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, run := range b.pages {
		b.stopLocked(id, run)
	}
}

// stopLocked must be called with b.mu held.
func (b *Blocker) stopLocked(id string, run *pageRun) {
	run.cancel()
	<-run.done
	if run.tab != nil {
		if err := run.tab.Close(); err != nil {
			b.logger.Debug("adblock: close tab", "id", id, "error", err)
		}
	}
	delete(b.pages, id)
	b.logger.Info("adblock: stopped page", "id", id)
}

// reopenAll restarts the configured pages after a browser recycle.
func (b *Blocker) reopenAll(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, page := range b.cfg.Pages {
		if err := b.sweepPageLocked(ctx, page); err != nil {
			b.logger.Error("adblock: reopen page failed", "url", page.URL, "error", err)
		}
	}
	b.logger.Info("adblock: pages reopened", "count", len(b.pages))
}
