// Package session runs ad sweeping for one page view.
//
// A Session owns every trigger of a page: the initial sweep, mutation
// batches from the document's observer, the deferred resweep they schedule,
// and the periodic fallback sweep. All of them are served by a single
// goroutine, so two sweeps of the same page never run concurrently.
// Reports leave the loop through a bounded queue drained by a second
// goroutine: a slow or failing sink never delays a sweep.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/adsweep/adblock/dom"
	"github.com/hazyhaar/adsweep/adblock/internal/sink"
	"github.com/hazyhaar/adsweep/adblock/internal/sweep"
	"github.com/hazyhaar/adsweep/idgen"
)

// Config for creating a Session.
type Config struct {
	Doc     dom.Document
	Sweeper *sweep.Sweeper
	Sink    sink.Sink

	PageID  string
	PageURL string

	// Indicators are the selectors that make an insertion qualify for a
	// resweep.
	Indicators []string

	// ResweepDelay is the wait between a qualifying mutation batch and the
	// resweep. Zero means the default (100ms), negative means sweep
	// immediately inside the mutation callback.
	ResweepDelay time.Duration

	// FallbackInterval is the period of the unconditional sweep. Default: 5s.
	FallbackInterval time.Duration

	// ReportQueue bounds the reports waiting for the sink. When it is full
	// the newest report is dropped and counted. Default: 16.
	ReportQueue int

	Logger *slog.Logger

	clock clock
}

func (c *Config) defaults() {
	if c.ResweepDelay == 0 {
		c.ResweepDelay = 100 * time.Millisecond
	}
	if c.FallbackInterval <= 0 {
		c.FallbackInterval = 5 * time.Second
	}
	if c.ReportQueue <= 0 {
		c.ReportQueue = 16
	}
	if c.Sweeper == nil {
		c.Sweeper = sweep.New(sweep.Config{Logger: c.Logger})
	}
	if c.Sink == nil {
		c.Sink = sink.NewCallback(nil)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
}

// Stats are the session counters.
type Stats struct {
	Sweeps    map[dom.Trigger]int `json:"sweeps"`
	Coalesced int                 `json:"coalesced"` // qualifying batches absorbed by a pending resweep
	Ignored   int                 `json:"ignored"`   // non-qualifying batches
	Dropped   int                 `json:"dropped"`   // reports lost to a full sink queue
	Last      *dom.Report         `json:"last,omitempty"`
}

// Session sweeps one page until its context ends.
type Session struct {
	doc        dom.Document
	sweeper    *sweep.Sweeper
	sink       sink.Sink
	pageID     string
	pageURL    string
	indicators map[string]bool
	delay      time.Duration
	fallback   time.Duration
	queue      int
	logger     *slog.Logger
	clock      clock

	mu    sync.Mutex
	stats Stats
}

// New creates a Session. Call Run to start it.
func New(cfg Config) *Session {
	cfg.defaults()

	ind := make(map[string]bool, len(cfg.Indicators))
	for _, s := range cfg.Indicators {
		ind[s] = true
	}

	return &Session{
		doc:        cfg.Doc,
		sweeper:    cfg.Sweeper,
		sink:       cfg.Sink,
		pageID:     cfg.PageID,
		pageURL:    cfg.PageURL,
		indicators: ind,
		delay:      cfg.ResweepDelay,
		fallback:   cfg.FallbackInterval,
		queue:      cfg.ReportQueue,
		logger:     cfg.Logger.With("page_id", cfg.PageID),
		clock:      cfg.clock,
		stats:      Stats{Sweeps: make(map[dom.Trigger]int)},
	}
}

// Run performs the initial sweep and then serves triggers until ctx is
// done. It always returns nil: sweeps have no failure mode worth stopping
// the page for.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("session: ad sweeping active",
		"url", s.pageURL, "policy", s.sweeper.Policy(), "fallback", s.fallback)

	out := make(chan dom.Report, s.queue)
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		s.deliver(ctx, out)
	}()
	defer func() {
		close(out)
		<-sent
	}()

	s.enqueue(out, s.sweepNow(ctx, dom.TriggerInitial))

	var mutations <-chan []dom.AddedNode
	if w, ok := s.doc.(dom.Watchable); ok {
		mutations = w.Mutations()
	}

	tickC, stopTick := s.clock.Tick(s.fallback)
	defer stopTick()

	// pendingC is nil while idle and set while a resweep is scheduled.
	var pendingC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case batch, ok := <-mutations:
			if !ok {
				mutations = nil
				continue
			}
			if !s.qualifies(batch) {
				s.count(func(st *Stats) { st.Ignored++ })
				continue
			}
			if pendingC != nil {
				s.count(func(st *Stats) { st.Coalesced++ })
				continue
			}
			if s.delay < 0 {
				s.enqueue(out, s.sweepNow(ctx, dom.TriggerMutation))
				continue
			}
			pendingC = s.clock.After(s.delay)

		case <-pendingC:
			pendingC = nil
			s.enqueue(out, s.sweepNow(ctx, dom.TriggerMutation))

		case <-tickC:
			s.enqueue(out, s.sweepNow(ctx, dom.TriggerFallback))
		}
	}
}

// Sweep runs one sweep outside the trigger loop and hands the report to the
// sink before returning. Callers must not invoke it concurrently with Run on
// the same document.
func (s *Session) Sweep(ctx context.Context, trigger dom.Trigger) dom.Report {
	rep := s.sweepNow(ctx, trigger)
	s.send(ctx, rep)
	return rep
}

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{
		Sweeps:    make(map[dom.Trigger]int, len(s.stats.Sweeps)),
		Coalesced: s.stats.Coalesced,
		Ignored:   s.stats.Ignored,
		Dropped:   s.stats.Dropped,
	}
	for k, v := range s.stats.Sweeps {
		out.Sweeps[k] = v
	}
	if s.stats.Last != nil {
		last := *s.stats.Last
		out.Last = &last
	}
	return out
}

func (s *Session) qualifies(batch []dom.AddedNode) bool {
	return Qualifies(batch, s.indicators)
}

// Qualifies reports whether any inserted node carries one of the
// indicators. With an empty indicator set, any reported indicator counts.
func Qualifies(batch []dom.AddedNode, indicators map[string]bool) bool {
	for _, n := range batch {
		for _, ind := range n.Indicators {
			if len(indicators) == 0 || indicators[ind] {
				return true
			}
		}
	}
	return false
}

func (s *Session) sweepNow(ctx context.Context, trigger dom.Trigger) dom.Report {
	start := time.Now()

	rep := s.sweeper.Sweep(ctx, s.doc)
	rep.SkipClicked = s.sweeper.SkipAd(ctx, s.doc)

	rep.ID = idgen.Report()
	rep.PageID = s.pageID
	rep.PageURL = s.pageURL
	rep.Trigger = trigger
	rep.Duration = time.Since(start)
	rep.Timestamp = time.Now().UnixMilli()

	s.count(func(st *Stats) {
		st.Sweeps[trigger]++
		last := rep
		st.Last = &last
	})

	if rep.Suppressed > 0 || rep.SkipClicked {
		s.logger.Info("session: ads suppressed",
			"trigger", trigger, "suppressed", rep.Suppressed,
			"skip_clicked", rep.SkipClicked, "duration", rep.Duration)
	} else {
		s.logger.Debug("session: sweep", "trigger", trigger,
			"matched", rep.Matched, "rejected", rep.Rejected, "errors", rep.Errors)
	}
	return rep
}

// enqueue hands rep to the sender without blocking the trigger loop.
func (s *Session) enqueue(out chan<- dom.Report, rep dom.Report) {
	select {
	case out <- rep:
	default:
		s.count(func(st *Stats) { st.Dropped++ })
		s.logger.Warn("session: report queue full, report dropped",
			"report_id", rep.ID, "trigger", rep.Trigger)
	}
}

// deliver sends queued reports in order until out is closed. Reports left
// after ctx ends are discarded.
func (s *Session) deliver(ctx context.Context, out <-chan dom.Report) {
	for rep := range out {
		s.send(ctx, rep)
	}
}

func (s *Session) send(ctx context.Context, rep dom.Report) {
	if ctx.Err() != nil {
		return
	}
	if err := s.sink.Send(ctx, rep); err != nil {
		s.logger.Error("session: send report failed", "report_id", rep.ID, "error", err)
	}
}

func (s *Session) count(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}
