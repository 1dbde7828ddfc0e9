// Package browser manages the Chrome instance adsweep drives: launch or
// remote connection through Rod, headful mode on an Xvfb display, periodic
// recycling, and the tabs the sessions sweep.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Mode controls how Chrome is run.
type Mode int

const (
	ModeHeadless Mode = iota
	ModeHeadful       // needs a display; Xvfb is started on XvfbDisplay
)

// ParseMode accepts "headless", "headful" or "" (headless).
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "headless":
		return ModeHeadless, nil
	case "headful":
		return ModeHeadful, nil
	}
	return ModeHeadless, fmt.Errorf("browser: unknown mode %q", s)
}

func (m Mode) String() string {
	if m == ModeHeadful {
		return "headful"
	}
	return "headless"
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local Chrome.
	RemoteURL string

	Mode Mode

	// Stealth applies go-rod/stealth evasions to every tab.
	Stealth bool

	// BlockURLs are request URL patterns (Fetch glob syntax) failed before
	// they leave the browser.
	BlockURLs []string

	// RecycleInterval is the maximum lifetime of a Chrome process.
	// Long-lived video pages leak; default: 4h.
	RecycleInterval time.Duration

	// MemoryLimit in bytes of JS heap on the first tab. Default: 1GB.
	MemoryLimit int64

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RecycleCallback lets the owner of the tabs stop sessions before Chrome is
// killed and reopen them afterwards.
type RecycleCallback struct {
	BeforeRecycle func()
	AfterRecycle  func(b *rod.Browser)
}

// Manager owns the Chrome process.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	closed  bool
	cb      *RecycleCallback
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// SetRecycleCallback sets the callback for recycle events.
func (m *Manager) SetRecycleCallback(cb *RecycleCallback) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

// Start launches or connects to Chrome and starts the recycle monitor.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}

	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()

	go m.monitorLoop(ctx)

	return b, nil
}

// Browser returns the current Rod browser handle.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle restarts Chrome, calling the recycle callbacks around it.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("browser: manager is closed")
	}
	cb := m.cb
	m.mu.Unlock()

	// Callbacks run unlocked: they open tabs through Browser().
	if cb != nil && cb.BeforeRecycle != nil {
		cb.BeforeRecycle()
	}

	m.mu.Lock()
	m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.startAt))
	m.cleanup()
	b, err := m.launch()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	m.mu.Unlock()

	if cb != nil && cb.AfterRecycle != nil {
		cb.AfterRecycle(b)
	}
	m.cfg.Logger.Info("browser: recycled")
	return nil
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Mode == ModeHeadful && m.cfg.RemoteURL == "" {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(m.cfg.Mode == ModeHeadless)
		if m.cfg.Mode == ModeHeadful {
			l = l.Env("DISPLAY=" + m.cfg.XvfbDisplay)
		}
		// Video pages must autoplay for the ad player to show up.
		l = l.Set("autoplay-policy", "no-user-gesture-required").
			Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "mode", m.cfg.Mode)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

// cleanup must be called with m.mu held.
func (m *Manager) cleanup() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}

func (m *Manager) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		closed, b, startAt := m.closed, m.browser, m.startAt
		m.mu.RUnlock()
		if closed {
			return
		}
		if b == nil {
			continue
		}

		reason := ""
		if time.Since(startAt) > m.cfg.RecycleInterval {
			reason = "interval"
		} else if used, err := jsHeapUsage(b); err == nil && used > m.cfg.MemoryLimit {
			reason = "memory"
		}
		if reason == "" {
			continue
		}

		m.cfg.Logger.Info("browser: recycle triggered", "reason", reason)
		if err := m.Recycle(); err != nil {
			m.cfg.Logger.Error("browser: recycle failed", "error", err)
		}
	}
}

// jsHeapUsage reads performance.memory on the first tab.
func jsHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil || len(pages) == 0 {
		return 0, fmt.Errorf("no pages for heap check")
	}
	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}

func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", "1920x1080x24", "-ac")
	if err := cmd.Start(); err != nil {
		return err
	}
	m.xvfb = cmd
	// Xvfb has no readiness signal.
	time.Sleep(500 * time.Millisecond)
	m.cfg.Logger.Info("browser: xvfb started", "display", m.cfg.XvfbDisplay, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if m.xvfb.Process != nil {
		m.xvfb.Process.Kill()
		m.xvfb.Wait()
	}
	m.xvfb = nil
}
