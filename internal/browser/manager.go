// Package browser owns the headless Chrome instance used by council modules
// whose sites only render their schedules client-side.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"binportal/internal/config"
	"binportal/pkg/logger"
)

// Manager launches or connects to a Chrome instance and hands out pages.
type Manager struct {
	cfg    config.BrowserConfig
	logger *logger.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
}

// NewManager creates a browser manager. Chrome is not started until the first
// page is requested or Start is called.
func NewManager(cfg config.BrowserConfig, logger *logger.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger,
	}
}

// Start connects to an existing Chrome or launches a new one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// If we already have a browser, verify it's still alive
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn().Msg("Stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(m.cfg.Headless)
		if m.cfg.Bin != "" {
			launch = launch.Bin(m.cfg.Bin)
		}
		for _, rawFlag := range m.cfg.ExtraFlags {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}

		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.logger.Info().Str("control_url", controlURL).Msg("Browser connected")
	return nil
}

func (m *Manager) ensureStarted(ctx context.Context) error {
	m.mu.RLock()
	if m.browser != nil {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()
	return m.Start(ctx)
}

// Shutdown closes the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	return err
}

// ControlURL returns the WebSocket debugger URL.
func (m *Manager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// Ping verifies Chrome is reachable, starting it if needed.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.ensureStarted(ctx); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.browser == nil {
		return errors.New("browser not connected")
	}
	_, err := m.browser.Version()
	return err
}

// WithPage opens an incognito page at url, runs fn against it, and closes the
// page afterwards. Navigation honors the configured timeout.
func (m *Manager) WithPage(ctx context.Context, url string, fn func(page *rod.Page) error) error {
	if err := m.ensureStarted(ctx); err != nil {
		return err
	}

	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return errors.New("browser not connected")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()

	page = page.Context(ctx)
	if err := page.Timeout(m.cfg.NavigationTimeout).Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.Timeout(m.cfg.NavigationTimeout).WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}

	return fn(page)
}

// RenderHTML loads url, optionally waits for waitSelector to appear, and
// returns the rendered document.
func (m *Manager) RenderHTML(ctx context.Context, url, waitSelector string) (string, error) {
	var html string
	err := m.WithPage(ctx, url, func(page *rod.Page) error {
		if waitSelector != "" {
			if _, err := page.Timeout(m.cfg.NavigationTimeout).Element(waitSelector); err != nil {
				return fmt.Errorf("wait for selector %q: %w", waitSelector, err)
			}
		}
		rendered, err := page.HTML()
		if err != nil {
			return fmt.Errorf("read page html: %w", err)
		}
		html = rendered
		return nil
	})
	return html, err
}
