// File: internal/browser/manager.go

// Package browser is the live CDP backend: it owns the connection to the
// Chromium instance being recorded, watches its page targets, and wraps each
// one as a Page the capture agents can drive.
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrace-cli/internal/config"
)

// Manager owns the browser connection lifecycle. It either attaches to an
// already running instance over its DevTools endpoint or launches one.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx     context.Context
	allocCancel  context.CancelFunc
	browserCtx   context.Context
	browserClose context.CancelFunc
}

// NewManager connects to the browser. The returned manager must be shut down
// to release the connection (and the launched process, if any).
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{cfg: cfg, logger: logger.Named("browser_manager")}

	if cfg.RemoteURL != "" {
		m.logger.Info("Attaching to running browser.", zap.String("remote_url", cfg.RemoteURL))
		m.allocCtx, m.allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts, chromedp.Flag("headless", cfg.Headless))
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		if cfg.IgnoreTLSErrors {
			opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
		}
		for _, arg := range cfg.Args {
			opts = append(opts, chromedp.Flag(arg, true))
		}
		m.logger.Info("Launching browser.", zap.Bool("headless", cfg.Headless))
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}

	m.browserCtx, m.browserClose = chromedp.NewContext(m.allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			m.logger.Sugar().Debugf(format, args...)
		}),
	)

	// Establish the connection now so a bad endpoint fails fast.
	attachCtx := m.browserCtx
	if cfg.AttachTimeout > 0 {
		var cancel context.CancelFunc
		attachCtx, cancel = context.WithTimeout(m.browserCtx, cfg.AttachTimeout)
		defer cancel()
	}
	if err := chromedp.Run(attachCtx); err != nil {
		m.Shutdown()
		return nil, fmt.Errorf("failed to establish browser connection: %w", err)
	}

	m.logger.Info("Browser connection established.")
	return m, nil
}

// BrowserContext exposes the chromedp browser context for target watching.
func (m *Manager) BrowserContext() context.Context {
	return m.browserCtx
}

// Targets enumerates the currently open page targets.
func (m *Manager) Targets(ctx context.Context) ([]*target.Info, error) {
	runCtx, cancel := combineContext(m.browserCtx, ctx)
	defer cancel()

	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("target enumeration failed: %w", err)
	}

	pages := infos[:0]
	for _, info := range infos {
		if info.Type == "page" {
			pages = append(pages, info)
		}
	}
	return pages, nil
}

// NewPage attaches a Page wrapper to the given target.
func (m *Manager) NewPage(targetID target.ID) *Page {
	return NewPage(m.browserCtx, targetID, m.logger)
}

// Shutdown releases the browser connection. A launched browser process is
// terminated; a remote one is only detached from.
func (m *Manager) Shutdown() {
	if m.browserClose != nil {
		m.browserClose()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.logger.Info("Browser manager shut down.")
}
