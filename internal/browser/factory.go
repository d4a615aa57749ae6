// File: internal/browser/factory.go
package browser

import (
	"context"

	"github.com/chromedp/cdproto/target"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
	"github.com/xkilldash9x/webtrace-cli/internal/bus"
	"github.com/xkilldash9x/webtrace-cli/internal/config"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/action"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/agent"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/screenshot"
)

// AgentFactory spawns a live capture agent per page target. It implements
// recorder.AgentFactory.
type AgentFactory struct {
	manager *Manager
	bus     *bus.Bus
	builder *action.Builder
	cfg     config.RecorderConfig
	logger  *zap.Logger

	// runCtx parents every spawned agent; cancelling it tears them all down.
	runCtx context.Context
}

// NewAgentFactory creates the factory. runCtx bounds the lifetime of every
// agent it spawns.
func NewAgentFactory(
	runCtx context.Context,
	manager *Manager,
	b *bus.Bus,
	cfg config.RecorderConfig,
	logger *zap.Logger,
) *AgentFactory {
	return &AgentFactory{
		manager: manager,
		bus:     b,
		builder: action.NewBuilder(action.Config{
			SurroundingTextLimit: cfg.SurroundingTextLimit,
			NominalDelay:         cfg.SettleDelay,
		}),
		cfg:    cfg,
		logger: logger,
		runCtx: runCtx,
	}
}

// Spawn attaches to the target, composes the screenshot pipeline, and runs
// the agent on its own goroutine. The page is released when the agent exits.
func (f *AgentFactory) Spawn(ctx context.Context, info schemas.PageInfo) (*bus.Mailbox, error) {
	pg := f.manager.NewPage(target.ID(info.ContextID))
	mailbox := bus.NewMailbox(8)

	var primary screenshot.Capturer
	if f.cfg.ScreenshotsEnabled {
		primary = screenshot.NewRasterCapturer(pg)
	}
	shots := screenshot.NewFallbackCapturer(primary, screenshot.NewGeometryCapturer(pg), f.logger)

	ag := agent.New(pg, f.bus, mailbox, f.builder, shots, agent.Config{
		SettleDelay:    f.cfg.SettleDelay,
		ShowIndicator:  f.cfg.ShowIndicator,
		ScreenshotRate: f.cfg.ScreenshotRate,
	}, f.logger)

	go func() {
		ag.Run(f.runCtx)
		pg.Close()
	}()

	return mailbox, nil
}
