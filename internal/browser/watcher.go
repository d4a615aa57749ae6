// File: internal/browser/watcher.go
package browser

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
	"github.com/xkilldash9x/webtrace-cli/internal/bus"
)

// postTimeout bounds one lifecycle notification to the coordinator.
const postTimeout = 5 * time.Second

// Watcher translates CDP target lifecycle events into coordinator commands:
// created/navigated targets become page-ready events, focus changes become
// activation events, destroyed targets are reported closed.
type Watcher struct {
	manager *Manager
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewWatcher creates a target watcher.
func NewWatcher(manager *Manager, b *bus.Bus, logger *zap.Logger) *Watcher {
	return &Watcher{
		manager: manager,
		bus:     b,
		logger:  logger.Named("watcher"),
	}
}

// Start enables target discovery, announces the already open pages, and
// subscribes to lifecycle events for the rest of the run.
func (w *Watcher) Start(ctx context.Context) error {
	browserCtx := w.manager.BrowserContext()

	chromedp.ListenBrowser(browserCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *target.EventTargetCreated:
			w.announce(ctx, bus.CmdPageReady, e.TargetInfo)
		case *target.EventTargetInfoChanged:
			w.announce(ctx, bus.CmdPageActivated, e.TargetInfo)
		case *target.EventTargetDestroyed:
			w.post(ctx, bus.Command{
				Type: bus.CmdPageClosed,
				Page: &schemas.PageInfo{ContextID: string(e.TargetID)},
			})
		}
	})

	if err := chromedp.Run(browserCtx, target.SetDiscoverTargets(true)); err != nil {
		return err
	}

	// Announce pages that were already open before we attached.
	infos, err := w.manager.Targets(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		w.announce(ctx, bus.CmdPageReady, info)
	}
	return nil
}

func (w *Watcher) announce(ctx context.Context, cmdType bus.CommandType, info *target.Info) {
	if info == nil || info.Type != "page" {
		return
	}
	w.post(ctx, bus.Command{
		Type: cmdType,
		Page: &schemas.PageInfo{
			ContextID: string(info.TargetID),
			URL:       info.URL,
			Title:     info.Title,
			Attached:  info.Attached,
		},
	})
}

// post delivers one lifecycle notification, best-effort.
func (w *Watcher) post(ctx context.Context, cmd bus.Command) {
	postCtx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	if err := w.bus.Post(postCtx, cmd); err != nil {
		w.logger.Debug("Lifecycle notification dropped.",
			zap.String("type", string(cmd.Type)), zap.Error(err))
	}
}
