// File: internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/action"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/snapshot"
)

// eventBuffer sizes the per-page raw event channel. Interaction events beyond
// this backlog are dropped rather than blocking the CDP event dispatcher.
const eventBuffer = 64

// Page wraps one CDP page target. It implements agent.Page plus the
// screenshot Rasterizer and BoundsSource capabilities.
type Page struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	events chan action.RawEvent
	closed chan struct{}

	closeOnce   sync.Once
	installOnce sync.Once
	installErr  error
}

// NewPage attaches to an existing page target within the browser context.
func NewPage(browserCtx context.Context, targetID target.ID, logger *zap.Logger) *Page {
	tctx, tcancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(targetID))

	p := &Page{
		id:     string(targetID),
		ctx:    tctx,
		cancel: tcancel,
		logger: logger.Named("page").With(zap.String("context_id", string(targetID))),
		events: make(chan action.RawEvent, eventBuffer),
		closed: make(chan struct{}),
	}

	chromedp.ListenTarget(tctx, p.onTargetEvent)
	go func() {
		<-tctx.Done()
		p.closeOnce.Do(func() { close(p.closed) })
	}()

	return p
}

// onTargetEvent routes CDP events: binding calls become raw interaction
// events, detach ends the page.
func (p *Page) onTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		if e.Name != bindingName {
			return
		}
		p.dispatchEvent(e.Payload)
	case *target.EventDetachedFromTarget:
		p.closeOnce.Do(func() { close(p.closed) })
	}
}

// dispatchEvent parses one capture-script payload and queues it. Payloads
// that do not parse, and events beyond the buffer, are dropped: capture is
// best-effort and must never stall the CDP dispatcher.
func (p *Page) dispatchEvent(payload string) {
	parsed := gjson.Parse(payload)
	actionType := schemas.ActionType(parsed.Get("type").String())

	valid := false
	for _, t := range schemas.ValidActionTypes {
		if actionType == t {
			valid = true
			break
		}
	}
	if !valid {
		p.logger.Debug("Dropping event with unknown type.", zap.String("payload_type", string(actionType)))
		return
	}

	ev := action.RawEvent{
		Type:  actionType,
		XPath: parsed.Get("xpath").String(),
		Value: parsed.Get("value").String(),
		X:     parsed.Get("x").Float(),
		Y:     parsed.Get("y").Float(),
	}

	select {
	case p.events <- ev:
	default:
		p.logger.Warn("Event buffer full, interaction dropped.", zap.String("type", string(ev.Type)))
	}
}

// ID returns the page-context identifier (the CDP target ID).
func (p *Page) ID() string {
	return p.id
}

// Events streams the capture script's raw interaction events.
func (p *Page) Events() <-chan action.RawEvent {
	return p.events
}

// Closed is signalled when the target detaches or the context ends.
func (p *Page) Closed() <-chan struct{} {
	return p.closed
}

// Close detaches from the target.
func (p *Page) Close() {
	p.cancel()
}

// Info returns the page identity.
func (p *Page) Info(ctx context.Context) (schemas.PageInfo, error) {
	meta, err := p.Meta(ctx)
	if err != nil {
		return schemas.PageInfo{ContextID: p.id}, err
	}
	return schemas.PageInfo{
		ContextID: p.id,
		URL:       meta.URL,
		Title:     meta.Title,
		Attached:  true,
	}, nil
}

// Meta collects the non-DOM page facts in a single evaluation round trip.
func (p *Page) Meta(ctx context.Context) (snapshot.PageMeta, error) {
	var raw string
	if err := p.run(ctx, chromedp.Evaluate(pageMetaScript, &raw)); err != nil {
		return snapshot.PageMeta{}, fmt.Errorf("page metadata evaluation failed: %w", err)
	}
	parsed := gjson.Parse(raw)
	return snapshot.PageMeta{
		URL:     parsed.Get("url").String(),
		Title:   parsed.Get("title").String(),
		ScrollX: parsed.Get("scrollX").Float(),
		ScrollY: parsed.Get("scrollY").Float(),
		Viewport: schemas.Viewport{
			Width:  parsed.Get("width").Int(),
			Height: parsed.Get("height").Int(),
		},
	}, nil
}

// DOM fetches and parses the current document.
func (p *Page) DOM(ctx context.Context) (*html.Node, error) {
	var outer string
	if err := p.run(ctx, chromedp.OuterHTML("html", &outer, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("DOM snapshot failed: %w", err)
	}
	doc, err := html.Parse(strings.NewReader(outer))
	if err != nil {
		return nil, fmt.Errorf("DOM parse failed: %w", err)
	}
	return doc, nil
}

// LoadDuration reports the last navigation's duration, best-effort.
func (p *Page) LoadDuration(ctx context.Context) (time.Duration, error) {
	var ms float64
	if err := p.run(ctx, chromedp.Evaluate(loadDurationScript, &ms)); err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// InstallCapture registers the runtime binding, arranges reinstallation on
// future documents, and activates the listeners in the current one.
func (p *Page) InstallCapture(ctx context.Context, showIndicator bool) error {
	p.installOnce.Do(func() {
		p.installErr = p.run(ctx,
			runtime.AddBinding(bindingName),
			chromedp.ActionFunc(func(ctx context.Context) error {
				_, err := page.AddScriptToEvaluateOnNewDocument(captureScript).Do(ctx)
				return err
			}),
		)
	})
	if p.installErr != nil {
		return p.installErr
	}

	actions := []chromedp.Action{chromedp.Evaluate(captureScript, nil)}
	if showIndicator {
		actions = append(actions, chromedp.Evaluate(indicatorScript, nil))
	}
	return p.run(ctx, actions...)
}

// RemoveCapture deactivates the listeners and removes the indicator.
func (p *Page) RemoveCapture(ctx context.Context) error {
	return p.run(ctx, chromedp.Evaluate(removeScript, nil))
}

// CaptureViewport rasterizes the visible viewport as PNG.
func (p *Page) CaptureViewport(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("viewport capture failed: %w", err)
	}
	return buf, nil
}

// CaptureElement rasterizes a single element located by XPath.
func (p *Page) CaptureElement(ctx context.Context, xpath string) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.Screenshot(xpath, &buf, chromedp.BySearch)); err != nil {
		return nil, fmt.Errorf("element capture failed: %w", err)
	}
	return buf, nil
}

// ElementBounds returns the element's bounding rectangle for the geometry
// fallback.
func (p *Page) ElementBounds(ctx context.Context, xpath string) (schemas.Rect, error) {
	expr := fmt.Sprintf("(%s)(%q)", strings.TrimSpace(elementBoundsScript), xpath)
	var raw string
	if err := p.run(ctx, chromedp.Evaluate(expr, &raw)); err != nil {
		return schemas.Rect{}, fmt.Errorf("bounds evaluation failed: %w", err)
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return schemas.Rect{}, fmt.Errorf("element not found for bounds: %s", xpath)
	}
	return schemas.Rect{
		X:      parsed.Get("x").Float(),
		Y:      parsed.Get("y").Float(),
		Width:  parsed.Get("width").Float(),
		Height: parsed.Get("height").Float(),
	}, nil
}

// ViewportBounds returns the viewport rectangle for the geometry fallback.
func (p *Page) ViewportBounds(ctx context.Context) (schemas.Rect, error) {
	meta, err := p.Meta(ctx)
	if err != nil {
		return schemas.Rect{}, err
	}
	return schemas.Rect{
		Width:  float64(meta.Viewport.Width),
		Height: float64(meta.Viewport.Height),
	}, nil
}

// run executes chromedp actions against this page, honoring both the page
// lifetime and the caller's deadline.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// combineContext creates a context cancelled when either parent is done.
func combineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parentCtx)
	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
