// File: internal/recorder/agent/agent.go

// Package agent implements the per-page-context capture agent: it owns the
// local recording state, listens for interaction events from the injected
// capture script, builds enriched action records, and forwards them to the
// session coordinator over the bus. One agent exists per page context and
// vanishes with it.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
	"github.com/xkilldash9x/webtrace-cli/internal/bus"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/action"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/screenshot"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/snapshot"
)

// transmitTimeout bounds one best-effort bus delivery.
const transmitTimeout = 5 * time.Second

// Config tunes one capture agent.
type Config struct {
	// SettleDelay is the fixed wait before the after-state capture.
	SettleDelay time.Duration
	// ShowIndicator renders the on-page recording indicator.
	ShowIndicator bool
	// ScreenshotRate caps viewport captures per second.
	ScreenshotRate float64
}

// Agent records interactions on a single page context.
type Agent struct {
	id      string
	page    Page
	bus     *bus.Bus
	mailbox *bus.Mailbox
	builder *action.Builder
	shots   screenshot.Capturer
	limiter *rate.Limiter
	cfg     Config
	logger  *zap.Logger

	// mu guards the local recording state; the settle-delay enrichment runs
	// off the event goroutine and mutates records in place.
	mu           sync.Mutex
	recording    bool
	sequence     int
	actions      []*schemas.RecordedAction
	pending      map[schemas.ActionKey]*schemas.RecordedAction
	sessionStart *time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// New creates a capture agent for one page context. Run must be called to
// start processing.
func New(
	page Page,
	coordinatorBus *bus.Bus,
	mailbox *bus.Mailbox,
	builder *action.Builder,
	shots screenshot.Capturer,
	cfg Config,
	logger *zap.Logger,
) *Agent {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 200 * time.Millisecond
	}
	if cfg.ScreenshotRate <= 0 {
		cfg.ScreenshotRate = 4.0
	}
	return &Agent{
		id:      page.ID(),
		page:    page,
		bus:     coordinatorBus,
		mailbox: mailbox,
		builder: builder,
		shots:   shots,
		limiter: rate.NewLimiter(rate.Limit(cfg.ScreenshotRate), 1),
		cfg:     cfg,
		logger:  logger.Named("agent").With(zap.String("context_id", page.ID())),
		pending: make(map[schemas.ActionKey]*schemas.RecordedAction),
		done:    make(chan struct{}),
	}
}

// Run drives the agent until the page context is torn down or the parent
// context is cancelled. On startup it asks the coordinator whether a global
// session is already active and self-starts if so, which covers mid-session
// navigations and newly opened tabs.
func (a *Agent) Run(parentCtx context.Context) {
	a.ctx, a.cancel = context.WithCancel(parentCtx)
	defer close(a.done)
	defer a.cancel()
	defer a.teardown()

	a.syncWithCoordinator()

	for {
		select {
		case req, ok := <-a.mailbox.Requests():
			if !ok {
				return
			}
			a.handleCommand(req)
		case ev, ok := <-a.page.Events():
			if !ok {
				return
			}
			a.handleEvent(ev)
		case <-a.page.Closed():
			return
		case <-a.ctx.Done():
			return
		}
	}
}

// Done is signalled when the agent's loop has exited and its settle-delay
// workers have drained.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// teardown marks the context gone and waits for in-flight settle workers.
func (a *Agent) teardown() {
	a.mailbox.Close()
	a.wg.Wait()
	a.logger.Debug("Capture agent terminated.")
}

// syncWithCoordinator self-starts the agent when a global session is already
// recording.
func (a *Agent) syncWithCoordinator() {
	ctx, cancel := context.WithTimeout(a.ctx, transmitTimeout)
	defer cancel()

	resp, err := a.bus.Send(ctx, bus.Command{Type: bus.CmdGetGlobalRecordingState})
	if err != nil {
		a.logger.Debug("Could not query global recording state.", zap.Error(err))
		return
	}
	if resp.State != nil && resp.State.IsRecording {
		if err := a.start(resp.State); err != nil {
			a.logger.Warn("Self-start after injection failed.", zap.Error(err))
		}
	}
}

// handleCommand dispatches one coordinator-to-agent control message.
func (a *Agent) handleCommand(req bus.AgentRequest) {
	switch req.Cmd.Type {
	case bus.AgentPing:
		req.Reply(bus.AgentResponse{Status: "ready"})

	case bus.AgentStartRecording:
		if err := a.start(req.Cmd.GlobalState); err != nil {
			req.Reply(bus.AgentResponse{Err: err})
			return
		}
		req.Reply(bus.AgentResponse{Status: "recording", Recording: true})

	case bus.AgentStopRecording:
		a.stop()
		req.Reply(bus.AgentResponse{Status: "stopped"})

	case bus.AgentExportData:
		req.Reply(bus.AgentResponse{Export: a.exportLocalData()})

	case bus.AgentGetRecordingState:
		a.mu.Lock()
		recording := a.recording
		a.mu.Unlock()
		req.Reply(bus.AgentResponse{Recording: recording})

	default:
		req.Reply(bus.AgentResponse{Err: fmt.Errorf("unknown agent command %q", req.Cmd.Type)})
	}
}

// start begins (or resumes) local recording. A fresh session clears the
// local buffer and sequence counter; rejoining the same global session (the
// re-injection path after navigation) keeps whatever is mid-flight.
func (a *Agent) start(hint *schemas.RecordingState) error {
	a.mu.Lock()
	fresh := true
	if hint != nil && hint.StartTime != nil && a.sessionStart != nil && hint.StartTime.Equal(*a.sessionStart) {
		fresh = false
	}
	if fresh {
		a.actions = nil
		a.sequence = 0
		a.pending = make(map[schemas.ActionKey]*schemas.RecordedAction)
	}
	if hint != nil && hint.StartTime != nil {
		t := *hint.StartTime
		a.sessionStart = &t
	} else {
		now := time.Now()
		a.sessionStart = &now
	}
	a.recording = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(a.ctx, transmitTimeout)
	defer cancel()
	if err := a.page.InstallCapture(ctx, a.cfg.ShowIndicator); err != nil {
		return fmt.Errorf("failed to install capture listeners: %w", err)
	}
	a.logger.Info("Recording started.", zap.Bool("fresh", fresh))
	return nil
}

// stop halts local recording. Idempotent. In-flight settle-delay workers are
// not cancelled; their updates will be discarded upstream if the global
// session has ended by then.
func (a *Agent) stop() {
	a.mu.Lock()
	wasRecording := a.recording
	a.recording = false
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(a.ctx, transmitTimeout)
	defer cancel()
	if err := a.page.RemoveCapture(ctx); err != nil {
		a.logger.Debug("Failed to remove capture listeners.", zap.Error(err))
	}
	if wasRecording {
		a.logger.Info("Recording stopped.")
	}
}

// handleEvent processes one raw interaction event: a synchronous build and
// immediate transmit, then a deferred after-state enrichment. The sequence
// number is allocated only after the build succeeds, so a failed build never
// leaves a gap in the context's numbering.
func (a *Agent) handleEvent(ev action.RawEvent) {
	a.mu.Lock()
	if !a.recording {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	rec, err := a.buildGuarded(ev)
	if err != nil {
		a.logger.Warn("Action build failed, event dropped.",
			zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}

	a.mu.Lock()
	if !a.recording {
		// Stopped while the build was in flight.
		a.mu.Unlock()
		return
	}
	a.sequence++
	rec.Sequence = a.sequence
	a.actions = append(a.actions, rec)
	a.pending[rec.Key()] = rec
	a.mu.Unlock()

	a.transmit(rec)

	a.wg.Add(1)
	go a.settleAndEnrich(rec, ev)
}

// buildGuarded runs the synchronous builder with a panic guard so one page's
// anomaly cannot crash the event handler. The returned record carries no
// sequence number yet; the caller assigns one on success.
func (a *Agent) buildGuarded(ev action.RawEvent) (rec *schemas.RecordedAction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("builder panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(a.ctx, transmitTimeout)
	defer cancel()

	meta, metaErr := a.page.Meta(ctx)
	if metaErr != nil {
		a.logger.Debug("Page metadata unavailable at event time.", zap.Error(metaErr))
	}
	doc, docErr := a.page.DOM(ctx)
	if docErr != nil {
		a.logger.Debug("DOM snapshot unavailable at event time.", zap.Error(docErr))
	}
	pageLoad, _ := a.page.LoadDuration(ctx)

	return a.builder.Build(a.id, 0, ev, doc, meta, pageLoad), nil
}

// settleAndEnrich captures a best-effort before-viewport shot, waits out the
// settle delay, captures the after-state and screenshots, mutates the same
// record in place, and retransmits it as an update. Stopping the session does
// not cancel this; only context teardown does. The before shot happens here
// rather than in handleEvent so the immediate transmit stays fast.
func (a *Agent) settleAndEnrich(rec *schemas.RecordedAction, ev action.RawEvent) {
	defer a.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("After-state enrichment panicked.", zap.Any("panic", r))
		}
	}()

	var beforeShot *schemas.ScreenshotRef
	if a.shots != nil && a.limiter.Allow() {
		bctx, bcancel := context.WithTimeout(a.ctx, transmitTimeout)
		var berr error
		if beforeShot, berr = a.shots.Viewport(bctx); berr != nil {
			a.logger.Debug("Before-action screenshot failed.", zap.Error(berr))
		}
		bcancel()
	}

	timer := time.NewTimer(a.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-a.ctx.Done():
		return
	}

	ctx, cancel := context.WithTimeout(a.ctx, transmitTimeout)
	defer cancel()

	meta, err := a.page.Meta(ctx)
	if err != nil {
		a.logger.Debug("After-state metadata capture failed.", zap.Error(err))
	}
	doc, err := a.page.DOM(ctx)
	if err != nil {
		a.logger.Debug("After-state DOM capture failed.", zap.Error(err))
	}

	after := snapshot.CaptureState(doc, meta)
	afterErrors := a.builder.ErrorContext(doc)

	var viewportShot, elementShot *schemas.ScreenshotRef
	if a.shots != nil && a.limiter.Allow() {
		if viewportShot, err = a.shots.Viewport(ctx); err != nil {
			a.logger.Debug("Viewport screenshot failed.", zap.Error(err))
		}
		if ev.XPath != "" {
			if elementShot, err = a.shots.Element(ctx, ev.XPath); err != nil {
				a.logger.Debug("Element screenshot failed.", zap.Error(err))
			}
		}
	}

	a.mu.Lock()
	if a.pending[rec.Key()] != rec {
		// A fresh session started during the settle window and reset the
		// local buffer; this record is stale, so its update must not be
		// rebuilt or retransmitted.
		a.mu.Unlock()
		return
	}
	rec.AfterAction = &after
	mergeErrorContext(&rec.ErrorContext, afterErrors)
	rec.Screenshots.BeforeAction = beforeShot
	rec.Screenshots.AfterAction = viewportShot
	rec.Screenshots.ElementScreenshot = elementShot
	delete(a.pending, rec.Key())
	update := rec.Clone()
	a.mu.Unlock()

	a.transmit(update)
}

// transmit forwards one record to the coordinator. Best-effort: failures are
// logged and swallowed, never retried.
func (a *Agent) transmit(rec *schemas.RecordedAction) {
	ctx, cancel := context.WithTimeout(a.ctx, transmitTimeout)
	defer cancel()

	err := a.bus.Post(ctx, bus.Command{Type: bus.CmdAddRecordedAction, Action: rec.Clone()})
	if err != nil {
		a.logger.Debug("Action transmission failed.",
			zap.Int("sequence", rec.Sequence), zap.Error(err))
	}
}

// exportLocalData returns this context's own log, for pages recorded outside
// a global session.
func (a *Agent) exportLocalData() *schemas.LocalExport {
	ctx, cancel := context.WithTimeout(a.ctx, transmitTimeout)
	defer cancel()

	info, err := a.page.Info(ctx)
	if err != nil {
		a.logger.Debug("Page info unavailable for local export.", zap.Error(err))
	}

	a.mu.Lock()
	actions := make([]*schemas.RecordedAction, len(a.actions))
	for i, rec := range a.actions {
		actions[i] = rec.Clone()
	}
	a.mu.Unlock()

	return &schemas.LocalExport{
		URL:        info.URL,
		Title:      info.Title,
		RecordedAt: time.Now(),
		Actions:    actions,
		Summary:    schemas.Summarize(actions),
	}
}

// mergeErrorContext folds the after-settle error capture into the record,
// keeping creation-time entries and appending anything new.
func mergeErrorContext(dst *schemas.ErrorContext, after schemas.ErrorContext) {
	seenValidation := make(map[schemas.ValidationError]struct{}, len(dst.ValidationErrors))
	for _, v := range dst.ValidationErrors {
		seenValidation[v] = struct{}{}
	}
	for _, v := range after.ValidationErrors {
		if _, dup := seenValidation[v]; !dup {
			dst.ValidationErrors = append(dst.ValidationErrors, v)
		}
	}

	seenVisible := make(map[string]struct{}, len(dst.VisibleErrors))
	for _, v := range dst.VisibleErrors {
		seenVisible[v] = struct{}{}
	}
	for _, v := range after.VisibleErrors {
		if _, dup := seenVisible[v]; !dup {
			dst.VisibleErrors = append(dst.VisibleErrors, v)
		}
	}
}
