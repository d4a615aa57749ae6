// File: internal/recorder/coordinator.go

// Package recorder implements the session coordinator: the long-lived,
// single-writer owner of the global recording state. All mutation flows
// through the bus; page contexts never touch the state directly. That single
// ownership is the only synchronization discipline the log needs.
package recorder

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
	"github.com/xkilldash9x/webtrace-cli/internal/bus"
)

// broadcastTimeout bounds one coordinator-to-agent delivery during fan-out.
const broadcastTimeout = 10 * time.Second

// AgentFactory creates and runs a capture agent for a page context,
// returning the mailbox the coordinator will use to reach it.
type AgentFactory interface {
	Spawn(ctx context.Context, info schemas.PageInfo) (*bus.Mailbox, error)
}

// ActionObserver is notified after the log changes. updated is true when the
// change replaced an existing entry (the after-settle update). Called from
// the coordinator goroutine; implementations must not block.
type ActionObserver func(action *schemas.RecordedAction, updated bool)

// Config tunes the coordinator.
type Config struct {
	// RestrictedSchemes lists address prefixes that are never injected into.
	RestrictedSchemes []string
}

// Coordinator owns the canonical recording session across all page contexts.
type Coordinator struct {
	bus     *bus.Bus
	factory AgentFactory
	cfg     Config
	logger  *zap.Logger

	// Everything below is touched only from the Run goroutine.
	state    schemas.RecordingState
	index    map[schemas.ActionKey]int
	pages    map[string]schemas.PageInfo
	agents   map[string]*bus.Mailbox
	observer ActionObserver

	done chan struct{}
}

// New creates a coordinator reading from the given bus.
func New(b *bus.Bus, factory AgentFactory, cfg Config, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		bus:     b,
		factory: factory,
		cfg:     cfg,
		logger:  logger.Named("coordinator"),
		index:   make(map[schemas.ActionKey]int),
		pages:   make(map[string]schemas.PageInfo),
		agents:  make(map[string]*bus.Mailbox),
		done:    make(chan struct{}),
	}
}

// SetObserver registers the log-change observer. Must be called before Run.
func (c *Coordinator) SetObserver(obs ActionObserver) {
	c.observer = obs
}

// Run drains the bus until ctx is cancelled. It is the sole goroutine that
// ever mutates the recording state.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	defer c.closeAgents()

	for {
		select {
		case req := <-c.bus.Requests():
			c.dispatch(ctx, req)
		case <-ctx.Done():
			return
		}
	}
}

// Done is signalled when the coordinator loop has exited.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// dispatch handles one command. The tagged-variant switch is deliberately
// the single place commands are interpreted.
func (c *Coordinator) dispatch(ctx context.Context, req bus.Request) {
	switch req.Cmd.Type {
	case bus.CmdStartGlobalRecording:
		c.startGlobalRecording(ctx)
		req.Reply(bus.Response{Success: true})

	case bus.CmdStopGlobalRecording:
		c.stopGlobalRecording(ctx)
		req.Reply(bus.Response{Success: true})

	case bus.CmdGetGlobalRecordingState:
		snap := c.state.Snapshot()
		req.Reply(bus.Response{Success: true, State: &snap})

	case bus.CmdAddRecordedAction:
		c.appendOrUpdateAction(req.Cmd.Action)
		req.Reply(bus.Response{Success: true})

	case bus.CmdExportGlobalData:
		export := c.exportSession()
		req.Reply(bus.Response{Success: true, Export: export})

	case bus.CmdPageReady, bus.CmdPageActivated:
		c.handlePageEvent(ctx, req.Cmd.Page)
		req.Reply(bus.Response{Success: true})

	case bus.CmdPageClosed:
		c.handlePageClosed(req.Cmd.Page)
		req.Reply(bus.Response{Success: true})

	default:
		c.logger.Warn("Unknown bus command.", zap.String("type", string(req.Cmd.Type)))
		req.Reply(bus.Response{Success: false})
	}
}

// startGlobalRecording resets the session and fans injection out to every
// injectable page context. Calling it while already recording restarts the
// session and clears the log; that matches the control surface's observed
// contract and is kept deliberately.
func (c *Coordinator) startGlobalRecording(ctx context.Context) {
	now := time.Now()
	c.state = schemas.RecordingState{IsRecording: true, StartTime: &now}
	c.index = make(map[schemas.ActionKey]int)
	c.logger.Info("Global recording started.", zap.Int("open_pages", len(c.pages)))

	hint := c.state.Snapshot()
	targets := make([]schemas.PageInfo, 0, len(c.pages))
	for _, info := range c.pages {
		targets = append(targets, info)
	}
	c.startRecordingOnAllTabs(ctx, targets, &hint)
}

// startRecordingOnAllTabs is a partial-failure-tolerant broadcast: each
// context is injected and started independently, failures are logged and
// skipped, and the fan-out never aborts. The deliveries run off the
// coordinator goroutine so agents querying global state mid-start cannot
// deadlock the loop.
func (c *Coordinator) startRecordingOnAllTabs(ctx context.Context, targets []schemas.PageInfo, hint *schemas.RecordingState) {
	mailboxes := make(map[string]*bus.Mailbox, len(targets))
	for _, info := range targets {
		if !c.Injectable(info.URL) {
			c.logger.Debug("Skipping restricted page context.", zap.String("url", info.URL))
			continue
		}
		mailbox, err := c.ensureAgent(ctx, info)
		if err != nil {
			c.logger.Warn("Agent injection failed, continuing fan-out.",
				zap.String("context_id", info.ContextID), zap.Error(err))
			continue
		}
		mailboxes[info.ContextID] = mailbox
	}

	go func() {
		g, gctx := errgroup.WithContext(ctx)
		for contextID, mailbox := range mailboxes {
			g.Go(func() error {
				dctx, cancel := context.WithTimeout(gctx, broadcastTimeout)
				defer cancel()
				_, err := mailbox.Deliver(dctx, bus.AgentCommand{
					Type:        bus.AgentStartRecording,
					GlobalState: hint,
				})
				if err != nil {
					c.logger.Warn("Start broadcast failed for context.",
						zap.String("context_id", contextID), zap.Error(err))
				}
				// Never propagate: one dead tab must not abort the others.
				return nil
			})
		}
		g.Wait()
	}()
}

// stopGlobalRecording halts the session. Idempotent; the accumulated log is
// retained for export until the next start.
func (c *Coordinator) stopGlobalRecording(ctx context.Context) {
	wasRecording := c.state.IsRecording
	c.state.IsRecording = false
	if wasRecording {
		c.logger.Info("Global recording stopped.", zap.Int("actions", len(c.state.Actions)))
	}

	mailboxes := make([]*bus.Mailbox, 0, len(c.agents))
	for _, mailbox := range c.agents {
		mailboxes = append(mailboxes, mailbox)
	}
	go func() {
		for _, mailbox := range mailboxes {
			dctx, cancel := context.WithTimeout(ctx, broadcastTimeout)
			if _, err := mailbox.Deliver(dctx, bus.AgentCommand{Type: bus.AgentStopRecording}); err != nil {
				c.logger.Debug("Stop broadcast failed for context.", zap.Error(err))
			}
			cancel()
		}
	}()
}

// appendOrUpdateAction ingests one transmission. Late arrivals after stop
// are silently discarded; the race between an in-flight after-update and
// stop resolves conservatively toward dropping stale data. The two
// transmissions of one action are matched by (contextID, sequence): the
// second replaces the first in place, preserving its position.
func (c *Coordinator) appendOrUpdateAction(rec *schemas.RecordedAction) {
	if rec == nil {
		return
	}
	if !c.state.IsRecording {
		c.logger.Debug("Discarding action received while not recording.",
			zap.String("context_id", rec.ContextID), zap.Int("sequence", rec.Sequence))
		return
	}

	stored := rec.Clone()
	key := rec.Key()
	if pos, seen := c.index[key]; seen {
		c.state.Actions[pos] = stored
		c.notifyObserver(stored, true)
		return
	}
	c.index[key] = len(c.state.Actions)
	c.state.Actions = append(c.state.Actions, stored)
	c.notifyObserver(stored, false)
}

func (c *Coordinator) notifyObserver(rec *schemas.RecordedAction, updated bool) {
	if c.observer != nil {
		c.observer(rec.Clone(), updated)
	}
}

// exportSession assembles the artifact for replay and analysis tooling.
// The log is not reordered across contexts; consumers needing a total order
// sort by timestamp themselves.
func (c *Coordinator) exportSession() *schemas.ExportedSession {
	now := time.Now()
	info := schemas.SessionInfo{EndTime: now, TotalActions: len(c.state.Actions)}
	if c.state.StartTime != nil {
		info.StartTime = *c.state.StartTime
		info.DurationMs = now.Sub(*c.state.StartTime).Milliseconds()
	}

	actions := make([]*schemas.RecordedAction, len(c.state.Actions))
	for i, rec := range c.state.Actions {
		actions[i] = rec.Clone()
	}

	return &schemas.ExportedSession{
		Session: info,
		Actions: actions,
		Summary: schemas.Summarize(actions),
	}
}

// handlePageEvent reacts to page-ready and tab-activation events: track the
// page, and when a session is live, (re-)inject and (re-)start its agent
// with the current global state as a hint so a continuing context does not
// clear its mid-flight local log.
func (c *Coordinator) handlePageEvent(ctx context.Context, info *schemas.PageInfo) {
	if info == nil {
		return
	}
	c.pages[info.ContextID] = *info

	if !c.state.IsRecording || !c.Injectable(info.URL) {
		return
	}

	mailbox, err := c.ensureAgent(ctx, *info)
	if err != nil {
		c.logger.Warn("Re-injection failed for page context.",
			zap.String("context_id", info.ContextID), zap.Error(err))
		return
	}

	hint := c.state.Snapshot()
	go func() {
		dctx, cancel := context.WithTimeout(ctx, broadcastTimeout)
		defer cancel()
		_, err := mailbox.Deliver(dctx, bus.AgentCommand{
			Type:        bus.AgentStartRecording,
			GlobalState: &hint,
		})
		if err != nil {
			c.logger.Debug("Start delivery failed after page event.",
				zap.String("context_id", info.ContextID), zap.Error(err))
		}
	}()
}

// handlePageClosed reaps the agent of a torn-down context. Its recorded
// actions stay in the log.
func (c *Coordinator) handlePageClosed(info *schemas.PageInfo) {
	if info == nil {
		return
	}
	delete(c.pages, info.ContextID)
	if mailbox, ok := c.agents[info.ContextID]; ok {
		mailbox.Close()
		delete(c.agents, info.ContextID)
		c.logger.Debug("Page context reaped.", zap.String("context_id", info.ContextID))
	}
}

// ensureAgent returns the live mailbox for a context, spawning the agent on
// first contact.
func (c *Coordinator) ensureAgent(ctx context.Context, info schemas.PageInfo) (*bus.Mailbox, error) {
	if mailbox, ok := c.agents[info.ContextID]; ok {
		return mailbox, nil
	}
	mailbox, err := c.factory.Spawn(ctx, info)
	if err != nil {
		return nil, err
	}
	c.agents[info.ContextID] = mailbox
	return mailbox, nil
}

// closeAgents closes every known mailbox on shutdown.
func (c *Coordinator) closeAgents() {
	for id, mailbox := range c.agents {
		mailbox.Close()
		delete(c.agents, id)
	}
}

// Injectable reports whether a page address is eligible for capture-script
// injection. Privileged and internal schemes are skipped silently; that is
// policy, not an error.
func (c *Coordinator) Injectable(url string) bool {
	for _, prefix := range c.cfg.RestrictedSchemes {
		if strings.HasPrefix(url, prefix) {
			return false
		}
	}
	return true
}
