package agent_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
	"github.com/xkilldash9x/webtrace-cli/internal/bus"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/action"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/agent"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/snapshot"
)

const pageHTML = `<html><head><title>Shop</title></head><body>
<form id="checkout"><button id="pay">Pay</button></form>
</body></html>`

// fakePage is a deterministic in-memory stand-in for a CDP page target.
type fakePage struct {
	id     string
	events chan action.RawEvent
	closed chan struct{}

	mu        sync.Mutex
	installs  int
	removes   int
	domPanic  bool
	closeOnce sync.Once
}

func newFakePage(id string) *fakePage {
	return &fakePage{
		id:     id,
		events: make(chan action.RawEvent, 16),
		closed: make(chan struct{}),
	}
}

func (p *fakePage) ID() string { return p.id }

func (p *fakePage) Info(ctx context.Context) (schemas.PageInfo, error) {
	return schemas.PageInfo{ContextID: p.id, URL: "https://shop.test/cart", Title: "Shop"}, nil
}

func (p *fakePage) Meta(ctx context.Context) (snapshot.PageMeta, error) {
	return snapshot.PageMeta{URL: "https://shop.test/cart", Title: "Shop"}, nil
}

func (p *fakePage) DOM(ctx context.Context) (*html.Node, error) {
	p.mu.Lock()
	broken := p.domPanic
	p.mu.Unlock()
	if broken {
		panic("dom snapshot exploded")
	}
	return html.Parse(strings.NewReader(pageHTML))
}

func (p *fakePage) setDOMPanic(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.domPanic = v
}

func (p *fakePage) LoadDuration(ctx context.Context) (time.Duration, error) {
	return 120 * time.Millisecond, nil
}

func (p *fakePage) InstallCapture(ctx context.Context, showIndicator bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installs++
	return nil
}

func (p *fakePage) RemoveCapture(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removes++
	return nil
}

func (p *fakePage) Events() <-chan action.RawEvent { return p.events }
func (p *fakePage) Closed() <-chan struct{}        { return p.closed }

func (p *fakePage) close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

func (p *fakePage) counts() (installs, removes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.installs, p.removes
}

// fakeShots returns geometry refs without touching any backend.
type fakeShots struct{}

func (fakeShots) Viewport(ctx context.Context) (*schemas.ScreenshotRef, error) {
	return &schemas.ScreenshotRef{Kind: schemas.ScreenshotGeometry, CapturedAt: time.Now()}, nil
}

func (fakeShots) Element(ctx context.Context, xpath string) (*schemas.ScreenshotRef, error) {
	return &schemas.ScreenshotRef{Kind: schemas.ScreenshotGeometry, CapturedAt: time.Now()}, nil
}

// harness runs an agent against a scripted coordinator side.
type harness struct {
	t       *testing.T
	bus     *bus.Bus
	mailbox *bus.Mailbox
	page    *fakePage
	agent   *agent.Agent

	transmitted chan *schemas.RecordedAction

	mu    sync.Mutex
	state schemas.RecordingState

	cancel context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithState(t, schemas.RecordingState{})
}

// newHarnessWithState seeds the coordinator-side global state before the
// agent's startup sync runs.
func newHarnessWithState(t *testing.T, initial schemas.RecordingState) *harness {
	return newHarnessSettle(t, initial, 10*time.Millisecond)
}

// newHarnessSettle additionally controls the settle delay, for tests that
// need to act inside the enrichment window.
func newHarnessSettle(t *testing.T, initial schemas.RecordingState, settle time.Duration) *harness {
	t.Helper()
	h := &harness{
		state:       initial,
		t:           t,
		bus:         bus.New(64),
		mailbox:     bus.NewMailbox(8),
		page:        newFakePage("ctx-1"),
		transmitted: make(chan *schemas.RecordedAction, 64),
	}

	builder := action.NewBuilder(action.Config{NominalDelay: 10 * time.Millisecond})
	h.agent = agent.New(h.page, h.bus, h.mailbox, builder, fakeShots{}, agent.Config{
		SettleDelay:    settle,
		ScreenshotRate: 1000,
	}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	// Coordinator stand-in: answers state queries, collects transmissions.
	go func() {
		for {
			select {
			case req := <-h.bus.Requests():
				switch req.Cmd.Type {
				case bus.CmdGetGlobalRecordingState:
					h.mu.Lock()
					snap := h.state.Snapshot()
					h.mu.Unlock()
					req.Reply(bus.Response{Success: true, State: &snap})
				case bus.CmdAddRecordedAction:
					h.transmitted <- req.Cmd.Action
					req.Reply(bus.Response{Success: true})
				default:
					req.Reply(bus.Response{Success: true})
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go h.agent.Run(ctx)

	t.Cleanup(func() {
		h.page.close()
		cancel()
		select {
		case <-h.agent.Done():
		case <-time.After(2 * time.Second):
			t.Error("agent did not terminate")
		}
	})
	return h
}

func (h *harness) deliver(cmd bus.AgentCommand) bus.AgentResponse {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := h.mailbox.Deliver(ctx, cmd)
	require.NoError(h.t, err)
	return resp
}

func (h *harness) startRecording(start time.Time) {
	hint := schemas.RecordingState{IsRecording: true, StartTime: &start}
	resp := h.deliver(bus.AgentCommand{Type: bus.AgentStartRecording, GlobalState: &hint})
	require.NoError(h.t, resp.Err)
	require.True(h.t, resp.Recording)
}

func (h *harness) nextTransmission() *schemas.RecordedAction {
	h.t.Helper()
	select {
	case rec := <-h.transmitted:
		return rec
	case <-time.After(2 * time.Second):
		h.t.Fatal("expected a transmission, got none")
		return nil
	}
}

func (h *harness) expectNoTransmission() {
	h.t.Helper()
	select {
	case rec := <-h.transmitted:
		h.t.Fatalf("unexpected transmission: %+v", rec)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAgent_IgnoresEventsWhileIdle(t *testing.T) {
	h := newHarness(t)

	h.page.events <- action.RawEvent{Type: schemas.ActionClick, XPath: `//*[@id="pay"]`}
	h.expectNoTransmission()
}

func TestAgent_TwoPhaseTransmission(t *testing.T) {
	h := newHarness(t)
	h.startRecording(time.Now())

	h.page.events <- action.RawEvent{Type: schemas.ActionClick, XPath: `//*[@id="pay"]`, X: 5, Y: 6}

	first := h.nextTransmission()
	assert.Equal(t, "ctx-1", first.ContextID)
	assert.Equal(t, 1, first.Sequence)
	assert.Nil(t, first.AfterAction, "immediate transmission precedes the settle capture")
	assert.Nil(t, first.Screenshots.BeforeAction, "screenshots never delay the immediate transmission")

	second := h.nextTransmission()
	assert.Equal(t, first.Key(), second.Key(), "the update shares the original's identity")
	require.NotNil(t, second.AfterAction)
	assert.Equal(t, "https://shop.test/cart", second.AfterAction.URL)
	assert.NotNil(t, second.Screenshots.BeforeAction)
	assert.NotNil(t, second.Screenshots.AfterAction)
	assert.NotNil(t, second.Screenshots.ElementScreenshot)
}

func TestAgent_SequenceIsMonotonic(t *testing.T) {
	h := newHarness(t)
	h.startRecording(time.Now())

	h.page.events <- action.RawEvent{Type: schemas.ActionClick, XPath: `//*[@id="pay"]`}
	h.page.events <- action.RawEvent{Type: schemas.ActionSubmit, XPath: `//form`}

	var sequences []int
	for i := 0; i < 4; i++ { // two actions, two transmissions each
		sequences = append(sequences, h.nextTransmission().Sequence)
	}
	assert.Contains(t, sequences, 1)
	assert.Contains(t, sequences, 2)
}

func TestAgent_FailedBuildConsumesNoSequence(t *testing.T) {
	h := newHarness(t)
	h.startRecording(time.Now())

	h.page.setDOMPanic(true)
	h.page.events <- action.RawEvent{Type: schemas.ActionClick, XPath: `//*[@id="pay"]`}
	h.expectNoTransmission()

	// The next successful action starts the run at 1; the dropped event must
	// not have burned a number.
	h.page.setDOMPanic(false)
	h.page.events <- action.RawEvent{Type: schemas.ActionClick, XPath: `//*[@id="pay"]`}
	rec := h.nextTransmission()
	assert.Equal(t, 1, rec.Sequence)
	h.nextTransmission()
}

func TestAgent_FreshRestartDropsStaleEnrichment(t *testing.T) {
	h := newHarnessSettle(t, schemas.RecordingState{}, 300*time.Millisecond)
	sessionStart := time.Now()
	h.startRecording(sessionStart)

	h.page.events <- action.RawEvent{Type: schemas.ActionClick, XPath: `//*[@id="pay"]`}
	first := h.nextTransmission()
	require.Nil(t, first.AfterAction)

	// Restart as a fresh session while the first record is still inside its
	// settle window; the old worker must not resurrect it as an update.
	h.startRecording(sessionStart.Add(time.Minute))
	h.page.events <- action.RawEvent{Type: schemas.ActionSubmit, XPath: `//form`}

	immediate := h.nextTransmission()
	assert.Equal(t, schemas.ActionSubmit, immediate.Type)
	assert.Equal(t, 1, immediate.Sequence)

	update := h.nextTransmission()
	assert.Equal(t, schemas.ActionSubmit, update.Type)
	require.NotNil(t, update.AfterAction)

	h.expectNoTransmission()
}

func TestAgent_StopIsIdempotentAndKeepsSettleWorkers(t *testing.T) {
	h := newHarness(t)
	h.startRecording(time.Now())

	h.page.events <- action.RawEvent{Type: schemas.ActionClick, XPath: `//*[@id="pay"]`}
	first := h.nextTransmission()
	require.Nil(t, first.AfterAction)

	// Stop immediately; the in-flight settle worker must still deliver its
	// update (upstream discards it when the session has ended).
	h.deliver(bus.AgentCommand{Type: bus.AgentStopRecording})
	h.deliver(bus.AgentCommand{Type: bus.AgentStopRecording})

	second := h.nextTransmission()
	assert.NotNil(t, second.AfterAction)

	// And stopped means stopped: new events are ignored.
	h.page.events <- action.RawEvent{Type: schemas.ActionClick, XPath: `//*[@id="pay"]`}
	h.expectNoTransmission()

	_, removes := h.page.counts()
	assert.Equal(t, 2, removes)
}

func TestAgent_RejoiningSameSessionKeepsSequence(t *testing.T) {
	h := newHarness(t)
	sessionStart := time.Now()
	h.startRecording(sessionStart)

	h.page.events <- action.RawEvent{Type: schemas.ActionClick, XPath: `//*[@id="pay"]`}
	h.nextTransmission()
	h.nextTransmission()

	// Same session start: the re-injection path after a navigation.
	h.startRecording(sessionStart)
	h.page.events <- action.RawEvent{Type: schemas.ActionClick, XPath: `//*[@id="pay"]`}
	assert.Equal(t, 2, h.nextTransmission().Sequence)
	h.nextTransmission()

	// A different session start is a fresh session: counter resets.
	h.startRecording(sessionStart.Add(time.Minute))
	h.page.events <- action.RawEvent{Type: schemas.ActionClick, XPath: `//*[@id="pay"]`}
	assert.Equal(t, 1, h.nextTransmission().Sequence)
}

func TestAgent_SelfStartsWhenSessionAlreadyActive(t *testing.T) {
	start := time.Now()
	h := newHarnessWithState(t, schemas.RecordingState{IsRecording: true, StartTime: &start})

	// No explicit start command; the startup sync must arm the agent. Allow
	// the sync round trip to finish first.
	require.Eventually(t, func() bool {
		installs, _ := h.page.counts()
		return installs > 0
	}, 2*time.Second, 10*time.Millisecond)

	h.page.events <- action.RawEvent{Type: schemas.ActionInput, XPath: `//input`, Value: "x"}
	rec := h.nextTransmission()
	assert.Equal(t, schemas.ActionInput, rec.Type)
}

func TestAgent_ExportLocalData(t *testing.T) {
	h := newHarness(t)
	h.startRecording(time.Now())

	h.page.events <- action.RawEvent{Type: schemas.ActionClick, XPath: `//*[@id="pay"]`}
	h.nextTransmission()
	h.nextTransmission()

	resp := h.deliver(bus.AgentCommand{Type: bus.AgentExportData})
	require.NotNil(t, resp.Export)
	assert.Equal(t, "https://shop.test/cart", resp.Export.URL)
	require.Len(t, resp.Export.Actions, 1)
	assert.Equal(t, 1, resp.Export.Summary.Clicks)
}

func TestAgent_PingAndStateQueries(t *testing.T) {
	h := newHarness(t)

	resp := h.deliver(bus.AgentCommand{Type: bus.AgentPing})
	assert.Equal(t, "ready", resp.Status)

	resp = h.deliver(bus.AgentCommand{Type: bus.AgentGetRecordingState})
	assert.False(t, resp.Recording)

	h.startRecording(time.Now())
	resp = h.deliver(bus.AgentCommand{Type: bus.AgentGetRecordingState})
	assert.True(t, resp.Recording)
}

func TestAgent_TerminatesWhenPageCloses(t *testing.T) {
	h := newHarness(t)
	h.page.close()

	select {
	case <-h.agent.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not terminate after page close")
	}
}
