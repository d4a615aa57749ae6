// api/schemas/recording.go
package schemas

import "time"

// ActionType identifies the kind of user interaction a recorded action
// originated from.
type ActionType string

const (
	ActionClick  ActionType = "click"
	ActionInput  ActionType = "input"
	ActionChange ActionType = "change"
	ActionSubmit ActionType = "submit"
)

// ValidActionTypes lists every interaction type the capture script listens for.
var ValidActionTypes = []ActionType{ActionClick, ActionInput, ActionChange, ActionSubmit}

// ActionKey uniquely identifies one logical action across its two
// transmissions (immediate and after-settle update). Sequence numbers are
// local to a page context, so the context ID is part of the key.
type ActionKey struct {
	ContextID string `json:"contextId"`
	Sequence  int    `json:"sequence"`
}

// Position holds viewport coordinates for click actions.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ElementDescriptor captures enough about the target element to relocate it
// during replay and to make the action log readable on its own.
type ElementDescriptor struct {
	TagName         string            `json:"tagName"`
	ID              string            `json:"id,omitempty"`
	Classes         []string          `json:"classes,omitempty"`
	Value           string            `json:"value,omitempty"`
	Path            string            `json:"path"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	SurroundingText string            `json:"surroundingText,omitempty"`
	AriaRole        string            `json:"ariaRole,omitempty"`
	AriaLabel       string            `json:"ariaLabel,omitempty"`
	Visible         bool              `json:"visible"`
	Clickable       bool              `json:"clickable"`
	ParentContext   string            `json:"parentContext,omitempty"`
}

// PageState is a snapshot of the page surrounding an action. Password-typed
// fields are never included in FormData.
type PageState struct {
	URL       string            `json:"url"`
	Title     string            `json:"title"`
	FormData  map[string]string `json:"formData,omitempty"`
	ScrollX   float64           `json:"scrollX"`
	ScrollY   float64           `json:"scrollY"`
	Viewport  Viewport          `json:"viewport"`
	Timestamp time.Time         `json:"timestamp"`
}

// Viewport holds the page viewport dimensions.
type Viewport struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// ErrorContext collects user-visible failure signals present on the page.
// Network and page error lists are populated only when the backend exposes
// them; they are carried for forward compatibility with richer collectors.
type ErrorContext struct {
	ValidationErrors []ValidationError `json:"validationErrors,omitempty"`
	VisibleErrors    []string          `json:"visibleErrors,omitempty"`
	NetworkErrors    []string          `json:"networkErrors,omitempty"`
	PageErrors       []string          `json:"pageErrors,omitempty"`
}

// ValidationError describes a form field rejected by built-in validation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ActionTiming carries coarse timing hints used by replay tooling to pace
// itself.
type ActionTiming struct {
	PageLoadMs        int64 `json:"pageLoadMs"`
	NominalDelayMs    int64 `json:"nominalDelayMs"`
	LoadingIndicators int   `json:"loadingIndicators"`
}

// ScreenshotKind discriminates raster captures from the geometry-only
// fallback descriptor.
type ScreenshotKind string

const (
	ScreenshotRaster   ScreenshotKind = "raster"
	ScreenshotGeometry ScreenshotKind = "geometry"
)

// ScreenshotRef is either a raster capture (base64 PNG data) or a geometric
// bounding-box descriptor produced when rasterization is unavailable.
type ScreenshotRef struct {
	Kind       ScreenshotKind `json:"kind"`
	Format     string         `json:"format,omitempty"`
	Data       string         `json:"data,omitempty"`
	Bounds     *Rect          `json:"bounds,omitempty"`
	CapturedAt time.Time      `json:"capturedAt"`
}

// Rect is a viewport-relative bounding box.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Screenshots groups the visual captures attached to one action. Each entry
// is nil until the corresponding capture completes.
type Screenshots struct {
	BeforeAction      *ScreenshotRef `json:"beforeAction,omitempty"`
	AfterAction       *ScreenshotRef `json:"afterAction,omitempty"`
	ElementScreenshot *ScreenshotRef `json:"elementScreenshot,omitempty"`
}

// RecordedAction is one captured interaction. It is transmitted twice: first
// partially enriched (immediately after the event), then once more with the
// AfterAction fields populated. The coordinator treats the second transmission
// as an update-in-place keyed by (ContextID, Sequence).
type RecordedAction struct {
	ContextID    string            `json:"contextId"`
	Sequence     int               `json:"sequence"`
	Type         ActionType        `json:"type"`
	Timestamp    time.Time         `json:"timestamp"`
	Element      ElementDescriptor `json:"elementDescriptor"`
	BeforeAction PageState         `json:"beforeAction"`
	AfterAction  *PageState        `json:"afterAction,omitempty"`
	ErrorContext ErrorContext      `json:"errorContext"`
	Timing       ActionTiming      `json:"timing"`
	Screenshots  Screenshots       `json:"screenshots"`
	Position     *Position         `json:"position,omitempty"`
}

// Key returns the identity under which the coordinator deduplicates the two
// transmissions of this action.
func (a *RecordedAction) Key() ActionKey {
	return ActionKey{ContextID: a.ContextID, Sequence: a.Sequence}
}

// Clone returns a deep copy so the coordinator's log entries never alias
// agent-owned memory.
func (a *RecordedAction) Clone() *RecordedAction {
	cp := *a
	cp.Element.Classes = append([]string(nil), a.Element.Classes...)
	cp.Element.Attributes = cloneStringMap(a.Element.Attributes)
	cp.BeforeAction.FormData = cloneStringMap(a.BeforeAction.FormData)
	if a.AfterAction != nil {
		after := *a.AfterAction
		after.FormData = cloneStringMap(a.AfterAction.FormData)
		cp.AfterAction = &after
	}
	cp.ErrorContext.ValidationErrors = append([]ValidationError(nil), a.ErrorContext.ValidationErrors...)
	cp.ErrorContext.VisibleErrors = append([]string(nil), a.ErrorContext.VisibleErrors...)
	cp.ErrorContext.NetworkErrors = append([]string(nil), a.ErrorContext.NetworkErrors...)
	cp.ErrorContext.PageErrors = append([]string(nil), a.ErrorContext.PageErrors...)
	if a.Screenshots.BeforeAction != nil {
		ref := *a.Screenshots.BeforeAction
		cp.Screenshots.BeforeAction = &ref
	}
	if a.Screenshots.AfterAction != nil {
		ref := *a.Screenshots.AfterAction
		cp.Screenshots.AfterAction = &ref
	}
	if a.Screenshots.ElementScreenshot != nil {
		ref := *a.Screenshots.ElementScreenshot
		cp.Screenshots.ElementScreenshot = &ref
	}
	if a.Position != nil {
		pos := *a.Position
		cp.Position = &pos
	}
	return &cp
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// RecordingState is the canonical global session state. It is owned
// exclusively by the session coordinator; everyone else only ever sees
// snapshots of it.
type RecordingState struct {
	IsRecording bool              `json:"isRecording"`
	StartTime   *time.Time        `json:"startTime,omitempty"`
	Actions     []*RecordedAction `json:"actions"`
}

// Snapshot returns a read-only deep copy of the state.
func (s *RecordingState) Snapshot() RecordingState {
	cp := RecordingState{IsRecording: s.IsRecording}
	if s.StartTime != nil {
		t := *s.StartTime
		cp.StartTime = &t
	}
	cp.Actions = make([]*RecordedAction, len(s.Actions))
	for i, a := range s.Actions {
		cp.Actions[i] = a.Clone()
	}
	return cp
}

// SessionInfo is the export-time session block.
type SessionInfo struct {
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	DurationMs   int64     `json:"duration"`
	TotalActions int       `json:"totalActions"`
}

// SessionSummary aggregates the exported action log by type and page.
type SessionSummary struct {
	TotalActions int `json:"totalActions"`
	Clicks       int `json:"clicks"`
	Inputs       int `json:"inputs"`
	Changes      int `json:"changes"`
	Submits      int `json:"submits"`
	PagesVisited int `json:"pagesVisited"`
}

// ExportedSession is the artifact handed to replay and analysis tooling.
type ExportedSession struct {
	Session SessionInfo       `json:"session"`
	Actions []*RecordedAction `json:"actions"`
	Summary SessionSummary    `json:"summary"`
}

// Summarize computes the summary block for a set of actions.
func Summarize(actions []*RecordedAction) SessionSummary {
	summary := SessionSummary{TotalActions: len(actions)}
	pages := make(map[string]struct{})
	for _, a := range actions {
		switch a.Type {
		case ActionClick:
			summary.Clicks++
		case ActionInput:
			summary.Inputs++
		case ActionChange:
			summary.Changes++
		case ActionSubmit:
			summary.Submits++
		}
		pages[a.BeforeAction.URL] = struct{}{}
	}
	summary.PagesVisited = len(pages)
	return summary
}

// LocalExport is the per-context export produced by a capture agent for a
// page that is not part of a global session.
type LocalExport struct {
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	RecordedAt time.Time         `json:"recordedAt"`
	Actions    []*RecordedAction `json:"actions"`
	Summary    SessionSummary    `json:"summary"`
}

// PageInfo is the lightweight page identity used by lifecycle decisions
// (injection eligibility, labels in logs).
type PageInfo struct {
	ContextID string `json:"contextId"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Attached  bool   `json:"attached"`
}
