// File: internal/recorder/action/builder.go

// Package action synthesizes structured RecordedAction values from raw
// interaction events and the page state available at event time.
package action

import (
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/snapshot"
)

// RawEvent is the payload the capture script emits for one interaction,
// before any enrichment.
type RawEvent struct {
	Type  schemas.ActionType `json:"type"`
	XPath string             `json:"xpath"`
	Value string             `json:"value"`
	X     float64            `json:"x"`
	Y     float64            `json:"y"`
}

// Config bounds the builder's extraction work.
type Config struct {
	// SurroundingTextLimit caps surrounding-text extraction per element.
	SurroundingTextLimit int
	// NominalDelay is the fixed pacing hint written into every action's
	// timing block for replay tooling.
	NominalDelay time.Duration
}

// Builder produces RecordedActions. It is stateless apart from its config
// and safe for concurrent use.
type Builder struct {
	cfg Config
}

// NewBuilder creates a builder.
func NewBuilder(cfg Config) *Builder {
	if cfg.SurroundingTextLimit <= 0 {
		cfg.SurroundingTextLimit = 200
	}
	return &Builder{cfg: cfg}
}

// Build synthesizes a partially enriched action from what is known at event
// time. The after-state, after-error-context, and screenshots are attached
// later by the owning agent. Build never fails: an unresolvable element
// yields a descriptor holding only the reported path.
func (b *Builder) Build(
	contextID string,
	sequence int,
	ev RawEvent,
	doc *html.Node,
	meta snapshot.PageMeta,
	pageLoad time.Duration,
) *schemas.RecordedAction {
	rec := &schemas.RecordedAction{
		ContextID:    contextID,
		Sequence:     sequence,
		Type:         ev.Type,
		Timestamp:    time.Now(),
		Element:      b.Describe(doc, ev),
		BeforeAction: snapshot.CaptureState(doc, meta),
		ErrorContext: b.ErrorContext(doc),
		Timing: schemas.ActionTiming{
			PageLoadMs:        pageLoad.Milliseconds(),
			NominalDelayMs:    b.cfg.NominalDelay.Milliseconds(),
			LoadingIndicators: snapshot.LoadingIndicators(doc),
		},
	}
	if ev.Type == schemas.ActionClick {
		rec.Position = &schemas.Position{X: ev.X, Y: ev.Y}
	}
	return rec
}

// Describe builds the element descriptor for the event target.
func (b *Builder) Describe(doc *html.Node, ev RawEvent) schemas.ElementDescriptor {
	node := locate(doc, ev.XPath)
	if node == nil {
		// The element may already be gone (navigation, re-render). Keep what
		// the event itself told us.
		return schemas.ElementDescriptor{Path: ev.XPath, Value: ev.Value}
	}

	desc := schemas.ElementDescriptor{
		TagName:         strings.ToLower(node.Data),
		ID:              attr(node, "id"),
		Value:           ev.Value,
		Path:            snapshot.StructuralPath(node),
		Attributes:      snapshot.Attributes(node),
		SurroundingText: snapshot.SurroundingText(node, b.cfg.SurroundingTextLimit),
		AriaRole:        snapshot.AriaRole(node),
		AriaLabel:       snapshot.AriaLabel(doc, node),
		Visible:         snapshot.IsVisible(node),
		Clickable:       snapshot.IsClickable(node),
		ParentContext:   snapshot.ParentContext(node),
	}
	if class := attr(node, "class"); class != "" {
		desc.Classes = strings.Fields(class)
	}
	if desc.Value == "" {
		desc.Value = attr(node, "value")
	}
	return desc
}

// ErrorContext extracts the page's current failure signals. It is invoked
// twice per action: at creation and again after the settle delay.
func (b *Builder) ErrorContext(doc *html.Node) schemas.ErrorContext {
	return schemas.ErrorContext{
		ValidationErrors: snapshot.ValidationErrors(doc),
		VisibleErrors:    snapshot.VisibleErrors(doc),
	}
}

func locate(doc *html.Node, xpath string) *html.Node {
	if doc == nil || xpath == "" {
		return nil
	}
	node, err := htmlquery.Query(doc, xpath)
	if err != nil {
		return nil
	}
	return node
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
