package schemas_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
)

func fullAction() *schemas.RecordedAction {
	now := time.Now()
	return &schemas.RecordedAction{
		ContextID: "ctx-1",
		Sequence:  4,
		Type:      schemas.ActionClick,
		Timestamp: now,
		Element: schemas.ElementDescriptor{
			TagName:    "button",
			ID:         "pay",
			Classes:    []string{"btn", "primary"},
			Path:       "#pay",
			Attributes: map[string]string{"type": "submit"},
		},
		BeforeAction: schemas.PageState{
			URL:      "https://shop.test/cart",
			FormData: map[string]string{"qty": "2"},
		},
		AfterAction: &schemas.PageState{
			URL:      "https://shop.test/done",
			FormData: map[string]string{"qty": "2"},
		},
		ErrorContext: schemas.ErrorContext{
			ValidationErrors: []schemas.ValidationError{{Field: "email", Message: "value missing"}},
			VisibleErrors:    []string{"Invalid email"},
		},
		Screenshots: schemas.Screenshots{
			AfterAction: &schemas.ScreenshotRef{Kind: schemas.ScreenshotGeometry, Bounds: &schemas.Rect{Width: 10}},
		},
		Position: &schemas.Position{X: 1, Y: 2},
	}
}

func TestRecordedAction_Key(t *testing.T) {
	a := fullAction()
	assert.Equal(t, schemas.ActionKey{ContextID: "ctx-1", Sequence: 4}, a.Key())

	b := fullAction()
	b.ContextID = "ctx-2"
	assert.NotEqual(t, a.Key(), b.Key(), "equal sequences in different contexts are distinct identities")
}

func TestRecordedAction_CloneIsDeep(t *testing.T) {
	orig := fullAction()
	clone := orig.Clone()

	if diff := cmp.Diff(orig, clone); diff != "" {
		t.Fatalf("clone differs from original (-orig +clone):\n%s", diff)
	}

	// Mutating the clone must never reach the original.
	clone.Element.Classes[0] = "mutated"
	clone.Element.Attributes["type"] = "mutated"
	clone.BeforeAction.FormData["qty"] = "99"
	clone.AfterAction.URL = "mutated"
	clone.ErrorContext.VisibleErrors[0] = "mutated"
	clone.Screenshots.AfterAction.Bounds.Width = 999
	clone.Position.X = 42

	assert.Equal(t, "btn", orig.Element.Classes[0])
	assert.Equal(t, "submit", orig.Element.Attributes["type"])
	assert.Equal(t, "2", orig.BeforeAction.FormData["qty"])
	assert.Equal(t, "https://shop.test/done", orig.AfterAction.URL)
	assert.Equal(t, "Invalid email", orig.ErrorContext.VisibleErrors[0])
	assert.Equal(t, 10.0, orig.Screenshots.AfterAction.Bounds.Width)
	assert.Equal(t, 1.0, orig.Position.X)
}

func TestRecordingState_Snapshot(t *testing.T) {
	now := time.Now()
	state := schemas.RecordingState{
		IsRecording: true,
		StartTime:   &now,
		Actions:     []*schemas.RecordedAction{fullAction()},
	}

	snap := state.Snapshot()
	require.Len(t, snap.Actions, 1)

	snap.Actions[0].Sequence = 99
	later := now.Add(time.Hour)
	snap.StartTime = &later

	assert.Equal(t, 4, state.Actions[0].Sequence)
	assert.True(t, state.StartTime.Equal(now))
}

func TestSummarize(t *testing.T) {
	actions := []*schemas.RecordedAction{
		{Type: schemas.ActionClick, BeforeAction: schemas.PageState{URL: "https://a.test"}},
		{Type: schemas.ActionClick, BeforeAction: schemas.PageState{URL: "https://a.test"}},
		{Type: schemas.ActionInput, BeforeAction: schemas.PageState{URL: "https://b.test"}},
		{Type: schemas.ActionChange, BeforeAction: schemas.PageState{URL: "https://b.test"}},
		{Type: schemas.ActionSubmit, BeforeAction: schemas.PageState{URL: "https://c.test"}},
	}

	summary := schemas.Summarize(actions)
	assert.Equal(t, 5, summary.TotalActions)
	assert.Equal(t, 2, summary.Clicks)
	assert.Equal(t, 1, summary.Inputs)
	assert.Equal(t, 1, summary.Changes)
	assert.Equal(t, 1, summary.Submits)
	assert.Equal(t, 3, summary.PagesVisited)
}

func TestSummarize_Empty(t *testing.T) {
	summary := schemas.Summarize(nil)
	assert.Zero(t, summary.TotalActions)
	assert.Zero(t, summary.PagesVisited)
}
