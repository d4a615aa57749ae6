package export_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
	"github.com/xkilldash9x/webtrace-cli/internal/export"
)

func sampleSession() *schemas.ExportedSession {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	actions := []*schemas.RecordedAction{
		{
			ContextID: "ctx-1",
			Sequence:  1,
			Type:      schemas.ActionClick,
			Timestamp: start.Add(time.Second),
			BeforeAction: schemas.PageState{
				URL: "https://shop.test",
			},
		},
	}
	return &schemas.ExportedSession{
		Session: schemas.SessionInfo{
			StartTime:    start,
			EndTime:      start.Add(time.Minute),
			DurationMs:   60000,
			TotalActions: 1,
		},
		Actions: actions,
		Summary: schemas.Summarize(actions),
	}
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	want := sampleSession()

	require.NoError(t, export.WriteFile(path, want))

	got, err := export.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want.Session, got.Session)
	assert.Equal(t, want.Summary, got.Summary)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, want.Actions[0].ContextID, got.Actions[0].ContextID)
}

func TestWriteFile_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "session.json")
	require.NoError(t, export.WriteFile(path, sampleSession()))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestWriteFile_LeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, export.WriteFile(filepath.Join(dir, "session.json"), sampleSession()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".webtrace-export-"), "temp file left behind: %s", e.Name())
	}
}

func TestWriteFile_IsIndented(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, export.WriteFile(path, sampleSession()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"session\"")
}

func TestReadFile_MissingFile(t *testing.T) {
	_, err := export.ReadFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
