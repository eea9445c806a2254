package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questingbots.ai/internal/sim/ledger"
)

func readLines(t *testing.T, path string) []ledger.Event {
	t.Helper()
	var out []ledger.Event
	require.NoError(t, ReadJSONL(path, func(line []byte) error {
		var ev ledger.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	}))
	return out
}

func TestAssignmentLogger_RotatesByEventHour(t *testing.T) {
	dir := t.TempDir()
	l := NewAssignmentLogger(dir)

	t0 := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	evs := []ledger.Event{
		{Kind: ledger.EventAssigned, AgentID: "bot-1", AssignmentID: "a1", QuestName: "Q", At: t0},
		{Kind: ledger.EventCompleted, AgentID: "bot-1", AssignmentID: "a1", Status: ledger.StatusCompleted, At: t0.Add(30 * time.Second)},
		{Kind: ledger.EventAssigned, AgentID: "bot-1", AssignmentID: "a2", At: t0.Add(2 * time.Minute)},
	}
	for _, ev := range evs {
		require.NoError(t, l.Emit(ev))
	}
	require.NoError(t, l.Close())
	assert.Equal(t, 3, l.w.Lines())

	first := readLines(t, filepath.Join(dir, "assignments", "assignments-2026-03-01-10.jsonl.zst"))
	require.Len(t, first, 2)
	assert.Equal(t, ledger.EventAssigned, first[0].Kind)
	assert.Equal(t, ledger.StatusCompleted, first[1].Status)

	second := readLines(t, filepath.Join(dir, "assignments", "assignments-2026-03-01-11.jsonl.zst"))
	require.Len(t, second, 1)
	assert.Equal(t, "a2", second[0].AssignmentID)
}

func TestJSONLZstdWriter_CloseIsIdempotent(t *testing.T) {
	w := NewJSONLZstdWriter(t.TempDir(), "x")
	assert.NoError(t, w.Close())
	require.NoError(t, w.Write(time.Now(), map[string]int{"a": 1}))
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestReadAssignmentEvents_InHourOrder(t *testing.T) {
	dir := t.TempDir()
	l := NewAssignmentLogger(dir)
	t0 := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	for i, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, l.Emit(ledger.Event{Kind: ledger.EventAssigned, AgentID: "bot", AssignmentID: id, At: t0.Add(time.Duration(i) * time.Hour)}))
	}
	require.NoError(t, l.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assignments", "notes.txt"), []byte("x"), 0o644))

	files, err := ListFiles(filepath.Join(dir, "assignments"), "assignments")
	require.NoError(t, err)
	assert.Len(t, files, 3)

	var ids []string
	require.NoError(t, ReadAssignmentEvents(dir, func(ev ledger.Event) error {
		ids = append(ids, ev.AssignmentID)
		return nil
	}))
	assert.Equal(t, []string{"a1", "a2", "a3"}, ids)
}

func TestReadAssignmentEvents_MissingDir(t *testing.T) {
	err := ReadAssignmentEvents(t.TempDir(), func(ledger.Event) error { return nil })
	assert.ErrorIs(t, err, os.ErrNotExist)
}
