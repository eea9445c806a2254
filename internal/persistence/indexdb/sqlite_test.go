package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	_ "modernc.org/sqlite"

	"questingbots.ai/internal/sim/ledger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSQLiteIndex_RecordsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	require.NoError(t, err)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, idx.Emit(ledger.Event{Kind: ledger.EventAssigned, AgentID: "bot-1", AssignmentID: "a1", QuestID: "q1", QuestName: "Q", Objective: "O1", Status: ledger.StatusPending, At: at}))
	require.NoError(t, idx.Emit(ledger.Event{Kind: ledger.EventFailed, AgentID: "bot-1", AssignmentID: "a1", QuestID: "q1", QuestName: "Q", Objective: "O1", Status: ledger.StatusFailed, Reason: "stuck", At: at.Add(time.Second)}))
	idx.RecordQuestSet("abc123", 4)
	require.NoError(t, idx.Close())
	assert.Equal(t, uint64(2), idx.Stats().Written)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(`SELECT kind,status,reason,at FROM assignment_events WHERE agent_id='bot-1' ORDER BY seq`)
	require.NoError(t, err)
	defer rows.Close()
	var got [][4]string
	for rows.Next() {
		var r [4]string
		var reason sql.NullString
		require.NoError(t, rows.Scan(&r[0], &r[1], &reason, &r[3]))
		r[2] = reason.String
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, [][4]string{
		{"assigned", "pending", "", "2026-01-02T03:04:05Z"},
		{"failed", "failed", "stuck", "2026-01-02T03:04:06Z"},
	}, got)

	var quests int
	require.NoError(t, db.QueryRow(`SELECT quests FROM quest_sets WHERE digest='abc123'`).Scan(&quests))
	assert.Equal(t, 4, quests)
}

func TestSQLiteIndex_DropsWhenQueueFull(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqEvent}

	require.NoError(t, s.Emit(ledger.Event{AssignmentID: "x"}))
	s.RecordQuestSet("d", 1)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.DropEventTotal)
	assert.Equal(t, uint64(1), st.DropQuestSetTotal)
	assert.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, 1, st.QueueCapacity)
}

func TestSQLiteIndex_EmitAfterCloseIsNoop(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "index.db"))
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())
	assert.NoError(t, idx.Emit(ledger.Event{}))

	var nilIdx *SQLiteIndex
	assert.NoError(t, nilIdx.Emit(ledger.Event{}))

	_, err = OpenSQLite("")
	assert.Error(t, err)
}
