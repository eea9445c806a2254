// Package indexdb mirrors assignment events into a queryable SQLite index.
// Writes are queued and applied by a single writer goroutine; when the queue
// is full events are dropped and counted.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"questingbots.ai/internal/sim/ledger"
)

const defaultQueue = 65536

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvent    atomic.Uint64
	dropQuestSet atomic.Uint64
	written      atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqQuestSet
)

type req struct {
	kind reqKind

	event    ledger.Event
	questSet questSetRow
}

type questSetRow struct {
	Digest   string
	Quests   int
	LoadedAt string
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	Written           uint64
	DropEventTotal    uint64
	DropQuestSetTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, defaultQueue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS quest_sets (
			digest TEXT PRIMARY KEY,
			quests INTEGER NOT NULL,
			loaded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS assignment_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			assignment_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			quest_id TEXT NOT NULL,
			quest_name TEXT NOT NULL,
			objective TEXT NOT NULL,
			step INTEGER NOT NULL,
			status TEXT NOT NULL,
			reason TEXT,
			at TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent ON assignment_events(agent_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_quest ON assignment_events(quest_id, kind);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Emit queues ev. It never blocks; a full queue drops the event.
func (s *SQLiteIndex) Emit(ev ledger.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: ev}:
	default:
		s.dropEvent.Add(1)
	}
	return nil
}

// RecordQuestSet notes which quest definition file a session ran with.
func (s *SQLiteIndex) RecordQuestSet(digest string, quests int) {
	if s == nil || s.closed.Load() || digest == "" {
		return
	}
	r := questSetRow{Digest: digest, Quests: quests, LoadedAt: time.Now().UTC().Format(time.RFC3339Nano)}
	select {
	case s.ch <- req{kind: reqQuestSet, questSet: r}:
	default:
		s.dropQuestSet.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		Written:           s.written.Load(),
		DropEventTotal:    s.dropEvent.Load(),
		DropQuestSetTotal: s.dropQuestSet.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()
	insertEvent, _ := s.db.Prepare(`INSERT INTO assignment_events(assignment_id,agent_id,kind,quest_id,quest_name,objective,step,status,reason,at,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertQuestSet, _ := s.db.Prepare(`INSERT OR REPLACE INTO quest_sets(digest,quests,loaded_at) VALUES(?,?,?)`)
	defer func() {
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
		if insertQuestSet != nil {
			_ = insertQuestSet.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		pending       uint64
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		pending = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err == nil {
			s.written.Add(pending)
		}
		tx = nil
		opCount = 0
		pending = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		pending = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			ev := r.event
			if insertEvent == nil {
				continue
			}
			raw, _ := json.Marshal(ev)
			if _, err := tx.Stmt(insertEvent).Exec(
				ev.AssignmentID,
				ev.AgentID,
				string(ev.Kind),
				ev.QuestID,
				ev.QuestName,
				ev.Objective,
				ev.Step,
				string(ev.Status),
				ev.Reason,
				ev.At.UTC().Format(time.RFC3339Nano),
				string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++
			pending++

		case reqQuestSet:
			qs := r.questSet
			if insertQuestSet == nil {
				continue
			}
			if _, err := tx.Stmt(insertQuestSet).Exec(qs.Digest, qs.Quests, qs.LoadedAt); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	commit()
}
