package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
)

// Reader is the read side of an index written by SQLiteIndex.
type Reader struct {
	db *sql.DB
}

type EventRow struct {
	Seq          int64  `json:"seq"`
	AssignmentID string `json:"assignment_id"`
	AgentID      string `json:"agent_id"`
	Kind         string `json:"kind"`
	QuestID      string `json:"quest_id"`
	QuestName    string `json:"quest_name"`
	Objective    string `json:"objective"`
	Step         int    `json:"step"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	At           string `json:"at"`
}

type KindCount struct {
	QuestID string `json:"quest_id"`
	Kind    string `json:"kind"`
	Count   int    `json:"count"`
}

type QuestSetRow struct {
	Digest   string `json:"digest"`
	Quests   int    `json:"quests"`
	LoadedAt string `json:"loaded_at"`
}

// OpenReader opens an existing index. It does not create the file.
func OpenReader(path string) (*Reader, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

// Events returns the most recent events, newest first. An empty agentID
// matches every agent.
func (r *Reader) Events(ctx context.Context, agentID string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT seq,assignment_id,agent_id,kind,quest_id,quest_name,objective,step,status,reason,at
		FROM assignment_events WHERE (?='' OR agent_id=?) ORDER BY seq DESC LIMIT ?`, agentID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var reason sql.NullString
		if err := rows.Scan(&e.Seq, &e.AssignmentID, &e.AgentID, &e.Kind, &e.QuestID, &e.QuestName, &e.Objective, &e.Step, &e.Status, &reason, &e.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// KindCounts aggregates events per quest and kind.
func (r *Reader) KindCounts(ctx context.Context) ([]KindCount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT quest_id,kind,COUNT(*) FROM assignment_events GROUP BY quest_id,kind ORDER BY quest_id,kind`)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	var out []KindCount
	for rows.Next() {
		var c KindCount
		if err := rows.Scan(&c.QuestID, &c.Kind, &c.Count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Reader) QuestSets(ctx context.Context) ([]QuestSetRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT digest,quests,loaded_at FROM quest_sets ORDER BY loaded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query quest sets: %w", err)
	}
	defer rows.Close()

	var out []QuestSetRow
	for rows.Next() {
		var q QuestSetRow
		if err := rows.Scan(&q.Digest, &q.Quests, &q.LoadedAt); err != nil {
			return nil, fmt.Errorf("scan quest set: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
