package ledger

import (
	"time"

	"questingbots.ai/internal/sim/quests"
)

// RemainingObjectives lists the valid objectives of q never assigned to the agent.
func (l *Ledger) RemainingObjectives(agentID string, q *quests.Quest) []*quests.Objective {
	if q == nil {
		return nil
	}
	l.mu.RLock()
	assigned := map[*quests.Objective]bool{}
	for _, a := range l.history[agentID] {
		if a.Quest == q {
			assigned[a.Objective] = true
		}
	}
	l.mu.RUnlock()

	var out []*quests.Objective
	for _, o := range q.ValidObjectives() {
		if !assigned[o] {
			out = append(out, o)
		}
	}
	return out
}

// LastEndTime is when the agent's most recent assignment under q ended.
func (l *Ledger) LastEndTime(agentID string, q *quests.Quest) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var last time.Time
	found := false
	for _, a := range l.history[agentID] {
		if a.Quest != q || !a.Terminal() {
			continue
		}
		if !found || a.EndedAt.After(last) {
			last = a.EndedAt
			found = true
		}
	}
	return last, found
}

// LastEnded returns the agent's most recently ended assignment.
func (l *Ledger) LastEnded(agentID string) (Assignment, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	list := l.history[agentID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Terminal() {
			return *list[i], true
		}
	}
	return Assignment{}, false
}

// RunStartTime is when the agent's trailing, uninterrupted run of assignments
// under q began. It reports false when the latest assignment is for another quest.
func (l *Ledger) RunStartTime(agentID string, q *quests.Quest) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	list := l.history[agentID]
	var start time.Time
	found := false
	for i := len(list) - 1; i >= 0 && list[i].Quest == q; i-- {
		start = list[i].CreatedAt
		found = true
	}
	return start, found
}

// ActiveCount counts pending or active assignments for q across all agents.
func (l *Ledger) ActiveCount(q *quests.Quest) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, list := range l.history {
		if k := len(list); k > 0 && list[k-1].Quest == q && !list[k-1].Terminal() {
			n++
		}
	}
	return n
}

// ConsecutiveFailures counts the agent's trailing failed assignments.
// Abandoned assignments are skipped.
func (l *Ledger) ConsecutiveFailures(agentID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	list := l.history[agentID]
	n := 0
	for i := len(list) - 1; i >= 0; i-- {
		switch list[i].Status {
		case StatusFailed:
			if list[i].Reason != ReasonAbandoned {
				n++
			}
		case StatusCompleted:
			return n
		}
	}
	return n
}
