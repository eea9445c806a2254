// Package ledger keeps the per-agent history of job assignments. For every
// agent at most one assignment is pending or active; all earlier ones are
// completed or failed.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"questingbots.ai/internal/sim/quests"
	"questingbots.ai/internal/sim/simclock"
)

var (
	ErrNilAgent          = errors.New("ledger: empty agent id")
	ErrNilQuest          = errors.New("ledger: nil quest or objective")
	ErrUnknownAssignment = errors.New("ledger: unknown assignment")
	ErrNotCurrent        = errors.New("ledger: assignment is not the agent's current one")
	ErrTerminal          = errors.New("ledger: assignment already ended")
)

type Ledger struct {
	clock simclock.Clock
	emit  func(Event)

	mu      sync.RWMutex
	history map[string][]*Assignment
}

// New returns an empty ledger. emit may be nil; it is called outside the lock.
func New(clock simclock.Clock, emit func(Event)) *Ledger {
	if clock == nil {
		clock = simclock.Real{}
	}
	return &Ledger{clock: clock, emit: emit, history: map[string][]*Assignment{}}
}

func (l *Ledger) publish(evs []Event) {
	if l.emit == nil {
		return
	}
	for _, ev := range evs {
		l.emit(ev)
	}
}

// Assign appends a pending assignment for (quest, objective, step). A still
// running assignment of the agent is failed as abandoned first.
func (l *Ledger) Assign(agentID string, o *quests.Objective, stepIndex int) (Assignment, error) {
	if agentID == "" {
		return Assignment{}, ErrNilAgent
	}
	if o == nil || o.Quest() == nil {
		return Assignment{}, ErrNilQuest
	}
	if _, ok := o.Step(stepIndex); !ok {
		return Assignment{}, fmt.Errorf("ledger: objective %q has no step %d", o.Name, stepIndex)
	}
	now := l.clock.Now()
	var evs []Event

	l.mu.Lock()
	list := l.history[agentID]
	if n := len(list); n > 0 && !list[n-1].Terminal() {
		prev := list[n-1]
		prev.Status = StatusFailed
		prev.EndedAt = now
		prev.Reason = ReasonAbandoned
		evs = append(evs, eventFor(EventAbandoned, prev, now))
	}
	a := &Assignment{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Quest:     o.Quest(),
		Objective: o,
		StepIndex: stepIndex,
		Status:    StatusPending,
		CreatedAt: now,
	}
	l.history[agentID] = append(list, a)
	evs = append(evs, eventFor(EventAssigned, a, now))
	snap := *a
	l.mu.Unlock()

	l.publish(evs)
	return snap, nil
}

// Start moves the agent's current assignment from pending to active.
func (l *Ledger) Start(agentID, id string) (Assignment, error) {
	return l.transition(agentID, id, func(a *Assignment, now time.Time) (EventKind, error) {
		if a.Status != StatusPending {
			return "", fmt.Errorf("ledger: start %s: status is %s", a.ID, a.Status)
		}
		a.Status = StatusActive
		a.StartedAt = now
		return EventStarted, nil
	})
}

func (l *Ledger) Complete(agentID, id string) (Assignment, error) {
	return l.transition(agentID, id, func(a *Assignment, now time.Time) (EventKind, error) {
		a.Status = StatusCompleted
		a.EndedAt = now
		return EventCompleted, nil
	})
}

func (l *Ledger) Fail(agentID, id, reason string) (Assignment, error) {
	return l.transition(agentID, id, func(a *Assignment, now time.Time) (EventKind, error) {
		a.Status = StatusFailed
		a.EndedAt = now
		a.Reason = reason
		return EventFailed, nil
	})
}

func (l *Ledger) transition(agentID, id string, fn func(*Assignment, time.Time) (EventKind, error)) (Assignment, error) {
	if agentID == "" {
		return Assignment{}, ErrNilAgent
	}
	now := l.clock.Now()

	l.mu.Lock()
	list := l.history[agentID]
	idx := -1
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return Assignment{}, fmt.Errorf("%w: %s", ErrUnknownAssignment, id)
	}
	a := list[idx]
	if a.Terminal() {
		l.mu.Unlock()
		return *a, fmt.Errorf("%w: %s is %s", ErrTerminal, id, a.Status)
	}
	if idx != len(list)-1 {
		l.mu.Unlock()
		return *a, fmt.Errorf("%w: %s", ErrNotCurrent, id)
	}
	kind, err := fn(a, now)
	if err != nil {
		l.mu.Unlock()
		return *a, err
	}
	ev := eventFor(kind, a, now)
	snap := *a
	l.mu.Unlock()

	l.publish([]Event{ev})
	return snap, nil
}

// Current returns the agent's latest assignment, which may already be terminal.
func (l *Ledger) Current(agentID string) (Assignment, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	list := l.history[agentID]
	if len(list) == 0 {
		return Assignment{}, false
	}
	return *list[len(list)-1], true
}

// Running returns the agent's pending or active assignment.
func (l *Ledger) Running(agentID string) (Assignment, bool) {
	a, ok := l.Current(agentID)
	if !ok || a.Terminal() {
		return Assignment{}, false
	}
	return a, true
}

func (l *Ledger) History(agentID string) []Assignment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	list := l.history[agentID]
	out := make([]Assignment, len(list))
	for i, a := range list {
		out[i] = *a
	}
	return out
}

func (l *Ledger) HasHistory(agentID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.history[agentID]) > 0
}

func (l *Ledger) Agents() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.history))
	for id := range l.history {
		out = append(out, id)
	}
	return out
}

// Forget drops the history of an agent that left the simulation.
func (l *Ledger) Forget(agentID string) {
	l.mu.Lock()
	delete(l.history, agentID)
	l.mu.Unlock()
}
