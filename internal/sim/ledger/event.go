package ledger

import "time"

type EventKind string

const (
	EventAssigned  EventKind = "assigned"
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventAbandoned EventKind = "abandoned"
)

// Event is emitted on every ledger transition.
type Event struct {
	Kind         EventKind `json:"kind"`
	AgentID      string    `json:"agent_id"`
	AssignmentID string    `json:"assignment_id"`
	QuestID      string    `json:"quest_id"`
	QuestName    string    `json:"quest_name"`
	Objective    string    `json:"objective"`
	Step         int       `json:"step"`
	Status       Status    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

func eventFor(kind EventKind, a *Assignment, at time.Time) Event {
	ev := Event{
		Kind:         kind,
		AgentID:      a.AgentID,
		AssignmentID: a.ID,
		Step:         a.StepIndex,
		Status:       a.Status,
		Reason:       a.Reason,
		At:           at,
	}
	if a.Quest != nil {
		ev.QuestID = a.Quest.ID
		ev.QuestName = a.Quest.Name
	}
	if a.Objective != nil {
		ev.Objective = a.Objective.Name
	}
	return ev
}
