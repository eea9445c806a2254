package ledger

import (
	"time"

	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/quests"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// ReasonAbandoned marks an assignment failed because a newer one replaced it.
const ReasonAbandoned = "abandoned"

// Assignment is a snapshot of one job assignment. The ledger owns the live
// record; callers refer to it by ID.
type Assignment struct {
	ID        string
	AgentID   string
	Quest     *quests.Quest
	Objective *quests.Objective
	StepIndex int

	Status    Status
	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
	Reason    string
}

func (a Assignment) Step() (*quests.Step, bool) {
	if a.Objective == nil {
		return nil, false
	}
	return a.Objective.Step(a.StepIndex)
}

// Target is the current step's position.
func (a Assignment) Target() (geom.Vec3, bool) {
	s, ok := a.Step()
	if !ok {
		return geom.Vec3{}, false
	}
	return s.Position, true
}

// HasNextStep reports whether the objective continues after this step.
func (a Assignment) HasNextStep() bool {
	return a.Objective != nil && a.StepIndex+1 < a.Objective.StepCount()
}

func (a Assignment) Terminal() bool { return a.Status.Terminal() }

// Elapsed is how long the assignment ran, up to now when still running.
func (a Assignment) Elapsed(now time.Time) time.Duration {
	start := a.StartedAt
	if start.IsZero() {
		start = a.CreatedAt
	}
	if a.Terminal() {
		return a.EndedAt.Sub(start)
	}
	return now.Sub(start)
}
