package quests

import (
	"fmt"
	"time"

	"questingbots.ai/internal/sim/geom"
)

// Action is what an agent does once it reaches a step's position.
type Action string

const (
	ActionMoveTo         Action = "MOVE_TO"
	ActionHoldAtPosition Action = "HOLD_AT_POSITION"
	ActionPlantItem      Action = "PLANT_ITEM"
	ActionToggleSwitch   Action = "TOGGLE_SWITCH"
)

type LootPolicy string

const (
	LootDefault LootPolicy = "default"
	LootForce   LootPolicy = "force"
	LootInhibit LootPolicy = "inhibit"
)

type DurationRange struct {
	Min time.Duration
	Max time.Duration
}

type Step struct {
	Number   int // 1-based, assigned when added to an objective
	Position geom.Vec3
	Action   Action
	Duration DurationRange
	// ChanceOfHavingKey is a percentage in [0,100].
	ChanceOfHavingKey float64
}

type Objective struct {
	Name                string
	LootAfterCompleting LootPolicy
	MaxRunDistance      float64
	Eligibility         Eligibility

	quest *Quest
	steps []*Step
}

func NewObjective(name string, steps ...Step) *Objective {
	o := &Objective{Name: name, LootAfterCompleting: LootDefault}
	for _, s := range steps {
		o.AddStep(s)
	}
	return o
}

func (o *Objective) Quest() *Quest { return o.quest }

// AddStep appends a step; step order is fixed from then on.
func (o *Objective) AddStep(s Step) *Step {
	if s.Action == "" {
		s.Action = ActionMoveTo
	}
	s.Number = len(o.steps) + 1
	st := &s
	o.steps = append(o.steps, st)
	return st
}

func (o *Objective) StepCount() int { return len(o.steps) }

// Step returns the 0-indexed step.
func (o *Objective) Step(i int) (*Step, bool) {
	if i < 0 || i >= len(o.steps) {
		return nil, false
	}
	return o.steps[i], true
}


func (o *Objective) FirstStepPosition() (geom.Vec3, bool) {
	if len(o.steps) == 0 {
		return geom.Vec3{}, false
	}
	return o.steps[0].Position, true
}

// Valid objectives have at least one step; invalid ones are never selected.
func (o *Objective) Valid() bool { return len(o.steps) > 0 }

func (o *Objective) CanAssign(a Agent) (bool, Reason) {
	if !o.Valid() {
		return false, ReasonNoValidObjectives
	}
	return o.Eligibility.Check(a)
}

func (o *Objective) String() string {
	if o == nil {
		return "???"
	}
	return o.Name
}

type Quest struct {
	ID                      string
	Name                    string
	Priority                int
	Repeatable              bool
	MaxAgents               int // 0 means unlimited
	ChanceForSelecting      float64
	CanRunBetweenObjectives bool
	Eligibility             Eligibility
	Waypoints               []geom.Vec3
	// ExpiresAt of zero never expires.
	ExpiresAt time.Time

	objectives []*Objective
}

func (q *Quest) AddObjective(o *Objective) {
	if o.Name == "" {
		o.Name = fmt.Sprintf("%s: Objective #%d", q.Name, len(q.objectives)+1)
	}
	o.quest = q
	q.objectives = append(q.objectives, o)
}

func (q *Quest) Objectives() []*Objective { return append([]*Objective(nil), q.objectives...) }

func (q *Quest) ValidObjectives() []*Objective {
	out := make([]*Objective, 0, len(q.objectives))
	for _, o := range q.objectives {
		if o.Valid() {
			out = append(out, o)
		}
	}
	return out
}

func (q *Quest) NumberOfValidObjectives() int {
	n := 0
	for _, o := range q.objectives {
		if o.Valid() {
			n++
		}
	}
	return n
}

func (q *Quest) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && !now.Before(q.ExpiresAt)
}

// CanAssign checks the static quest predicate. Ledger-dependent rules (repeat
// gating, concurrency caps) are applied by the selector.
func (q *Quest) CanAssign(a Agent, now time.Time) (bool, Reason) {
	if q.NumberOfValidObjectives() == 0 {
		return false, ReasonNoValidObjectives
	}
	if q.Expired(now) {
		return false, ReasonExpired
	}
	return q.Eligibility.Check(a)
}

func (q *Quest) String() string {
	if q == nil {
		return "???"
	}
	return q.Name
}
