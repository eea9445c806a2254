package quests

import (
	"fmt"

	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/tuning"
)

func newQuestFromSettings(name string, s tuning.QuestSettings) *Quest {
	return &Quest{
		Name:                    name,
		Priority:                s.Priority,
		Repeatable:              s.Repeatable,
		MaxAgents:               s.MaxAgents,
		ChanceForSelecting:      s.ChanceForSelecting,
		CanRunBetweenObjectives: s.CanRunBetweenObjectives,
		Eligibility:             Eligibility{MinLevel: s.MinLevel, MaxLevel: s.MaxLevel},
	}
}

// NewGoToPositionQuest builds a quest with one single-step objective at pos.
func NewGoToPositionQuest(name string, pos geom.Vec3, s tuning.QuestSettings) *Quest {
	q := newQuestFromSettings(name, s)
	o := NewObjective(name, Step{Position: pos, Action: ActionMoveTo})
	o.MaxRunDistance = s.MaxRunDistance
	q.AddObjective(o)
	return q
}

// NewSpawnPointQuest builds a wander quest with one objective per point.
// It returns nil when points is empty.
func NewSpawnPointQuest(name string, points []geom.Vec3, s tuning.QuestSettings) *Quest {
	if len(points) == 0 {
		return nil
	}
	q := newQuestFromSettings(name, s)
	for i, p := range points {
		o := NewObjective(fmt.Sprintf("Spawn point %d", i+1), Step{Position: p, Action: ActionMoveTo})
		o.MaxRunDistance = s.MaxRunDistance
		q.AddObjective(o)
	}
	return q
}
