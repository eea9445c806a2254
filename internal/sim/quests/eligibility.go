package quests

import "slices"

// Reason explains a failed eligibility check. The empty reason means eligible.
type Reason string

const (
	ReasonOK                  Reason = ""
	ReasonLevelTooLow         Reason = "level_too_low"
	ReasonLevelTooHigh        Reason = "level_too_high"
	ReasonCategory            Reason = "category_not_allowed"
	ReasonNoValidObjectives   Reason = "no_valid_objectives"
	ReasonNoEligibleObjective Reason = "no_eligible_objective"
	ReasonExpired             Reason = "quest_expired"
	ReasonQuestFull           Reason = "quest_full"
	ReasonOverstayed          Reason = "quest_overstayed"
	ReasonAllAssigned         Reason = "all_objectives_assigned"
	ReasonRepeatDelay         Reason = "repeat_delay"
)

// Predicate is a pure eligibility check over agent attributes.
type Predicate func(Agent) (bool, Reason)

// LevelRange accepts agents with min <= level <= max. A max of 0 means no upper bound.
func LevelRange(min, max int) Predicate {
	return func(a Agent) (bool, Reason) {
		if a.Level < min {
			return false, ReasonLevelTooLow
		}
		if max > 0 && a.Level > max {
			return false, ReasonLevelTooHigh
		}
		return true, ReasonOK
	}
}

// CategoryIn accepts agents of the listed categories; an empty list accepts all.
func CategoryIn(cats ...Category) Predicate {
	return func(a Agent) (bool, Reason) {
		if len(cats) == 0 || slices.Contains(cats, a.Category) {
			return true, ReasonOK
		}
		return false, ReasonCategory
	}
}

// All returns the first failing predicate's verdict.
func All(preds ...Predicate) Predicate {
	return func(a Agent) (bool, Reason) {
		for _, p := range preds {
			if ok, why := p(a); !ok {
				return false, why
			}
		}
		return true, ReasonOK
	}
}

// Eligibility is the declarative form of a quest or objective predicate.
type Eligibility struct {
	MinLevel   int        `json:"min_level,omitempty"`
	MaxLevel   int        `json:"max_level,omitempty"`
	Categories []Category `json:"categories,omitempty"`
}

func (e Eligibility) Predicate() Predicate {
	return All(LevelRange(e.MinLevel, e.MaxLevel), CategoryIn(e.Categories...))
}

func (e Eligibility) Check(a Agent) (bool, Reason) { return e.Predicate()(a) }
