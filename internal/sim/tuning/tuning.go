package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the injected configuration for the questing core. Durations are
// stored in the units they are written in and exposed through accessors.
type Settings struct {
	UpdateIntervalMs                   int     `yaml:"update_interval_ms"`
	SelectionIntervalMs                int     `yaml:"selection_interval_ms"`
	MinTimeBetweenSwitchingObjectivesS float64 `yaml:"min_time_between_switching_objectives_s"`
	AssignmentEndCooldownS             float64 `yaml:"assignment_end_cooldown_s"`
	ObjectiveReachedIdeal              float64 `yaml:"objective_reached_ideal"`
	DistanceRandomnessPercent          float64 `yaml:"distance_randomness_percent"`
	RepeatQuestDelayS                  float64 `yaml:"repeat_quest_delay_s"`
	MaxTimePerQuestS                   float64 `yaml:"max_time_per_quest_s"`
	MaxConsecutiveFailures             int     `yaml:"max_consecutive_failures"`
	MaxEmptySelections                 int     `yaml:"max_empty_selections"`
	MaxCalcTimePerFrameMs              float64 `yaml:"max_calc_time_per_frame_ms"`
	IncompletePathRetryIntervalS       float64 `yaml:"incomplete_path_retry_interval_s"`

	AllowedCategories AllowedCategories `yaml:"allowed_categories"`
	Chaser            QuestSettings     `yaml:"chaser"`
	SpawnPointWander  QuestSettings     `yaml:"spawn_point_wander"`
}

type AllowedCategories struct {
	PMC  bool `yaml:"pmc"`
	Scav bool `yaml:"scav"`
	Boss bool `yaml:"boss"`
}

// Allows reports whether agents of the named category may quest.
func (a AllowedCategories) Allows(category string) bool {
	switch strings.ToLower(category) {
	case "pmc":
		return a.PMC
	case "scav":
		return a.Scav
	case "boss":
		return a.Boss
	}
	return false
}

// QuestSettings parameterizes generated quests (chaser, wander).
type QuestSettings struct {
	Priority                int     `yaml:"priority"`
	ChanceForSelecting      float64 `yaml:"chance_for_selecting"`
	MaxAgents               int     `yaml:"max_agents"`
	MinLevel                int     `yaml:"min_level"`
	MaxLevel                int     `yaml:"max_level"`
	Repeatable              bool    `yaml:"repeatable"`
	CanRunBetweenObjectives bool    `yaml:"can_run_between_objectives"`
	MaxRunDistance          float64 `yaml:"max_run_distance"`
	InterestTimeS           float64 `yaml:"interest_time_s"`
}

func (q QuestSettings) InterestTime() time.Duration { return seconds(q.InterestTimeS) }

func Defaults() Settings {
	return Settings{
		UpdateIntervalMs:                   200,
		SelectionIntervalMs:                1000,
		MinTimeBetweenSwitchingObjectivesS: 5,
		AssignmentEndCooldownS:             5,
		ObjectiveReachedIdeal:              0.5,
		DistanceRandomnessPercent:          30,
		RepeatQuestDelayS:                  360,
		MaxTimePerQuestS:                   300,
		MaxConsecutiveFailures:             10,
		MaxEmptySelections:                 3,
		MaxCalcTimePerFrameMs:              5,
		IncompletePathRetryIntervalS:       5,
		AllowedCategories:                  AllowedCategories{PMC: true, Scav: true},
		Chaser: QuestSettings{
			Priority:                0,
			ChanceForSelecting:      50,
			MaxAgents:               4,
			MaxLevel:                99,
			CanRunBetweenObjectives: true,
			MaxRunDistance:          20,
			InterestTimeS:           420,
		},
		SpawnPointWander: QuestSettings{
			Priority:                99,
			ChanceForSelecting:      100,
			MaxAgents:               2,
			MaxLevel:                99,
			Repeatable:              true,
			CanRunBetweenObjectives: true,
			MaxRunDistance:          10,
		},
	}
}

func Load(path string) (Settings, error) {
	s := Defaults()
	if strings.TrimSpace(path) == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("tuning.yaml: %w", err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("tuning.yaml: %w", err)
	}
	return s, nil
}

// Normalize fills zero values that would otherwise disable the core loops.
func (s *Settings) Normalize() {
	d := Defaults()
	if s.UpdateIntervalMs <= 0 {
		s.UpdateIntervalMs = d.UpdateIntervalMs
	}
	if s.SelectionIntervalMs <= 0 {
		s.SelectionIntervalMs = d.SelectionIntervalMs
	}
	if s.ObjectiveReachedIdeal <= 0 {
		s.ObjectiveReachedIdeal = d.ObjectiveReachedIdeal
	}
	if s.MaxCalcTimePerFrameMs <= 0 {
		s.MaxCalcTimePerFrameMs = d.MaxCalcTimePerFrameMs
	}
}

func (s Settings) Validate() error {
	if s.DistanceRandomnessPercent < 0 || s.DistanceRandomnessPercent > 100 {
		return fmt.Errorf("distance_randomness_percent must be within [0,100], got %v", s.DistanceRandomnessPercent)
	}
	if s.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("max_consecutive_failures must be >= 0")
	}
	if s.MaxEmptySelections < 0 {
		return fmt.Errorf("max_empty_selections must be >= 0")
	}
	for name, v := range map[string]float64{
		"min_time_between_switching_objectives_s": s.MinTimeBetweenSwitchingObjectivesS,
		"assignment_end_cooldown_s":               s.AssignmentEndCooldownS,
		"repeat_quest_delay_s":                    s.RepeatQuestDelayS,
		"max_time_per_quest_s":                    s.MaxTimePerQuestS,
		"incomplete_path_retry_interval_s":        s.IncompletePathRetryIntervalS,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	return nil
}

func (s Settings) UpdateInterval() time.Duration {
	return time.Duration(s.UpdateIntervalMs) * time.Millisecond
}

func (s Settings) SelectionInterval() time.Duration {
	return time.Duration(s.SelectionIntervalMs) * time.Millisecond
}

func (s Settings) MinTimeBetweenSwitchingObjectives() time.Duration {
	return seconds(s.MinTimeBetweenSwitchingObjectivesS)
}

func (s Settings) AssignmentEndCooldown() time.Duration { return seconds(s.AssignmentEndCooldownS) }
func (s Settings) RepeatQuestDelay() time.Duration      { return seconds(s.RepeatQuestDelayS) }

// MaxTimePerQuest returns 0 when the limit is disabled.
func (s Settings) MaxTimePerQuest() time.Duration { return seconds(s.MaxTimePerQuestS) }

func (s Settings) MaxCalcTimePerFrame() time.Duration {
	return time.Duration(s.MaxCalcTimePerFrameMs * float64(time.Millisecond))
}

func (s Settings) IncompletePathRetryInterval() time.Duration {
	return seconds(s.IncompletePathRetryIntervalS)
}

func seconds(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }
