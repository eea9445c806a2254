// Package questdefs loads quest definitions from JSON files checked against
// an embedded schema.
package questdefs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/quests"
)

//go:embed quests.schema.json
var schemaJSON []byte

const schemaName = "quests.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaName, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(schemaName)
	})
	return schema, schemaErr
}

type File struct {
	Quests []QuestDef `json:"quests"`
}

type QuestDef struct {
	ID                      string         `json:"id,omitempty"`
	Name                    string         `json:"name"`
	Priority                int            `json:"priority"`
	Repeatable              bool           `json:"repeatable,omitempty"`
	MaxAgents               int            `json:"max_agents,omitempty"`
	ChanceForSelecting      *float64       `json:"chance_for_selecting,omitempty"`
	CanRunBetweenObjectives *bool          `json:"can_run_between_objectives,omitempty"`
	MinLevel                int            `json:"min_level,omitempty"`
	MaxLevel                int            `json:"max_level,omitempty"`
	Categories              []string       `json:"categories,omitempty"`
	Waypoints               []geom.Vec3    `json:"waypoints,omitempty"`
	Objectives              []ObjectiveDef `json:"objectives"`
}

type ObjectiveDef struct {
	Name                string    `json:"name,omitempty"`
	LootAfterCompleting string    `json:"loot_after_completing,omitempty"`
	MaxRunDistance      float64   `json:"max_run_distance,omitempty"`
	MinLevel            int       `json:"min_level,omitempty"`
	MaxLevel            int       `json:"max_level,omitempty"`
	Categories          []string  `json:"categories,omitempty"`
	Steps               []StepDef `json:"steps"`
}

type StepDef struct {
	Position          geom.Vec3 `json:"position"`
	Action            string    `json:"action,omitempty"`
	MinDurationS      float64   `json:"min_duration_s,omitempty"`
	MaxDurationS      float64   `json:"max_duration_s,omitempty"`
	ChanceOfHavingKey float64   `json:"chance_of_having_key,omitempty"`
}

// Set is a loaded definition file. Digest is the sha256 of the raw bytes.
type Set struct {
	Quests []*quests.Quest
	Digest string
}

func Load(path string) (*Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	set, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Parse validates raw against the schema and builds the quests.
func Parse(raw []byte) (*Set, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	set := &Set{Digest: sha256Hex(raw)}
	for _, qd := range f.Quests {
		set.Quests = append(set.Quests, qd.build())
	}
	return set, nil
}

// AddTo registers every quest of the set with g.
func (s *Set) AddTo(g *quests.Graph) error {
	for _, q := range s.Quests {
		if err := g.AddQuest(q); err != nil {
			return err
		}
	}
	return nil
}

func (qd QuestDef) build() *quests.Quest {
	q := &quests.Quest{
		ID:                      qd.ID,
		Name:                    qd.Name,
		Priority:                qd.Priority,
		Repeatable:              qd.Repeatable,
		MaxAgents:               qd.MaxAgents,
		ChanceForSelecting:      100,
		CanRunBetweenObjectives: true,
		Eligibility:             eligibility(qd.MinLevel, qd.MaxLevel, qd.Categories),
		Waypoints:               append([]geom.Vec3(nil), qd.Waypoints...),
	}
	if qd.ChanceForSelecting != nil {
		q.ChanceForSelecting = *qd.ChanceForSelecting
	}
	if qd.CanRunBetweenObjectives != nil {
		q.CanRunBetweenObjectives = *qd.CanRunBetweenObjectives
	}
	for _, od := range qd.Objectives {
		o := quests.NewObjective(od.Name)
		if od.LootAfterCompleting != "" {
			o.LootAfterCompleting = quests.LootPolicy(od.LootAfterCompleting)
		}
		o.MaxRunDistance = od.MaxRunDistance
		o.Eligibility = eligibility(od.MinLevel, od.MaxLevel, od.Categories)
		for _, sd := range od.Steps {
			o.AddStep(quests.Step{
				Position: sd.Position,
				Action:   quests.Action(sd.Action),
				Duration: quests.DurationRange{
					Min: seconds(sd.MinDurationS),
					Max: seconds(sd.MaxDurationS),
				},
				ChanceOfHavingKey: sd.ChanceOfHavingKey,
			})
		}
		q.AddObjective(o)
	}
	return q
}

func eligibility(minLevel, maxLevel int, cats []string) quests.Eligibility {
	e := quests.Eligibility{MinLevel: minLevel, MaxLevel: maxLevel}
	for _, c := range cats {
		e.Categories = append(e.Categories, quests.Category(strings.ToLower(c)))
	}
	return e
}

func seconds(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
