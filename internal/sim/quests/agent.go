package quests

import "questingbots.ai/internal/sim/geom"

type Category string

const (
	CategoryUndetermined Category = ""
	CategoryPMC          Category = "pmc"
	CategoryScav         Category = "scav"
	CategoryBoss         Category = "boss"
)

// Agent is the attribute view of an agent that eligibility checks and the
// selector consume. Pos is sampled by the caller at query time.
type Agent struct {
	ID       string
	Pos      geom.Vec3
	Level    int
	Category Category
}
