// Package selector picks the next objective for an agent: quests are grouped
// by priority, ranked by jittered distance and accepted by a chance roll.
package selector

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/ledger"
	"questingbots.ai/internal/sim/quests"
	"questingbots.ai/internal/sim/simclock"
	"questingbots.ai/internal/sim/tuning"
)

type Config struct {
	Graph    *quests.Graph
	Ledger   *ledger.Ledger
	Settings tuning.Settings
	Clock    simclock.Clock
	// Rand is the tie-break source; nil seeds one from the clock.
	Rand   *rand.Rand
	Logger *zap.Logger
}

type Selector struct {
	graph    *quests.Graph
	ledger   *ledger.Ledger
	settings tuning.Settings
	clock    simclock.Clock
	log      *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Choice is a selected (quest, objective) pair.
type Choice struct {
	Quest     *quests.Quest
	Objective *quests.Objective
}

func New(cfg Config) *Selector {
	s := &Selector{
		graph:    cfg.Graph,
		ledger:   cfg.Ledger,
		settings: cfg.Settings,
		clock:    cfg.Clock,
		log:      cfg.Logger,
		rng:      cfg.Rand,
	}
	if s.clock == nil {
		s.clock = simclock.Real{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(s.clock.Now().UnixNano())) // #nosec G404 -- tie-breaking only
	}
	return s
}

// Select returns the next objective for agent, or false when the graph is not
// built or nothing is eligible. Each attempt that finds no usable objective in
// the chosen quest drops that quest, so the loop ends after at most one
// attempt per quest.
func (s *Selector) Select(agent quests.Agent) (Choice, bool) {
	if s.graph == nil || !s.graph.IsBuilt() {
		return Choice{}, false
	}
	eligible := s.Eligible(agent)
	for len(eligible) > 0 {
		q := s.pickQuest(agent.Pos, eligible)
		if o := Nearest(agent.Pos, s.CandidateObjectives(agent, q)); o != nil {
			return Choice{Quest: q, Objective: o}, true
		}
		s.log.Debug("quest has no usable objective",
			zap.String("agent", agent.ID), zap.String("quest", q.Name))
		eligible = without(eligible, q)
	}
	return Choice{}, false
}

// Eligible filters the graph's quests with CanDoQuest.
func (s *Selector) Eligible(agent quests.Agent) []*quests.Quest {
	var out []*quests.Quest
	for _, q := range s.graph.Quests() {
		if ok, _ := s.CanDoQuest(agent, q); ok {
			out = append(out, q)
		}
	}
	return out
}

// CanDoQuest applies the quest predicate and the history-dependent rules.
func (s *Selector) CanDoQuest(agent quests.Agent, q *quests.Quest) (bool, quests.Reason) {
	now := s.clock.Now()
	if ok, why := q.CanAssign(agent, now); !ok {
		return false, why
	}
	if q.MaxAgents > 0 && s.ledger.ActiveCount(q) >= q.MaxAgents {
		return false, quests.ReasonQuestFull
	}
	if !s.ledger.HasHistory(agent.ID) {
		return true, quests.ReasonOK
	}
	if !anyAssignable(agent, q.Objectives()) {
		return false, quests.ReasonNoEligibleObjective
	}
	if maxTime := s.settings.MaxTimePerQuest(); q.Repeatable && maxTime > 0 {
		if start, ok := s.ledger.RunStartTime(agent.ID, q); ok && now.Sub(start) >= maxTime {
			return false, quests.ReasonOverstayed
		}
	}
	if len(s.ledger.RemainingObjectives(agent.ID, q)) > 0 {
		return true, quests.ReasonOK
	}
	if !q.Repeatable {
		return false, quests.ReasonAllAssigned
	}
	if s.repeatDelayElapsed(agent.ID, q, now) {
		return true, quests.ReasonOK
	}
	return false, quests.ReasonRepeatDelay
}

func (s *Selector) repeatDelayElapsed(agentID string, q *quests.Quest, now time.Time) bool {
	last, ok := s.ledger.LastEndTime(agentID, q)
	return ok && now.Sub(last) >= s.settings.RepeatQuestDelay()
}

// CandidateObjectives are the objectives of q the agent may be given now:
// those never assigned to it, or for a repeatable quest whose delay has
// passed, all of them.
func (s *Selector) CandidateObjectives(agent quests.Agent, q *quests.Quest) []*quests.Objective {
	objs := filterAssignable(agent, s.ledger.RemainingObjectives(agent.ID, q))
	if len(objs) > 0 || !q.Repeatable {
		return objs
	}
	if !s.repeatDelayElapsed(agent.ID, q, s.clock.Now()) {
		return nil
	}
	return filterAssignable(agent, q.ValidObjectives())
}

type rankedQuest struct {
	quest    *quests.Quest
	min, max float64
	key      float64
}

// pickQuest walks the priority groups in ascending order. Within a group the
// quest with the smallest jittered distance is rolled against its chance; a
// failed roll moves on to the next group. When every group fails, a random
// quest of the first group is returned.
func (s *Selector) pickQuest(pos geom.Vec3, eligible []*quests.Quest) *quests.Quest {
	groups := groupByPriority(eligible)

	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	for _, group := range groups {
		ranked := make([]rankedQuest, 0, len(group))
		for _, q := range group {
			lo, hi, ok := objectiveDistances(pos, q)
			if !ok {
				continue
			}
			ranked = append(ranked, rankedQuest{quest: q, min: lo, max: hi})
		}
		if len(ranked) == 0 {
			continue
		}

		gmin, gmax := ranked[0].min, ranked[0].max
		for _, r := range ranked[1:] {
			gmin = math.Min(gmin, r.min)
			gmax = math.Max(gmax, r.max)
		}
		jitter := math.Ceil((gmax - gmin) * s.settings.DistanceRandomnessPercent / 100)
		for i := range ranked {
			ranked[i].key = ranked[i].min + s.uniform(-jitter, jitter)
		}
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].key < ranked[j].key })

		first := ranked[0].quest
		if s.uniform(1, 100) < first.ChanceForSelecting {
			return first
		}
	}

	top := groups[0]
	return top[s.rng.Intn(len(top))]
}

func (s *Selector) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func groupByPriority(qs []*quests.Quest) [][]*quests.Quest {
	byPrio := map[int][]*quests.Quest{}
	var prios []int
	for _, q := range qs {
		if _, seen := byPrio[q.Priority]; !seen {
			prios = append(prios, q.Priority)
		}
		byPrio[q.Priority] = append(byPrio[q.Priority], q)
	}
	sort.Ints(prios)
	out := make([][]*quests.Quest, 0, len(prios))
	for _, p := range prios {
		out = append(out, byPrio[p])
	}
	return out
}

func objectiveDistances(pos geom.Vec3, q *quests.Quest) (lo, hi float64, ok bool) {
	for _, o := range q.ValidObjectives() {
		p, has := o.FirstStepPosition()
		if !has {
			continue
		}
		d := geom.Dist(pos, p)
		if !ok {
			lo, hi, ok = d, d, true
			continue
		}
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return lo, hi, ok
}

// Nearest returns the objective whose first step is closest to pos.
func Nearest(pos geom.Vec3, objs []*quests.Objective) *quests.Objective {
	var best *quests.Objective
	bestDist := math.Inf(1)
	for _, o := range objs {
		p, ok := o.FirstStepPosition()
		if !ok {
			continue
		}
		if d := geom.Dist(pos, p); d < bestDist {
			best, bestDist = o, d
		}
	}
	return best
}

func anyAssignable(agent quests.Agent, objs []*quests.Objective) bool {
	for _, o := range objs {
		if ok, _ := o.CanAssign(agent); ok {
			return true
		}
	}
	return false
}

func filterAssignable(agent quests.Agent, objs []*quests.Objective) []*quests.Objective {
	out := objs[:0:0]
	for _, o := range objs {
		if ok, _ := o.CanAssign(agent); ok {
			out = append(out, o)
		}
	}
	return out
}

func without(qs []*quests.Quest, drop *quests.Quest) []*quests.Quest {
	out := make([]*quests.Quest, 0, len(qs))
	for _, q := range qs {
		if q != drop {
			out = append(out, q)
		}
	}
	return out
}
