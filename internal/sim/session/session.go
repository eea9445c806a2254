// Package session is the process-scoped context of one questing run. It owns
// the objective graph, the assignment ledger, the static path cache and the
// selector, and exposes the operations the rest of the simulation calls.
package session

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"questingbots.ai/internal/logging"
	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/jobs"
	"questingbots.ai/internal/sim/ledger"
	"questingbots.ai/internal/sim/pathcache"
	"questingbots.ai/internal/sim/quests"
	"questingbots.ai/internal/sim/routing"
	"questingbots.ai/internal/sim/selector"
	"questingbots.ai/internal/sim/simclock"
	"questingbots.ai/internal/sim/tuning"
)

// Sink receives ledger events. Errors are logged and otherwise ignored.
type Sink interface {
	Emit(ledger.Event) error
}

type Config struct {
	Settings  tuning.Settings
	Clock     simclock.Clock
	Rand      *rand.Rand
	Logger    *zap.Logger
	Navigator pathcache.Navigator
	Sinks     []Sink
}

type Session struct {
	settings tuning.Settings
	clock    simclock.Clock
	log      *zap.Logger

	graph      *quests.Graph
	ledger     *ledger.Ledger
	paths      *pathcache.Cache
	selector   *selector.Selector
	discoverer *pathcache.Discoverer
	resolver   *routing.Resolver

	sinkMu sync.RWMutex
	sinks  []Sink

	mu       sync.RWMutex
	disabled map[string]bool
}

func New(cfg Config) *Session {
	s := &Session{
		settings: cfg.Settings,
		clock:    cfg.Clock,
		log:      logging.OrNop(cfg.Logger),
		graph:    quests.NewGraph(),
		sinks:    append([]Sink(nil), cfg.Sinks...),
		disabled: map[string]bool{},
	}
	if s.clock == nil {
		s.clock = simclock.Real{}
	}
	s.ledger = ledger.New(s.clock, s.fanOut)
	s.paths = pathcache.New(s.log.Named("paths"))
	s.selector = selector.New(selector.Config{
		Graph:    s.graph,
		Ledger:   s.ledger,
		Settings: s.settings,
		Clock:    s.clock,
		Rand:     cfg.Rand,
		Logger:   s.log.Named("selector"),
	})
	if cfg.Navigator != nil {
		s.discoverer = pathcache.NewDiscoverer(s.paths, cfg.Navigator, s.log.Named("discovery"))
		s.resolver = routing.NewResolver(cfg.Navigator, s.paths, s.log.Named("routing"))
	}
	return s
}

func (s *Session) Settings() tuning.Settings    { return s.settings }
func (s *Session) Clock() simclock.Clock        { return s.clock }
func (s *Session) Logger() *zap.Logger          { return s.log }
func (s *Session) Graph() *quests.Graph         { return s.graph }
func (s *Session) Ledger() *ledger.Ledger       { return s.ledger }
func (s *Session) Paths() *pathcache.Cache      { return s.paths }
func (s *Session) Selector() *selector.Selector { return s.selector }

// Resolver is nil when the session has no navigator.
func (s *Session) Resolver() *routing.Resolver { return s.resolver }

func (s *Session) AddSink(k Sink) {
	s.sinkMu.Lock()
	s.sinks = append(s.sinks, k)
	s.sinkMu.Unlock()
}

func (s *Session) fanOut(ev ledger.Event) {
	s.sinkMu.RLock()
	sinks := s.sinks
	s.sinkMu.RUnlock()
	for _, k := range sinks {
		if err := k.Emit(ev); err != nil {
			s.log.Debug("event sink failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
		}
	}
}

func (s *Session) NotifyGraphBuilt()  { s.graph.MarkBuilt() }
func (s *Session) IsGraphBuilt() bool { return s.graph.IsBuilt() }

// DisableQuesting stops all future selections for the agent.
func (s *Session) DisableQuesting(agentID string) {
	s.mu.Lock()
	s.disabled[agentID] = true
	s.mu.Unlock()
}

func (s *Session) IsQuestingDisabled(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled[agentID]
}

// SelectNextObjective records and returns the agent's next assignment. In
// order it tries the next step of a just-completed objective, the nearest
// remaining objective of the previous quest, then the selector. It reports
// false for disabled agents, before the graph is built, and when nothing is
// eligible.
func (s *Session) SelectNextObjective(agent quests.Agent) (ledger.Assignment, bool, error) {
	if agent.ID == "" {
		return ledger.Assignment{}, false, ledger.ErrNilAgent
	}
	if s.IsQuestingDisabled(agent.ID) || !s.graph.IsBuilt() {
		return ledger.Assignment{}, false, nil
	}

	o, step := s.nextObjective(agent)
	if o == nil {
		return ledger.Assignment{}, false, nil
	}
	a, err := s.ledger.Assign(agent.ID, o, step)
	if err != nil {
		return ledger.Assignment{}, false, err
	}
	s.log.Info("new assignment",
		zap.String("agent", agent.ID),
		zap.String("quest", a.Quest.Name),
		zap.String("objective", a.Objective.Name),
		zap.Int("step", a.StepIndex+1))
	return a, true, nil
}

func (s *Session) nextObjective(agent quests.Agent) (*quests.Objective, int) {
	prev, ok := s.ledger.Current(agent.ID)
	if ok && prev.Status == ledger.StatusCompleted && prev.HasNextStep() {
		return prev.Objective, prev.StepIndex + 1
	}
	if ok && prev.Quest != nil {
		if eligible, _ := s.selector.CanDoQuest(agent, prev.Quest); eligible {
			if o := selector.Nearest(agent.Pos, s.selector.CandidateObjectives(agent, prev.Quest)); o != nil {
				return o, 0
			}
		}
	}
	if c, found := s.selector.Select(agent); found {
		return c.Objective, 0
	}
	return nil, 0
}

func (s *Session) RecordCompletion(a ledger.Assignment) error {
	_, err := s.ledger.Complete(a.AgentID, a.ID)
	return err
}

func (s *Session) RecordFailure(a ledger.Assignment, reason string) error {
	_, err := s.ledger.Fail(a.AgentID, a.ID, reason)
	return err
}

// GetCurrentAssignment returns the agent's latest assignment, terminal or not.
func (s *Session) GetCurrentAssignment(agentID string) (ledger.Assignment, bool) {
	return s.ledger.Current(agentID)
}

func (s *Session) FindStaticPaths(dest geom.Vec3) []pathcache.Segment {
	return s.paths.Lookup(dest)
}

// DiscoveryJob returns the time-sliced static path discovery over the
// current quests, or nil without a navigator.
func (s *Session) DiscoveryJob() *jobs.Runner[*quests.Quest] {
	if s.discoverer == nil {
		return nil
	}
	return s.discoverer.Job(s.graph.Quests(), s.clock, s.settings.MaxCalcTimePerFrame())
}

// AddChaserQuest appends a short-lived quest toward pos.
func (s *Session) AddChaserQuest(pos geom.Vec3) (*quests.Quest, error) {
	q, err := s.graph.AddChaserQuest(pos, s.clock.Now(), s.settings.Chaser)
	if err != nil {
		return nil, err
	}
	s.log.Info("chaser quest added", zap.String("quest", q.Name), zap.Stringer("pos", pos),
		zap.Duration("expires_in", q.ExpiresAt.Sub(s.clock.Now()).Round(time.Second)))
	return q, nil
}
