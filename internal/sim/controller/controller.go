// Package controller drives one agent's questing lifecycle: it decides when
// the agent needs a new assignment, applies failure back-pressure and the
// consecutive-failure cutoff, and answers the proximity queries movement
// logic asks.
package controller

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/felixgeelhaar/statekit"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/ledger"
	"questingbots.ai/internal/sim/quests"
	"questingbots.ai/internal/sim/session"
	"questingbots.ai/internal/sim/simclock"
	"questingbots.ai/internal/sim/tuning"
)

var ErrNoAssignment = errors.New("controller: no running assignment")

var inf = math.Inf(1)

type Controller struct {
	sess     *session.Session
	settings tuning.Settings
	clock    simclock.Clock
	log      *zap.Logger

	mu      sync.Mutex
	mc      *machineContext
	interp  *statekit.Interpreter[*machineContext]
	limiter *rate.Limiter

	agent      quests.Agent
	lastUpdate time.Time
	updated    bool

	failures int
	empty    int

	atObjective      bool
	atObjectiveSince time.Time
}

// New returns a controller for agentID in the uninitialized state.
func New(sess *session.Session, agentID string) (*Controller, error) {
	log := sess.Logger().Named("controller")
	mc := &machineContext{agentID: agentID, log: log}
	m, err := newMachine(mc)
	if err != nil {
		return nil, fmt.Errorf("controller: build machine: %w", err)
	}
	settings := sess.Settings()
	c := &Controller{
		sess:     sess,
		settings: settings,
		clock:    sess.Clock(),
		log:      log,
		mc:       mc,
		interp:   statekit.NewInterpreter(m),
		limiter:  rate.NewLimiter(rate.Every(settings.SelectionInterval()), 1),
		agent:    quests.Agent{ID: agentID},
	}
	c.interp.Start()
	return c, nil
}

func (c *Controller) AgentID() string { return c.mc.agentID }

func (c *Controller) State() statekit.StateID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interp.State().Value
}

func (c *Controller) IsQuestingActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interp.Matches(StateQuestingActive)
}

// DisabledReason is empty unless the controller is questing_disabled.
func (c *Controller) DisabledReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mc.disabledReason
}

func (c *Controller) ConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Update is the periodic tick. It is gated by the update interval; the
// selection work inside it is further limited to one attempt per selection
// interval. agent carries the agent's current position and attributes.
func (c *Controller) Update(agent quests.Agent) statekit.StateID {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.updated && now.Sub(c.lastUpdate) < c.settings.UpdateInterval() {
		return c.interp.State().Value
	}
	c.updated = true
	c.lastUpdate = now
	agent.ID = c.mc.agentID
	c.agent = agent

	if !c.sess.IsGraphBuilt() {
		return c.interp.State().Value
	}

	switch c.interp.State().Value {
	case StateUninitialized:
		c.interp.Send(statekit.Event{Type: eventInit})
		c.initialize()
	case StateInitializing:
		c.initialize()
	case StateQuestingActive:
		c.tick(now)
	}
	return c.interp.State().Value
}

func (c *Controller) initialize() {
	cat := c.agent.Category
	if cat == quests.CategoryUndetermined {
		c.log.Error("could not determine agent category", zap.String("agent", c.agent.ID))
		c.disable(DisabledUndeterminedCategory)
		return
	}
	if !c.settings.AllowedCategories.Allows(string(cat)) {
		c.log.Info("agent category may not quest", zap.String("agent", c.agent.ID), zap.String("category", string(cat)))
		c.disable(DisabledCategoryNotAllowed)
		return
	}
	c.interp.Send(statekit.Event{Type: eventActivate})
	c.log.Info("questing enabled", zap.String("agent", c.agent.ID), zap.String("category", string(cat)))
	c.limiter.AllowN(c.clock.Now(), 1)
	c.fetch()
}

func (c *Controller) tick(now time.Time) {
	c.trackProximity(now)
	if !c.limiter.AllowN(now, 1) {
		return
	}

	cur, ok := c.sess.GetCurrentAssignment(c.agent.ID)
	if !ok {
		c.fetch()
		return
	}
	if !cur.Terminal() || now.Sub(cur.EndedAt) < c.settings.AssignmentEndCooldown() {
		return
	}
	if limit := c.settings.MaxConsecutiveFailures; limit > 0 && c.failures >= limit {
		c.log.Warn("too many consecutive failed assignments; questing disabled",
			zap.String("agent", c.agent.ID), zap.Int("failures", c.failures))
		c.disable(DisabledTooManyFailures)
		return
	}
	c.fetch()
}

// fetch asks the session for the next assignment and disables questing after
// too many empty answers in a row.
func (c *Controller) fetch() bool {
	_, ok, err := c.sess.SelectNextObjective(c.agent)
	if err != nil {
		c.log.Error("select next objective", zap.String("agent", c.agent.ID), zap.Error(err))
		return false
	}
	c.atObjective = false
	if ok {
		c.empty = 0
		return true
	}
	c.empty++
	c.log.Debug("no objective available", zap.String("agent", c.agent.ID), zap.Int("attempts", c.empty))
	if limit := c.settings.MaxEmptySelections; limit > 0 && c.empty >= limit {
		c.log.Info("no objectives left; questing disabled", zap.String("agent", c.agent.ID))
		c.disable(DisabledNoObjectives)
	}
	return false
}

func (c *Controller) disable(reason string) {
	c.sess.DisableQuesting(c.mc.agentID)
	c.interp.Send(statekit.Event{Type: eventDisable, Payload: reason})
}

// StopQuesting permanently disables questing for the agent.
func (c *Controller) StopQuesting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interp.Matches(StateQuestingDisabled) {
		return
	}
	if c.interp.Matches(StateUninitialized) {
		c.interp.Send(statekit.Event{Type: eventInit})
	}
	c.disable(DisabledStopped)
	c.log.Info("questing stopped", zap.String("agent", c.mc.agentID))
}

// Assignment returns the agent's latest assignment, terminal or not.
func (c *Controller) Assignment() (ledger.Assignment, bool) {
	return c.sess.GetCurrentAssignment(c.mc.agentID)
}

func (c *Controller) running() (ledger.Assignment, error) {
	cur, ok := c.sess.GetCurrentAssignment(c.mc.agentID)
	if !ok || cur.Terminal() {
		return ledger.Assignment{}, ErrNoAssignment
	}
	return cur, nil
}

// StartAssignment marks the pending assignment active.
func (c *Controller) StartAssignment() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, err := c.running()
	if err != nil {
		return err
	}
	_, err = c.sess.Ledger().Start(cur.AgentID, cur.ID)
	return err
}

// CompleteObjective completes the running assignment and clears the
// consecutive-failure count.
func (c *Controller) CompleteObjective() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, err := c.running()
	if err != nil {
		return err
	}
	if err := c.sess.RecordCompletion(cur); err != nil {
		return err
	}
	c.failures = 0
	return nil
}

// FailObjective fails the running assignment and immediately tries to change
// objective. It reports whether a new assignment was made.
func (c *Controller) FailObjective(reason string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, err := c.running()
	if err != nil {
		return false, err
	}
	if err := c.sess.RecordFailure(cur, reason); err != nil {
		return false, err
	}
	c.failures++
	return c.tryChange(), nil
}

// TryChangeObjective replaces the current assignment unless the previous one
// ended less than the minimum switching interval ago. A running assignment is
// abandoned. It reports whether a new assignment was made.
func (c *Controller) TryChangeObjective() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tryChange()
}

func (c *Controller) tryChange() bool {
	if !c.interp.Matches(StateQuestingActive) {
		return false
	}
	if cur, ok := c.sess.GetCurrentAssignment(c.mc.agentID); ok && cur.Terminal() {
		if c.clock.Now().Sub(cur.EndedAt) < c.settings.MinTimeBetweenSwitchingObjectives() {
			return false
		}
	}
	return c.fetch()
}

func (c *Controller) trackProximity(now time.Time) {
	if c.distanceToObjective() <= c.settings.ObjectiveReachedIdeal {
		if !c.atObjective {
			c.atObjective = true
			c.atObjectiveSince = now
		}
		return
	}
	c.atObjective = false
}

// TimeAtObjective is how long the agent has stayed within reach of its
// target, as observed by Update. It is zero while out of reach.
func (c *Controller) TimeAtObjective() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.atObjective {
		return 0
	}
	return c.clock.Now().Sub(c.atObjectiveSince)
}

// DistanceToObjective is +Inf when the agent has no target.
func (c *Controller) DistanceToObjective() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.distanceToObjective()
}

func (c *Controller) distanceToObjective() float64 {
	cur, ok := c.sess.GetCurrentAssignment(c.mc.agentID)
	if !ok {
		return inf
	}
	target, ok := cur.Target()
	if !ok {
		return inf
	}
	return geom.Dist(c.agent.Pos, target)
}

func (c *Controller) IsCloseToObjective(dist float64) bool {
	return c.DistanceToObjective() <= dist
}

// CanSprintToObjective is false within the objective's max run distance, and
// false once the agent has ended an assignment of a quest that forbids
// running between objectives.
func (c *Controller) CanSprintToObjective() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.sess.GetCurrentAssignment(c.mc.agentID)
	if !ok {
		return true
	}
	if cur.Objective != nil && c.distanceToObjective() < cur.Objective.MaxRunDistance {
		return false
	}
	if q := cur.Quest; q != nil && !q.CanRunBetweenObjectives {
		if last, ended := c.sess.Ledger().LastEndTime(c.mc.agentID, q); ended && c.clock.Now().Sub(last) > 0 {
			return false
		}
	}
	return true
}
