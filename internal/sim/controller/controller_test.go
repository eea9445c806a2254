package controller

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/statekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/ledger"
	"questingbots.ai/internal/sim/quests"
	"questingbots.ai/internal/sim/session"
	"questingbots.ai/internal/sim/simclock"
	"questingbots.ai/internal/sim/tuning"
)

type harness struct {
	clock *simclock.Manual
	sess  *session.Session
}

func newHarness(t *testing.T, mutate func(*tuning.Settings), qs ...*quests.Quest) *harness {
	t.Helper()
	st := tuning.Defaults()
	st.DistanceRandomnessPercent = 0
	if mutate != nil {
		mutate(&st)
	}
	clk := simclock.NewManual(time.Unix(1_000, 0))
	s := session.New(session.Config{Settings: st, Clock: clk, Rand: rand.New(rand.NewSource(3))})
	for _, q := range qs {
		require.NoError(t, s.Graph().AddQuest(q))
	}
	return &harness{clock: clk, sess: s}
}

func (h *harness) controller(t *testing.T, id string) *Controller {
	t.Helper()
	c, err := New(h.sess, id)
	require.NoError(t, err)
	return c
}

func lineQuest(id string, n int) *quests.Quest {
	q := &quests.Quest{ID: id, Name: id, Priority: 1, ChanceForSelecting: 100, CanRunBetweenObjectives: true}
	for i := 1; i <= n; i++ {
		q.AddObjective(quests.NewObjective(fmt.Sprintf("%s-O%d", id, i), quests.Step{Position: geom.V(float64(i), 0, 0)}))
	}
	return q
}

func pmcAt(pos geom.Vec3) quests.Agent {
	return quests.Agent{Pos: pos, Level: 15, Category: quests.CategoryPMC}
}

var origin = pmcAt(geom.V(0, 0, 0))

func TestUpdate_WaitsForGraphAndInterval(t *testing.T) {
	h := newHarness(t, nil, lineQuest("Q", 2))
	c := h.controller(t, "bot")

	assert.Equal(t, StateUninitialized, c.Update(origin))

	h.sess.NotifyGraphBuilt()
	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, StateUninitialized, c.Update(origin), "gated by update interval")

	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, StateQuestingActive, c.Update(origin))
	assert.True(t, c.IsQuestingActive())

	a, ok := c.Assignment()
	require.True(t, ok)
	assert.Equal(t, "Q-O1", a.Objective.Name)
	assert.Equal(t, "bot", a.AgentID)
}

func TestInitialize_Categories(t *testing.T) {
	cases := []struct {
		name     string
		category quests.Category
		want     statekit.StateID
		reason   string
	}{
		{"undetermined", quests.CategoryUndetermined, StateQuestingDisabled, DisabledUndeterminedCategory},
		{"not allowed", quests.CategoryBoss, StateQuestingDisabled, DisabledCategoryNotAllowed},
		{"allowed", quests.CategoryScav, StateQuestingActive, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil, lineQuest("Q", 1))
			h.sess.NotifyGraphBuilt()
			c := h.controller(t, "bot")

			agent := origin
			agent.Category = tc.category
			assert.Equal(t, tc.want, c.Update(agent))
			assert.Equal(t, tc.reason, c.DisabledReason())
			assert.Equal(t, tc.want == StateQuestingDisabled, h.sess.IsQuestingDisabled("bot"))
		})
	}
}

func TestTick_KeepsRunningAssignment(t *testing.T) {
	h := newHarness(t, nil, lineQuest("Q", 3))
	h.sess.NotifyGraphBuilt()
	c := h.controller(t, "bot")
	c.Update(origin)
	first, ok := c.Assignment()
	require.True(t, ok)

	require.NoError(t, c.StartAssignment())
	for i := 0; i < 5; i++ {
		h.clock.Advance(2 * time.Second)
		c.Update(origin)
	}
	cur, ok := c.Assignment()
	require.True(t, ok)
	assert.Equal(t, first.ID, cur.ID)
	assert.Equal(t, ledger.StatusActive, cur.Status)
}

func TestTick_NewAssignmentAfterCooldown(t *testing.T) {
	h := newHarness(t, nil, lineQuest("Q", 3))
	h.sess.NotifyGraphBuilt()
	c := h.controller(t, "bot")
	c.Update(origin)
	require.NoError(t, c.CompleteObjective())
	done, _ := c.Assignment()

	h.clock.Advance(4 * time.Second)
	c.Update(origin)
	cur, _ := c.Assignment()
	assert.Equal(t, done.ID, cur.ID, "cooldown not yet over")

	h.clock.Advance(time.Second)
	c.Update(origin)
	cur, _ = c.Assignment()
	assert.NotEqual(t, done.ID, cur.ID)
	assert.Equal(t, "Q-O2", cur.Objective.Name)
}

func TestFailObjective_BackPressure(t *testing.T) {
	h := newHarness(t, nil, lineQuest("Q", 4))
	h.sess.NotifyGraphBuilt()
	c := h.controller(t, "bot")
	c.Update(origin)
	first, _ := c.Assignment()

	changed, err := c.FailObjective("stuck")
	require.NoError(t, err)
	assert.False(t, changed, "assignment just ended")
	assert.Equal(t, 1, c.ConsecutiveFailures())

	h.clock.Advance(4 * time.Second)
	assert.False(t, c.TryChangeObjective())
	assert.False(t, c.TryChangeObjective())
	cur, _ := c.Assignment()
	assert.Equal(t, first.ID, cur.ID)
	assert.Equal(t, ledger.StatusFailed, cur.Status)

	h.clock.Advance(time.Second)
	assert.True(t, c.TryChangeObjective())
	cur, _ = c.Assignment()
	assert.NotEqual(t, first.ID, cur.ID)
	assert.Equal(t, ledger.StatusPending, cur.Status)

	require.NoError(t, c.CompleteObjective())
	assert.Zero(t, c.ConsecutiveFailures())

	_, err = c.FailObjective("again")
	assert.ErrorIs(t, err, ErrNoAssignment)
	assert.ErrorIs(t, c.CompleteObjective(), ErrNoAssignment)
}

func TestTryChangeObjective_AbandonsRunningAssignment(t *testing.T) {
	h := newHarness(t, nil, lineQuest("Q", 2))
	h.sess.NotifyGraphBuilt()
	c := h.controller(t, "bot")
	c.Update(origin)
	first, _ := c.Assignment()

	assert.True(t, c.TryChangeObjective())
	hist := h.sess.Ledger().History("bot")
	require.Len(t, hist, 2)
	assert.Equal(t, first.ID, hist[0].ID)
	assert.Equal(t, ledger.ReasonAbandoned, hist[0].Reason)
}

func TestConsecutiveFailureCutoff(t *testing.T) {
	h := newHarness(t, func(s *tuning.Settings) { s.MaxConsecutiveFailures = 2 }, lineQuest("Q", 4))
	h.sess.NotifyGraphBuilt()
	c := h.controller(t, "bot")
	c.Update(origin)

	_, err := c.FailObjective("stuck")
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, StateQuestingActive, c.Update(origin))
	second, _ := c.Assignment()
	assert.False(t, second.Terminal())

	_, err = c.FailObjective("stuck")
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, StateQuestingDisabled, c.Update(origin))
	assert.Equal(t, DisabledTooManyFailures, c.DisabledReason())
	assert.True(t, h.sess.IsQuestingDisabled("bot"))

	n := len(h.sess.Ledger().History("bot"))
	agent := origin
	agent.ID = "bot"
	_, ok, err := h.sess.SelectNextObjective(agent)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, h.sess.Ledger().History("bot"), n)

	h.clock.Advance(time.Minute)
	assert.Equal(t, StateQuestingDisabled, c.Update(origin))
	assert.False(t, c.TryChangeObjective())
}

func TestNoObjectivesDisablesQuesting(t *testing.T) {
	h := newHarness(t, func(s *tuning.Settings) { s.MaxEmptySelections = 2 })
	h.sess.NotifyGraphBuilt()
	c := h.controller(t, "bot")

	assert.Equal(t, StateQuestingActive, c.Update(origin))
	h.clock.Advance(time.Second)
	assert.Equal(t, StateQuestingDisabled, c.Update(origin))
	assert.Equal(t, DisabledNoObjectives, c.DisabledReason())
}

func TestTimeAtObjective(t *testing.T) {
	q := &quests.Quest{ID: "Q", Name: "Q", Priority: 1, ChanceForSelecting: 100}
	q.AddObjective(quests.NewObjective("O", quests.Step{Position: geom.V(10, 0, 0)}))
	h := newHarness(t, nil, q)
	h.sess.NotifyGraphBuilt()
	c := h.controller(t, "bot")

	c.Update(origin)
	assert.Zero(t, c.TimeAtObjective())
	assert.InDelta(t, 10.0, c.DistanceToObjective(), 1e-9)

	h.clock.Advance(200 * time.Millisecond)
	c.Update(pmcAt(geom.V(10, 0, 0)))
	h.clock.Advance(time.Second)
	assert.Equal(t, time.Second, c.TimeAtObjective())
	assert.True(t, c.IsCloseToObjective(0.5))

	h.clock.Advance(200 * time.Millisecond)
	c.Update(pmcAt(geom.V(10.3, 0, 0)))
	assert.Equal(t, 1200*time.Millisecond, c.TimeAtObjective())

	h.clock.Advance(200 * time.Millisecond)
	c.Update(pmcAt(geom.V(5, 0, 0)))
	assert.Zero(t, c.TimeAtObjective())
	assert.False(t, c.IsCloseToObjective(0.5))
}

func TestCanSprintToObjective(t *testing.T) {
	build := func(runBetween bool) *quests.Quest {
		q := &quests.Quest{ID: "Q", Name: "Q", Priority: 1, ChanceForSelecting: 100, CanRunBetweenObjectives: runBetween}
		o := quests.NewObjective("O1", quests.Step{Position: geom.V(10, 0, 0)})
		o.MaxRunDistance = 5
		q.AddObjective(o)
		q.AddObjective(quests.NewObjective("O2", quests.Step{Position: geom.V(20, 0, 0)}))
		return q
	}

	t.Run("no assignment", func(t *testing.T) {
		h := newHarness(t, nil)
		assert.True(t, h.controller(t, "bot").CanSprintToObjective())
	})

	t.Run("max run distance", func(t *testing.T) {
		h := newHarness(t, nil, build(true))
		h.sess.NotifyGraphBuilt()
		c := h.controller(t, "bot")
		c.Update(origin)
		assert.True(t, c.CanSprintToObjective())

		h.clock.Advance(200 * time.Millisecond)
		c.Update(pmcAt(geom.V(7, 0, 0)))
		assert.False(t, c.CanSprintToObjective())
	})

	t.Run("quest forbids running after an ended assignment", func(t *testing.T) {
		h := newHarness(t, nil, build(false))
		h.sess.NotifyGraphBuilt()
		c := h.controller(t, "bot")
		c.Update(origin)
		assert.True(t, c.CanSprintToObjective())

		require.NoError(t, c.CompleteObjective())
		h.clock.Advance(200 * time.Millisecond)
		c.Update(origin)
		assert.False(t, c.CanSprintToObjective())
	})

	t.Run("quest allows running after an ended assignment", func(t *testing.T) {
		h := newHarness(t, nil, build(true))
		h.sess.NotifyGraphBuilt()
		c := h.controller(t, "bot")
		c.Update(origin)
		require.NoError(t, c.CompleteObjective())
		h.clock.Advance(200 * time.Millisecond)
		c.Update(origin)
		assert.True(t, c.CanSprintToObjective())
	})
}

func TestStopQuesting(t *testing.T) {
	h := newHarness(t, nil, lineQuest("Q", 1))
	c := h.controller(t, "bot")
	c.StopQuesting()
	assert.Equal(t, StateQuestingDisabled, c.State())
	assert.Equal(t, DisabledStopped, c.DisabledReason())
	assert.True(t, h.sess.IsQuestingDisabled("bot"))

	h.sess.NotifyGraphBuilt()
	h.clock.Advance(time.Second)
	assert.Equal(t, StateQuestingDisabled, c.Update(origin))
	c.StopQuesting()
}

func TestControllers_ConcurrentUpdates(t *testing.T) {
	q := lineQuest("Q", 16)
	h := newHarness(t, nil, q)
	h.sess.NotifyGraphBuilt()

	var ctrls []*Controller
	for i := 0; i < 8; i++ {
		ctrls = append(ctrls, h.controller(t, fmt.Sprintf("bot-%d", i)))
	}
	var wg sync.WaitGroup
	for _, c := range ctrls {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			c.Update(origin)
		}(c)
	}
	wg.Wait()

	assert.Equal(t, len(ctrls), h.sess.Ledger().ActiveCount(q))
	for _, c := range ctrls {
		assert.True(t, c.IsQuestingActive())
	}
}
