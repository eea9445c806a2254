package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"questingbots.ai/internal/persistence/snapshot"
	"questingbots.ai/internal/sim/controller"
	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/gridnav"
	"questingbots.ai/internal/sim/ledger"
	"questingbots.ai/internal/sim/pathcache"
	"questingbots.ai/internal/sim/questdefs"
	"questingbots.ai/internal/sim/quests"
	"questingbots.ai/internal/sim/routing"
	"questingbots.ai/internal/sim/session"
	"questingbots.ai/internal/sim/simclock"
	"questingbots.ai/internal/sim/tuning"
)

type runConfig struct {
	SettingsPath string
	QuestsPath   string
	MapPath      string
	CellSize     float64
	Agents       int
	Ticks        int
	Seed         int64
	Workers      int
	Speed        float64
	ChaserEvery  int
	EventsDir    string
	IndexDB      string
	Observe      string
	PathsCache   string
}

const (
	wanderPoints       = 8
	maxPartialRetries  = 3
	reasonUnreachable  = "unreachable"
	reasonIncomplete   = "incomplete_path"
	simEpochUnixSecond = 1_700_000_000
)

var categories = []quests.Category{quests.CategoryPMC, quests.CategoryScav, quests.CategoryPMC, quests.CategoryBoss}

type simAgent struct {
	agent quests.Agent
	ctrl  *controller.Controller
	path  routing.PathState

	assignmentID   string
	partialRetries int
}

type simulation struct {
	cfg      runConfig
	settings tuning.Settings
	log      *zap.Logger
	clock    *simclock.Manual
	rng      *rand.Rand
	grid     *gridnav.Grid
	open     []gridnav.Cell
	sess     *session.Session
	agents   []*simAgent
	ticks    int

	questDigest string
}

func loadGrid(path string, cellSize float64) (*gridnav.Grid, error) {
	if strings.TrimSpace(path) == "" {
		return gridnav.New(64, 64, cellSize), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return gridnav.Parse(f, cellSize)
}

func newSimulation(cfg runConfig, settings tuning.Settings, set *questdefs.Set, grid *gridnav.Grid, log *zap.Logger) (*simulation, error) {
	if cfg.Agents <= 0 {
		return nil, fmt.Errorf("agents must be > 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 4
	}
	clk := simclock.NewManual(time.Unix(simEpochUnixSecond, 0).UTC())
	s := &simulation{
		cfg:      cfg,
		settings: settings,
		log:      log,
		clock:    clk,
		rng:      rand.New(rand.NewSource(cfg.Seed)), // #nosec G404 -- simulation randomness, not security
		grid:     grid,
	}
	for z := 0; z < grid.H; z++ {
		for x := 0; x < grid.W; x++ {
			if c := (gridnav.Cell{X: x, Z: z}); !grid.Blocked(c) {
				s.open = append(s.open, c)
			}
		}
	}
	if len(s.open) == 0 {
		return nil, fmt.Errorf("map has no open cells")
	}

	s.sess = session.New(session.Config{
		Settings:  settings,
		Clock:     clk,
		Rand:      rand.New(rand.NewSource(cfg.Seed + 1)), // #nosec G404 -- selection jitter
		Logger:    log,
		Navigator: grid,
	})
	if set != nil {
		if err := set.AddTo(s.sess.Graph()); err != nil {
			return nil, fmt.Errorf("add quests: %w", err)
		}
		s.questDigest = set.Digest
	}
	pts := make([]geom.Vec3, 0, wanderPoints)
	for i := 0; i < wanderPoints; i++ {
		pts = append(pts, s.randomOpenPoint())
	}
	if q := quests.NewSpawnPointQuest("Spawn Point Wander", pts, settings.SpawnPointWander); q != nil {
		if err := s.sess.Graph().AddQuest(q); err != nil {
			return nil, err
		}
	}

	for i := 0; i < cfg.Agents; i++ {
		id := fmt.Sprintf("agent-%03d", i+1)
		ctrl, err := controller.New(s.sess, id)
		if err != nil {
			return nil, err
		}
		s.agents = append(s.agents, &simAgent{
			agent: quests.Agent{
				ID:       id,
				Pos:      s.randomOpenPoint(),
				Level:    1 + s.rng.Intn(60),
				Category: categories[i%len(categories)],
			},
			ctrl: ctrl,
		})
	}
	return s, nil
}

func (s *simulation) randomOpenPoint() geom.Vec3 {
	return s.grid.Center(s.open[s.rng.Intn(len(s.open))], 0)
}

// discover runs static path discovery one frame budget at a time, then
// closes the cache across quests and marks the graph built. A matching paths
// snapshot replaces discovery; otherwise a new one is written.
func (s *simulation) discover(ctx context.Context) error {
	if s.loadPaths() {
		s.sess.NotifyGraphBuilt()
		return nil
	}
	if job := s.sess.DiscoveryJob(); job != nil {
		frames := 0
		for done := false; !done; frames++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			done = job.Step()
		}
		added := s.sess.Paths().CombineAll()
		s.log.Info("static path discovery finished",
			zap.Int("frames", frames),
			zap.Int("segments", s.sess.Paths().Len()),
			zap.Int("combined", added))
		s.savePaths()
	}
	s.sess.NotifyGraphBuilt()
	return nil
}

func (s *simulation) loadPaths() bool {
	path := strings.TrimSpace(s.cfg.PathsCache)
	if path == "" {
		return false
	}
	snap, err := snapshot.ReadPaths(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("read paths snapshot", zap.String("path", path), zap.Error(err))
		}
		return false
	}
	if err := snap.Check(s.grid.Digest(), s.questDigest); err != nil {
		s.log.Info("paths snapshot is stale; rediscovering", zap.String("path", path))
		return false
	}
	n := s.sess.Paths().Merge(snap.ToSegments())
	s.log.Info("static paths loaded from snapshot", zap.String("path", path), zap.Int("segments", n))
	return true
}

func (s *simulation) savePaths() {
	path := strings.TrimSpace(s.cfg.PathsCache)
	if path == "" {
		return
	}
	snap := snapshot.FromSegments(s.grid.Digest(), s.questDigest, s.sess.Paths().Segments(), time.Now())
	if err := snapshot.WritePaths(path, snap); err != nil {
		s.log.Warn("write paths snapshot", zap.String("path", path), zap.Error(err))
	}
}

func (s *simulation) run(ctx context.Context) error {
	if err := s.discover(ctx); err != nil {
		return err
	}
	dt := s.settings.UpdateInterval()
	for tick := 1; tick <= s.cfg.Ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.clock.Advance(dt)
		if s.cfg.ChaserEvery > 0 && tick%s.cfg.ChaserEvery == 0 {
			if _, err := s.sess.AddChaserQuest(s.randomOpenPoint()); err != nil {
				s.log.Warn("add chaser quest", zap.Error(err))
			}
		}

		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Workers)
		now := s.clock.Now()
		for _, a := range s.agents {
			g.Go(func() error {
				s.step(a, now, dt)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		s.ticks = tick
	}
	return nil
}

// step advances one agent by one tick: controller update, route upkeep,
// movement and arrival handling.
func (s *simulation) step(a *simAgent, now time.Time, dt time.Duration) {
	a.ctrl.Update(a.agent)
	if !a.ctrl.IsQuestingActive() {
		return
	}
	cur, ok := a.ctrl.Assignment()
	if !ok || cur.Terminal() {
		return
	}
	if cur.Status == ledger.StatusPending {
		if err := a.ctrl.StartAssignment(); err != nil {
			s.log.Debug("start assignment", zap.String("agent", a.agent.ID), zap.Error(err))
		}
	}
	target, ok := cur.Target()
	if !ok {
		return
	}

	fresh := cur.ID != a.assignmentID
	if fresh {
		a.assignmentID = cur.ID
		a.partialRetries = 0
	}
	switch why := a.path.NeedsUpdate(target, now, s.settings.IncompletePathRetryInterval(), fresh); why {
	case routing.UpdateNone:
	case routing.UpdateIncomplete:
		a.partialRetries++
		if a.partialRetries > maxPartialRetries {
			s.fail(a, reasonIncomplete)
			return
		}
		fallthrough
	default:
		res := s.sess.Resolver().Resolve(a.agent.Pos, target)
		a.path.Set(target, res.Route, now)
		if res.Route.Status == pathcache.StatusInvalid {
			s.fail(a, reasonUnreachable)
			return
		}
	}

	reach := s.settings.ObjectiveReachedIdeal
	speed := s.cfg.Speed
	if a.ctrl.CanSprintToObjective() {
		speed *= 2
	}
	budget := speed * dt.Seconds()
	pos := a.agent.Pos
	for budget > 0 {
		wp, ok := a.path.Next(pos, reach)
		if !ok {
			break
		}
		d := geom.Dist(pos, wp)
		if d <= reach {
			break
		}
		pos = geom.MoveTowards(pos, wp, budget)
		budget -= min(d, budget)
	}
	a.agent.Pos = pos

	if geom.Dist(pos, target) > reach {
		return
	}
	st, ok := cur.Step()
	if !ok || a.ctrl.TimeAtObjective() < st.Duration.Min {
		return
	}
	if err := a.ctrl.CompleteObjective(); err != nil {
		s.log.Debug("complete objective", zap.String("agent", a.agent.ID), zap.Error(err))
	}
	a.path.Reset()
}

func (s *simulation) fail(a *simAgent, reason string) {
	if _, err := a.ctrl.FailObjective(reason); err != nil {
		s.log.Debug("fail objective", zap.String("agent", a.agent.ID), zap.Error(err))
	}
	a.path.Reset()
}
