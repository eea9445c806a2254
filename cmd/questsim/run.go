package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"questingbots.ai/internal/logging"
	"questingbots.ai/internal/persistence/indexdb"
	persistlog "questingbots.ai/internal/persistence/log"
	"questingbots.ai/internal/sim/questdefs"
	"questingbots.ai/internal/sim/session"
	"questingbots.ai/internal/sim/tuning"
	"questingbots.ai/internal/transport/observer"
)

// run wires the configured sinks around a simulation and executes it.
func run(ctx context.Context, cfg runConfig, log *zap.Logger) (*summary, error) {
	log = logging.OrNop(log)

	settings, err := tuning.Load(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	set, err := questdefs.Load(cfg.QuestsPath)
	if err != nil {
		return nil, fmt.Errorf("load quests: %w", err)
	}
	grid, err := loadGrid(cfg.MapPath, cfg.CellSize)
	if err != nil {
		return nil, fmt.Errorf("load map: %w", err)
	}
	log.Info("loaded quest definitions",
		zap.String("path", cfg.QuestsPath),
		zap.Int("quests", len(set.Quests)),
		zap.String("digest", set.Digest))

	sim, err := newSimulation(cfg, settings, set, grid, log)
	if err != nil {
		return nil, err
	}

	if dir := strings.TrimSpace(cfg.EventsDir); dir != "" {
		events := persistlog.NewAssignmentLogger(dir)
		defer events.Close()
		sim.sess.AddSink(events)
	}
	if path := strings.TrimSpace(cfg.IndexDB); path != "" {
		idx, err := indexdb.OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("open index db: %w", err)
		}
		defer func() {
			_ = idx.Close()
			st := idx.Stats()
			log.Info("index db closed",
				zap.Uint64("written", st.Written),
				zap.Uint64("dropped_events", st.DropEventTotal))
		}()
		idx.RecordQuestSet(set.Digest, len(set.Quests))
		sim.sess.AddSink(idx)
	}

	g, gctx := errgroup.WithContext(ctx)
	stopObserver := func() error { return nil }
	if addr := strings.TrimSpace(cfg.Observe); addr != "" {
		obs := observer.NewServer(func() observer.BootstrapResponse { return bootstrap(sim.sess) }, log.Named("observer"))
		sim.sess.AddSink(obs)
		mux := http.NewServeMux()
		mux.HandleFunc("/v1/observer/bootstrap", obs.BootstrapHandler())
		mux.HandleFunc("/v1/observer/ws", obs.WSHandler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		simDone := make(chan struct{})
		g.Go(func() error {
			log.Info("observer listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("observer: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-simDone:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		stopObserver = func() error {
			close(simDone)
			err := g.Wait()
			log.Info("observer stopped", zap.Uint64("dropped_events", obs.Dropped()))
			return err
		}
	}

	started := time.Now()
	runErr := sim.run(gctx)
	obsErr := stopObserver()
	sum := newSummary(sim, time.Since(started))
	if obsErr != nil {
		return sum, obsErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return sum, runErr
	}
	return sum, nil
}

func bootstrap(sess *session.Session) observer.BootstrapResponse {
	resp := observer.BootstrapResponse{
		ProtocolVersion: observer.ProtocolVersion,
		GraphBuilt:      sess.IsGraphBuilt(),
		StaticPaths:     sess.Paths().Len(),
	}
	for _, q := range sess.Graph().Quests() {
		resp.Quests = append(resp.Quests, observer.QuestInfo{
			ID:         q.ID,
			Name:       q.Name,
			Priority:   q.Priority,
			Repeatable: q.Repeatable,
			Active:     sess.Ledger().ActiveCount(q),
		})
	}
	for _, id := range sess.Ledger().Agents() {
		info := observer.AgentInfo{AgentID: id, Questing: !sess.IsQuestingDisabled(id)}
		if a, ok := sess.GetCurrentAssignment(id); ok {
			info.AssignmentID = a.ID
			info.Quest = a.Quest.Name
			info.Objective = a.Objective.Name
			info.Status = string(a.Status)
		}
		resp.Agents = append(resp.Agents, info)
	}
	return resp
}
