package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"questingbots.ai/internal/sim/ledger"
)

type agentSummary struct {
	ID        string
	Category  string
	State     string
	Reason    string
	Completed int
	Failed    int
	Abandoned int
}

type summary struct {
	Ticks       int
	SimTime     time.Duration
	WallTime    time.Duration
	Quests      int
	StaticPaths int
	Completed   int
	Failed      int
	Abandoned   int
	Disabled    int
	Agents      []agentSummary
}

func newSummary(s *simulation, wall time.Duration) *summary {
	sum := &summary{
		Ticks:       s.ticks,
		SimTime:     time.Duration(s.ticks) * s.settings.UpdateInterval(),
		WallTime:    wall,
		Quests:      s.sess.Graph().Len(),
		StaticPaths: s.sess.Paths().Len(),
	}
	for _, a := range s.agents {
		as := agentSummary{
			ID:       a.agent.ID,
			Category: string(a.agent.Category),
			State:    string(a.ctrl.State()),
			Reason:   a.ctrl.DisabledReason(),
		}
		for _, h := range s.sess.Ledger().History(a.agent.ID) {
			switch {
			case h.Status == ledger.StatusCompleted:
				as.Completed++
			case h.Reason == ledger.ReasonAbandoned:
				as.Abandoned++
			case h.Status == ledger.StatusFailed:
				as.Failed++
			}
		}
		sum.Completed += as.Completed
		sum.Failed += as.Failed
		sum.Abandoned += as.Abandoned
		if s.sess.IsQuestingDisabled(a.agent.ID) {
			sum.Disabled++
		}
		sum.Agents = append(sum.Agents, as)
	}
	sort.Slice(sum.Agents, func(i, j int) bool { return sum.Agents[i].ID < sum.Agents[j].ID })
	return sum
}

func (s *summary) Print(w io.Writer) error {
	fmt.Fprintf(w, "ticks=%d sim_time=%s wall_time=%s quests=%d static_paths=%d\n",
		s.Ticks, s.SimTime, s.WallTime.Round(time.Millisecond), s.Quests, s.StaticPaths)
	fmt.Fprintf(w, "completed=%d failed=%d abandoned=%d disabled_agents=%d\n\n",
		s.Completed, s.Failed, s.Abandoned, s.Disabled)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tCATEGORY\tSTATE\tCOMPLETED\tFAILED\tABANDONED\tREASON")
	for _, a := range s.Agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			a.ID, a.Category, a.State, a.Completed, a.Failed, a.Abandoned, a.Reason)
	}
	return tw.Flush()
}
