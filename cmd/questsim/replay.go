package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	persistlog "questingbots.ai/internal/persistence/log"
	"questingbots.ai/internal/sim/ledger"
)

var replayDir string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Verify recorded assignment events and summarize them per agent",
	Long: `Replay reads the assignment event logs written by "run --events-dir" and
checks that every agent had at most one open assignment at a time and that
each transition refers to the agent's open assignment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := replayEvents(replayDir)
		if err != nil {
			return err
		}
		return rep.Print(cmd.OutOrStdout())
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayDir, "events-dir", "", "directory given to run --events-dir")
	_ = replayCmd.MarkFlagRequired("events-dir")
	rootCmd.AddCommand(replayCmd)
}

type replayAgent struct {
	open   string
	counts map[ledger.EventKind]int
}

type replayReport struct {
	Events int
	agents map[string]*replayAgent
}

func replayEvents(dir string) (*replayReport, error) {
	rep := &replayReport{agents: map[string]*replayAgent{}}
	err := persistlog.ReadAssignmentEvents(dir, func(ev ledger.Event) error {
		rep.Events++
		a := rep.agents[ev.AgentID]
		if a == nil {
			a = &replayAgent{counts: map[ledger.EventKind]int{}}
			rep.agents[ev.AgentID] = a
		}
		a.counts[ev.Kind]++
		switch ev.Kind {
		case ledger.EventAssigned:
			if a.open != "" {
				return fmt.Errorf("event %d: %s assigned %s while %s is open", rep.Events, ev.AgentID, ev.AssignmentID, a.open)
			}
			a.open = ev.AssignmentID
		case ledger.EventStarted:
			if a.open != ev.AssignmentID {
				return fmt.Errorf("event %d: %s started %s, open is %q", rep.Events, ev.AgentID, ev.AssignmentID, a.open)
			}
		case ledger.EventCompleted, ledger.EventFailed, ledger.EventAbandoned:
			if a.open != ev.AssignmentID {
				return fmt.Errorf("event %d: %s ended %s, open is %q", rep.Events, ev.AgentID, ev.AssignmentID, a.open)
			}
			a.open = ""
		default:
			return fmt.Errorf("event %d: unknown kind %q", rep.Events, ev.Kind)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return rep, nil
}

func (r *replayReport) Count(kind ledger.EventKind) int {
	n := 0
	for _, a := range r.agents {
		n += a.counts[kind]
	}
	return n
}

func (r *replayReport) Print(w io.Writer) error {
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintf(w, "replay ok: events=%d agents=%d\n\n", r.Events, len(ids))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tASSIGNED\tSTARTED\tCOMPLETED\tFAILED\tABANDONED\tOPEN")
	for _, id := range ids {
		a := r.agents[id]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n", id,
			a.counts[ledger.EventAssigned], a.counts[ledger.EventStarted], a.counts[ledger.EventCompleted],
			a.counts[ledger.EventFailed], a.counts[ledger.EventAbandoned], a.open)
	}
	return tw.Flush()
}
