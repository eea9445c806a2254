package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"questingbots.ai/internal/persistence/indexdb"
)

var indexOpts struct {
	db    string
	agent string
	limit int
}

var indexCmd = &cobra.Command{
	Use:       "index [events|counts|quest-sets]",
	Short:     "Query the SQLite index written by run --index-db",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"events", "counts", "quest-sets"},
	RunE: func(cmd *cobra.Command, args []string) error {
		q := "events"
		if len(args) > 0 {
			q = args[0]
		}
		return queryIndex(cmd, q)
	},
}

func init() {
	f := indexCmd.Flags()
	f.StringVar(&indexOpts.db, "db", "", "index database path")
	f.StringVar(&indexOpts.agent, "agent", "", "agent id filter (events)")
	f.IntVar(&indexOpts.limit, "limit", 20, "result limit (events)")
	_ = indexCmd.MarkFlagRequired("db")
	rootCmd.AddCommand(indexCmd)
}

func queryIndex(cmd *cobra.Command, q string) error {
	r, err := indexdb.OpenReader(indexOpts.db)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	switch q {
	case "events":
		rows, err := r.Events(ctx, indexOpts.agent, indexOpts.limit)
		if err != nil {
			return err
		}
		return printJSONLines(out, rows)
	case "counts":
		rows, err := r.KindCounts(ctx)
		if err != nil {
			return err
		}
		return printJSONLines(out, rows)
	case "quest-sets":
		rows, err := r.QuestSets(ctx)
		if err != nil {
			return err
		}
		return printJSONLines(out, rows)
	}
	return fmt.Errorf("unknown query %q", q)
}

func printJSONLines[T any](w io.Writer, rows []T) error {
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
