package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) historyCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeStore, err := openStore(a.manager.Config.Records)
			if err != nil {
				return err
			}
			defer closeStore()

			recs, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read run records: %w", err)
			}
			if limit > 0 && len(recs) > limit {
				recs = recs[len(recs)-limit:]
			}

			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(a.out, "No runs recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tSTEPS\tCORRECTIONS\tDURATION\tGOAL")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					r.RunID,
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Status,
					r.Steps,
					r.Corrections,
					r.Duration().Round(time.Millisecond),
					r.Goal,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most this many of the latest runs (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the records as JSON")
	return cmd
}
