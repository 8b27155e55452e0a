package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qliqsoft/adbridge/internal/store"
)

func newEventsCmd() *cobra.Command {
	var offset, count int
	var origin string
	var clear, verbose bool

	cmd := &cobra.Command{
		Use:         "events",
		Short:       "Show or clear the sync event log (loadEventLog / deleteEventLog)",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			s, err := store.Open(cmd.Context(), dbPath(cc.StateDir), cc.Logger)
			if err != nil {
				return fmt.Errorf("opening sync database: %w", err)
			}
			defer s.Close()

			if clear {
				if err := s.DeleteAllEvents(cmd.Context()); err != nil {
					return fmt.Errorf("clearing event log: %w", err)
				}

				statusf(cc.Quiet, "Event log cleared\n")

				return nil
			}

			events, err := s.LoadEvents(cmd.Context(), offset, count)
			if err != nil {
				return fmt.Errorf("loading event log: %w", err)
			}

			if origin != "" {
				events = filterByOrigin(events, origin)
			}

			if cc.JSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(events)
			}

			for _, e := range events {
				fmt.Printf("%-8s %-6s %-20s %s\n", e.Origin, e.Category, humanize.Time(e.Timestamp), e.Message)

				if verbose && e.File != "" {
					fmt.Printf("%38s%s:%d\n", "", e.File, e.Line)
				}
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "events to skip, newest first")
	cmd.Flags().IntVar(&count, "count", 50, "maximum events to show")
	cmd.Flags().StringVar(&origin, "origin", "", "filter by origin (Sync, WebPush, Auth)")
	cmd.Flags().BoolVar(&clear, "clear", false, "delete the entire event log instead of printing it")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "also print each event's triggering source file/line")

	return cmd
}

func filterByOrigin(events []store.EventRow, origin string) []store.EventRow {
	var out []store.EventRow

	for _, e := range events {
		if e.Origin == origin {
			out = append(out, e)
		}
	}

	return out
}
