package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/qliqsoft/adbridge/internal/engine"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "status",
		Short:       "Show the running daemon's last reported sync status",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			data, err := os.ReadFile(statusPath(cc.StateDir))
			if err != nil {
				return fmt.Errorf("reading status snapshot (is the daemon running?): %w", err)
			}

			var st engine.Status
			if err := json.Unmarshal(data, &st); err != nil {
				return fmt.Errorf("parsing status snapshot: %w", err)
			}

			if cc.JSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(st)
			}

			printStatusText(st)

			return nil
		},
	}
}

func printStatusText(st engine.Status) {
	fmt.Printf("State:      %s\n", st.State)
	fmt.Printf("AD sync:    %s\n", progressLine(st.IsADSyncInProgress, st.ADSyncProgress))
	fmt.Printf("Cloud push: %s\n", progressLine(st.IsWebPushInProgress, st.WebPushProgress))

	if st.IsAnomalyDetected {
		fmt.Printf("Anomaly:    %s%s (%s not present)%s\n", anomalyColorOn(), st.AnomalyMessage, humanize.Comma(int64(st.AnomalyNotPresentUserCount)), anomalyColorOff())
	} else {
		fmt.Println("Anomaly:    none")
	}
}

// anomalyColorOn/Off bracket the anomaly line in red, but only when stdout
// is an actual terminal — piping status into a log file or another tool
// should never see ANSI escapes.
func anomalyColorOn() string {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return "\x1b[31m"
	}

	return ""
}

func anomalyColorOff() string {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return "\x1b[0m"
	}

	return ""
}

func progressLine(inProgress bool, p engine.Progress) string {
	if !inProgress {
		return "idle"
	}

	if p.Maximum < 0 {
		return fmt.Sprintf("running (%s)", p.Text)
	}

	return fmt.Sprintf("%d/%d %s", p.Value, p.Maximum, p.Text)
}
