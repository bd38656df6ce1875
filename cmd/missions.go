package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/monitoring"
)

var missionsCmd = &cobra.Command{
	Use:   "missions",
	Short: "Inspect mission history",
	Long:  "Commands for listing, viewing, and cancelling missions.",
}

// -- missions list --

var missionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List missions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		missions, err := st.ListMissions(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "missions list")
		}

		if len(missions) == 0 {
			fmt.Fprintln(os.Stderr, "No missions found.")
			return nil
		}

		formatMissionsList(os.Stdout, missions)
		return nil
	},
}

// -- missions show --

var missionsShowCmd = &cobra.Command{
	Use:   "show <mission-id>",
	Short: "Show full details of a mission and its work items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mission, err := st.GetMission(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "missions show")
		}

		items, err := st.ListWorkItems(ctx, mission.ID)
		if err != nil {
			return eris.Wrap(err, "missions show: work items")
		}

		out := struct {
			Mission   *model.Mission   `json:"mission"`
			WorkItems []model.WorkItem `json:"work_items"`
		}{mission, items}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// -- missions cancel --

var missionsCancelServer string

var missionsCancelCmd = &cobra.Command{
	Use:   "cancel <mission-id>",
	Short: "Cancel a running mission via the API server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := fmt.Sprintf("%s/api/missions/%s/cancel", missionsCancelServer, args[0])
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(nil))
		if err != nil {
			return eris.Wrap(err, "missions cancel: build request")
		}

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return eris.Wrap(err, "missions cancel: request")
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode != http.StatusAccepted {
			return eris.Errorf("missions cancel: server returned %d: %s", resp.StatusCode, string(body))
		}

		fmt.Println(string(bytes.TrimSpace(body)))
		return nil
	},
}

// -- missions stats --

var missionsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate pipeline statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lookback, _ := cmd.Flags().GetInt("lookback-hours")
		snap, err := monitoring.NewCollector(st).Collect(ctx, lookback)
		if err != nil {
			return eris.Wrap(err, "missions stats")
		}

		formatMissionStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	missionsListCmd.Flags().Int("limit", 50, "max number of missions to display")
	missionsCancelCmd.Flags().StringVar(&missionsCancelServer, "server", "http://localhost:8080", "API server base URL")
	missionsStatsCmd.Flags().Int("lookback-hours", 24, "time window for stats")

	missionsCmd.AddCommand(missionsListCmd)
	missionsCmd.AddCommand(missionsShowCmd)
	missionsCmd.AddCommand(missionsCancelCmd)
	missionsCmd.AddCommand(missionsStatsCmd)
	rootCmd.AddCommand(missionsCmd)
}

// formatMissionsList writes a tabular list of missions to w.
func formatMissionsList(out io.Writer, missions []model.Mission) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSEEDS\tSTATUS\tLEADS\tFAILED\tDUP\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t-----\t------\t---\t-------")

	for _, m := range missions {
		seeds := ""
		if len(m.Seeds) > 0 {
			seeds = m.Seeds[0].Query
			if len(m.Seeds) > 1 {
				seeds = fmt.Sprintf("%s (+%d)", seeds, len(m.Seeds)-1)
			}
		}
		if len(seeds) > 30 {
			seeds = seeds[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			truncateID(m.ID),
			seeds,
			m.Status,
			m.Counts.Succeeded,
			m.Counts.Failed,
			m.Counts.Duplicate,
			m.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatMissionStats writes a metrics snapshot to w.
func formatMissionStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Missions:\t%d\n", s.MissionsTotal)
	_, _ = fmt.Fprintf(w, "  Running:\t%d\n", s.MissionsRunning)
	_, _ = fmt.Fprintf(w, "  Completed:\t%d\n", s.MissionsCompleted)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.MissionsFailed)
	_, _ = fmt.Fprintf(w, "  Cancelled:\t%d\n", s.MissionsCancelled)
	_, _ = fmt.Fprintf(w, "Items succeeded:\t%d\n", s.ItemsSucceeded)
	_, _ = fmt.Fprintf(w, "Items failed:\t%d\n", s.ItemsFailed)
	_, _ = fmt.Fprintf(w, "Items duplicate:\t%d\n", s.ItemsDuplicate)
	_, _ = fmt.Fprintf(w, "Duplicate rate:\t%.1f%%\n", s.DuplicateRate*100)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailureRate*100)
	_, _ = fmt.Fprintf(w, "Leads (all time):\t%d\n", s.LeadsTotal)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
