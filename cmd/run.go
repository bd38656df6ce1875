package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadscout/internal/engine"
	"github.com/sells-group/leadscout/internal/model"
)

var (
	runMissionFile string
	runQuery       string
	runRegion      string
	runMaxLeads    int
)

// missionFile is the YAML mission descriptor accepted by --mission.
type missionFile struct {
	Seeds   []model.SeedQuery    `yaml:"seeds"`
	Options model.MissionOptions `yaml:"options"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a mission to completion",
	Long:  "Submits a mission from a YAML descriptor or --query/--region flags, runs the pipeline until every work item settles, and prints the final mission state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req, err := buildMissionRequest()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		eng := buildEngine(st)

		mission, err := eng.Submit(ctx, req)
		if err != nil {
			return eris.Wrap(err, "submit mission")
		}

		runCtx, cancelRun := context.WithCancel(ctx)
		defer cancelRun()

		g, runCtx := errgroup.WithContext(runCtx)
		g.Go(func() error {
			return eng.Run(runCtx)
		})

		if err := eng.WaitMission(ctx, mission.ID); err != nil {
			// Interrupted: cancel the mission so executing items stop
			// advancing, then shut the workers down.
			zap.L().Warn("interrupted, cancelling mission", zap.String("mission_id", mission.ID))
			_ = eng.Cancel(context.Background(), mission.ID)
		}
		cancelRun()
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "engine run")
		}

		final, err := eng.Status(mission.ID)
		if err != nil {
			return eris.Wrap(err, "mission status")
		}

		zap.L().Info("mission finished",
			zap.String("mission_id", final.ID),
			zap.String("status", string(final.Status)),
			zap.Int("leads", final.Counts.Succeeded),
			zap.Int("failed", final.Counts.Failed),
			zap.Int("duplicate", final.Counts.Duplicate),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(final)
	},
}

// buildMissionRequest assembles the Submit request from the descriptor
// file or, failing that, the flags.
func buildMissionRequest() (engine.MissionRequest, error) {
	if runMissionFile != "" {
		raw, err := os.ReadFile(runMissionFile)
		if err != nil {
			return engine.MissionRequest{}, eris.Wrapf(err, "read mission file %s", runMissionFile)
		}
		var mf missionFile
		if err := yaml.Unmarshal(raw, &mf); err != nil {
			return engine.MissionRequest{}, eris.Wrapf(err, "parse mission file %s", runMissionFile)
		}
		req := engine.MissionRequest{Seeds: mf.Seeds, Options: mf.Options}
		if runMaxLeads > 0 {
			req.Options.MaxLeads = runMaxLeads
		}
		return req, nil
	}

	if runQuery == "" {
		return engine.MissionRequest{}, eris.New("either --mission or --query is required")
	}
	return engine.MissionRequest{
		Seeds: []model.SeedQuery{{Query: runQuery, Region: runRegion}},
		Options: model.MissionOptions{
			MaxLeads: runMaxLeads,
		},
	}, nil
}

func init() {
	runCmd.Flags().StringVar(&runMissionFile, "mission", "", "YAML mission descriptor")
	runCmd.Flags().StringVar(&runQuery, "query", "", "seed query (e.g. \"school\")")
	runCmd.Flags().StringVar(&runRegion, "region", "", "named search region (city, metro, country)")
	runCmd.Flags().IntVar(&runMaxLeads, "max-leads", 0, "stop after this many finalized leads (0 = unlimited)")
	rootCmd.AddCommand(runCmd)
}
