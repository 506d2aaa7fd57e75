package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"containerops/internal/config"
	"containerops/internal/db"
	"containerops/internal/docker"
	"containerops/internal/output"
	"containerops/internal/report"
	"containerops/internal/store"
	"containerops/internal/update"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// recordHistory stores a finished run in the history database. Failures are
// logged and never fail the command.
func recordHistory(ctx context.Context, cfg config.Config, run store.Run, results []store.RunResult) {
	if !cfg.HistoryEnabled {
		return
	}
	// Record interrupted runs as well.
	ctx = context.WithoutCancel(ctx)

	st, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		log.Warnf("history: %v", err)
		return
	}
	defer closeDB()

	id, err := st.AddRun(ctx, run, results)
	if err != nil {
		log.Warnf("history: record %s run: %v", run.Kind, err)
		return
	}
	log.WithField("run", id).Debugf("history: recorded %s run", run.Kind)
}

func openStore(ctx context.Context, cfg config.Config) (*store.Store, func(), error) {
	database, err := db.Open(ctx, cfg.HistoryPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open history: %w", err)
	}
	return store.New(database.SQL), func() { database.Close() }, nil
}

func historyCmd(g *globalFlags) *cobra.Command {
	var (
		kind      string
		limit     int
		container string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded status and update runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			switch kind {
			case "", store.KindStatus, store.KindUpdate:
			default:
				return fmt.Errorf("unknown run kind %q (want %s or %s)", kind, store.KindStatus, store.KindUpdate)
			}
			st, closeDB, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			out := cmd.OutOrStdout()
			if container != "" {
				results, err := st.ListResultsByContainer(cmd.Context(), container, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, containerHistoryTable(results))
				return nil
			}
			runs, err := st.ListRuns(cmd.Context(), kind, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, output.Muted("no runs recorded"))
				return nil
			}
			fmt.Fprintln(out, runsTable(runs, cfg.Location()))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Only list runs of this kind: status or update")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of rows")
	cmd.Flags().StringVar(&container, "container", "", "List update outcomes for one container")
	cmd.AddCommand(historyShowCmd(g))
	return cmd
}

func historyShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print the summary of one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			st, closeDB, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			run, ok, err := st.GetRun(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("run %d not found", id)
			}
			summary, err := renderRun(run)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func renderRun(run store.Run) (string, error) {
	switch run.Kind {
	case store.KindStatus:
		var rep report.Report
		if err := json.Unmarshal([]byte(run.Body), &rep); err != nil {
			return "", fmt.Errorf("decode status run %d: %w", run.ID, err)
		}
		return report.Summary(rep, ""), nil
	case store.KindUpdate:
		var lg update.Log
		if err := json.Unmarshal([]byte(run.Body), &lg); err != nil {
			return "", fmt.Errorf("decode update run %d: %w", run.ID, err)
		}
		return update.Summary(lg) + "\n", nil
	default:
		return "", fmt.Errorf("run %d has unknown kind %q", run.ID, run.Kind)
	}
}

func runsTable(runs []store.Run, loc *time.Location) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.Kind,
			r.StartedAt.In(loc).Format(time.DateTime),
			strconv.Itoa(r.Total),
			strconv.Itoa(r.Failed),
			r.File,
		})
	}
	return output.Table([]string{"ID", "KIND", "STARTED", "TOTAL", "FAILED", "FILE"}, rows)
}

func containerHistoryTable(results []store.RunResult) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			strconv.FormatInt(r.RunID, 10),
			r.Image,
			r.Status,
			docker.ShortID(r.NewContainerID),
			(time.Duration(r.DurationMS) * time.Millisecond).String(),
		})
	}
	return output.Table([]string{"RUN", "IMAGE", "STATUS", "NEW ID", "DURATION"}, rows)
}
