package main

import (
	"encoding/json"
	"fmt"

	"containerops/internal/config"
	"containerops/internal/docker"
	"containerops/internal/output"
	"containerops/internal/report"
	"containerops/internal/store"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func statusCmd(g *globalFlags) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Snapshot every container and export the report as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("target") {
				cfg.Target = target
			}
			// Status never recreates anything; mode settings do not apply.
			cfg.Mode = config.ModePreserve
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runStatus(cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Container to highlight in the summary")
	return cmd
}

func runStatus(cmd *cobra.Command, cfg config.Config) error {
	ctx := cmd.Context()
	rt, err := docker.Open(cfg.Runtime, cfg.DockerHost, cfg.DockerBin)
	if err != nil {
		return err
	}
	defer rt.Close()

	w := output.NewWriter(cfg.LogsDir, cfg.Location())
	rep, err := report.New(rt, w.Now).Produce(ctx)
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	path, err := w.Write("status", rep.Timestamp, rep)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, report.Summary(rep, cfg.Target))
	fmt.Fprintln(out, output.SuccessMsg("Status exported to: %s", path))

	body, err := json.Marshal(rep)
	if err != nil {
		log.Warnf("history: encode status report: %v", err)
		return nil
	}
	recordHistory(ctx, cfg, store.Run{
		Kind:       store.KindStatus,
		StartedAt:  rep.Timestamp,
		FinishedAt: rep.Timestamp,
		File:       path,
		Total:      len(rep.Containers),
		Body:       string(body),
	}, nil)
	return nil
}
