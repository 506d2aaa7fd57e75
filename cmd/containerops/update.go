package main

import (
	"context"
	"encoding/json"
	"fmt"

	"containerops/internal/config"
	"containerops/internal/docker"
	"containerops/internal/notify"
	"containerops/internal/output"
	"containerops/internal/store"
	"containerops/internal/update"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type updateFlags struct {
	mode          string
	target        string
	exclude       string
	image         string
	hostPort      int
	containerPort int
}

func updateCmd(g *globalFlags) *cobra.Command {
	var f updateFlags
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Pull fresh images and recreate containers from them",
		Long: `Pull the latest image for each container and recreate it.

In preserve mode every container except the excluded one is recreated with
its published ports, named volumes and environment. In fixed mode a single
named container is recreated from --image with one port mapping.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("mode") {
				cfg.Mode = f.mode
			}
			if flags.Changed("target") {
				cfg.Target = f.target
			}
			if flags.Changed("exclude") {
				cfg.Exclude = f.exclude
			}
			if flags.Changed("image") {
				cfg.Image = f.image
			}
			if flags.Changed("host-port") {
				cfg.HostPort = f.hostPort
			}
			if flags.Changed("container-port") {
				cfg.ContainerPort = f.containerPort
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runUpdate(cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&f.mode, "mode", "", "Update mode: preserve or fixed")
	cmd.Flags().StringVar(&f.target, "target", "", "Container to recreate in fixed mode")
	cmd.Flags().StringVar(&f.exclude, "exclude", "", "Container name never touched in preserve mode")
	cmd.Flags().StringVar(&f.image, "image", "", "Image to run in fixed mode")
	cmd.Flags().IntVar(&f.hostPort, "host-port", 0, "Host port in fixed mode")
	cmd.Flags().IntVar(&f.containerPort, "container-port", 0, "Container port in fixed mode")
	return cmd
}

func runUpdate(cmd *cobra.Command, cfg config.Config) error {
	ctx := cmd.Context()
	rt, err := docker.Open(cfg.Runtime, cfg.DockerHost, cfg.DockerBin)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	w := output.NewWriter(cfg.LogsDir, cfg.Location())
	runner := update.NewRunner(rt, update.OptionsFromConfig(cfg), out, w.Now)

	lg, runErr := runner.Run(ctx)
	if runErr != nil {
		log.Errorf("update aborted: %v", runErr)
	}

	// The log is persisted even when the run aborted early.
	path, err := w.Write("update", lg.Timestamp, lg)
	if err != nil {
		if runErr != nil {
			return fmt.Errorf("%w (and %v)", runErr, err)
		}
		return err
	}

	fmt.Fprint(out, update.Summary(lg))
	fmt.Fprintln(out)
	failed := len(lg.Failed())
	if failed > 0 {
		fmt.Fprintln(out, output.WarnMsg("%d of %d containers failed", failed, len(lg.Results)))
	}
	fmt.Fprintln(out, output.SuccessMsg("Update log written to: %s", path))

	recordUpdate(cmd, cfg, lg, path)

	tg := notify.NewTelegram(cfg.TelegramEnabled, cfg.TelegramToken, cfg.TelegramChatID)
	if err := notifyFailures(ctx, tg, lg); err != nil {
		log.Warnf("telegram notify failed: %v", err)
	}
	return runErr
}

// notifyFailures alerts about failed results, including after the run was
// interrupted.
func notifyFailures(ctx context.Context, tg *notify.Telegram, lg update.Log) error {
	msg := update.FailureMessage(lg)
	if msg == "" {
		return nil
	}
	return tg.Send(context.WithoutCancel(ctx), msg)
}

func recordUpdate(cmd *cobra.Command, cfg config.Config, lg update.Log, path string) {
	body, err := json.Marshal(lg)
	if err != nil {
		log.Warnf("history: encode update log: %v", err)
		return
	}
	results := make([]store.RunResult, 0, len(lg.Results))
	for _, r := range lg.Results {
		results = append(results, store.RunResult{
			Container:      r.Container,
			Image:          r.Image,
			Status:         string(r.Status),
			NewContainerID: r.NewContainerID,
			DurationMS:     r.DurationMS,
		})
	}
	recordHistory(cmd.Context(), cfg, store.Run{
		Kind:       store.KindUpdate,
		StartedAt:  lg.Timestamp,
		FinishedAt: lg.FinishedAt,
		File:       path,
		Total:      len(lg.Results),
		Failed:     len(lg.Failed()),
		Body:       string(body),
	}, results)
}
