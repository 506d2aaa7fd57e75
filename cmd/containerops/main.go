package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"containerops/internal/config"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags shared by every subcommand. They
// override the config file and environment when set.
type globalFlags struct {
	configPath string
	logsDir    string
	timezone   string
	runtime    string
	dockerHost string
	debug      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "containerops",
		Short:         "Container status snapshots and image updates for a single Docker host",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&g.logsDir, "logs-dir", "", "Directory for JSON run files")
	root.PersistentFlags().StringVar(&g.timezone, "timezone", "", "Timezone for timestamps and file names")
	root.PersistentFlags().StringVar(&g.runtime, "runtime", "", "Runtime backend: api or cli")
	root.PersistentFlags().StringVar(&g.dockerHost, "docker-host", "", "Docker Engine API endpoint")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")

	root.AddCommand(statusCmd(&g))
	root.AddCommand(updateCmd(&g))
	root.AddCommand(historyCmd(&g))
	return root
}

// loadConfig resolves defaults, file, environment and flags, in that order,
// and configures logging from the result.
func loadConfig(cmd *cobra.Command, g *globalFlags) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("logs-dir") {
		cfg.LogsDir = g.logsDir
	}
	if flags.Changed("timezone") {
		cfg.Timezone = g.timezone
	}
	if flags.Changed("runtime") {
		cfg.Runtime = g.runtime
	}
	if flags.Changed("docker-host") {
		cfg.DockerHost = g.dockerHost
	}
	if g.debug {
		cfg.LogLevel = "debug"
	}
	configureLogging(cfg.LogLevel)
	return cfg, nil
}

func configureLogging(level string) {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
