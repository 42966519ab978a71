// proctord - interview session integrity monitoring
//
//	proctord serve              Serve monitored sessions over websocket
//	proctord replay <script>    Replay a recorded signal script
//	proctord history [id]       List stored sessions or show one
//	proctord validate <log>     Check a sealed session log
//	proctord config             Print or save the effective configuration
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"proctord/internal/config"
	"proctord/internal/logging"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "proctord",
		Short:         "Interview session integrity monitor",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default: platform config dir)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCmd(g),
		newReplayCmd(g),
		newHistoryCmd(g),
		newValidateCmd(),
		newConfigCmd(g),
	)
	return root
}

// loadConfig reads the configuration, falling back to a discovered file
// when no path was given.
func (g *globalFlags) loadConfig() (*config.Loader, *config.Config, error) {
	path := g.configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		path = config.ConfigPath()
	}

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	return loader, cfg, nil
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := cfg.LoggerConfig()
	lc.Component = "proctord"
	logger, err := logging.New(lc)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger.Logger)
	return logger, nil
}
