package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/config"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	configPath string
	workspace  string
	logLevel   string
}

// newRootCmd builds the command tree. The returned func releases whatever
// the executed command opened.
func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, func()) {
	flags := &globalFlags{}
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "ajengine",
		Short: "Agentic task engine for workspaces and managed machines",
		Long: `ajengine turns a natural-language task into tool steps, runs them with
bounded parallelism against the local workspace and remote agents, and reports
an answer checked against the output it actually captured.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load(flags)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Configuration file (JSON, YAML or TOML)")
	root.PersistentFlags().StringVar(&flags.workspace, "workspace", "", "Workspace root (overrides config)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error, none")

	root.AddCommand(
		newRunCmd(a),
		newBatchCmd(a),
		newToolCmd(a),
		newAgentsCmd(a),
		newVersionCmd(stdout),
	)
	return root, a.Close
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(stdout, "ajengine %s\n", version)
		},
	}
}

func (a *app) load(flags *globalFlags) error {
	path := strings.TrimSpace(flags.configPath)
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if flags.workspace != "" {
		cfg.WorkspaceRoot = flags.workspace
		cfg.WorkingDir = "."
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("ajengine %s starting", version)
	logger.Debug("config: workspace=%s provider=%s model=%s parallel=%t max=%d",
		cfg.WorkspaceRoot, cfg.LLM.Provider, cfg.LLM.Model, cfg.ParallelEnabled, cfg.MaxParallelTasks)

	a.cfg = cfg
	return nil
}

func main() {
	root, cleanup := newRootCmd(os.Stdout, os.Stderr)
	err := root.Execute()
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
