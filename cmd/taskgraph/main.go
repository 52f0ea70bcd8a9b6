package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/taskgraph/internal/config"
)

var (
	version   = "0.1.0"
	commit    = ""
	buildDate = ""
)

// app is the state shared by all commands once the root has loaded config.
type app struct {
	cfg         *config.Config
	globalPath  string
	projectPath string
	logger      zerolog.Logger
}

// Create the root command
func newRootCmd() *cobra.Command {
	a := &app{logger: zerolog.Nop()}

	cmd := &cobra.Command{
		Use:   "taskgraph",
		Short: "taskgraph: deterministic execution of task graphs",
		Long: "taskgraph loads a pipeline of named steps, schedules every task the requested " +
			"targets depend on, and runs them one at a time, releasing each intermediate value " +
			"as soon as nothing downstream needs it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "", "Set log level. Available: trace, debug, info, warn, error (default from config)")
	cmd.PersistentFlags().String("config", "", "project config file (default .taskgraph/config.json)")

	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		return a.setup(c)
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newScheduleCmd(a))
	cmd.AddCommand(newRunsCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	return cmd
}

// setup loads configuration and builds the logger.
func (a *app) setup(c *cobra.Command) error {
	var err error
	a.globalPath, a.projectPath, err = config.DefaultPaths()
	if err != nil {
		return err
	}
	if p, _ := c.Flags().GetString("config"); p != "" {
		a.projectPath = p
	}

	a.cfg, err = config.Load(a.globalPath, a.projectPath)
	if err != nil {
		return err
	}

	levelStr := a.cfg.LogLevel
	if l, _ := c.Flags().GetString("log"); l != "" {
		levelStr = l
	}
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", levelStr, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	a.logger = newLogger(c.ErrOrStderr(), level)
	return nil
}

// Setup the logger
func newLogger(out io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Create the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Version needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskgraph %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

// Main entry point
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
