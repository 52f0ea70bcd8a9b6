package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/pipeline"
	"github.com/aristath/taskgraph/internal/scheduler"
	"github.com/aristath/taskgraph/internal/tui"
)

func newScheduleCmd(a *app) *cobra.Command {
	var (
		store  string
		resume bool
	)
	cmd := &cobra.Command{
		Use:   "schedule PIPELINE",
		Short: "Print the execution order without running anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := pipeline.Load(args[0])
			if err != nil {
				return err
			}

			var cached *scheduler.ValueMap
			if resume {
				st, err := a.openStore(ctx, store, false)
				if err != nil {
					return err
				}
				if st == nil {
					return errors.New("--resume needs a result store")
				}
				defer st.Close()
				if cached, err = storedValues(ctx, st, p); err != nil {
					return err
				}
			}

			exec, err := scheduler.NewExecutor(p.Targets, scheduler.WithCachedValues(cached), scheduler.WithLogger(a.logger))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tSTEP\tPRIORITY\tGROUP\tACCEL\tTARGET")
			for i, t := range exec.Schedule() {
				group := t.GroupLabel()
				if group == "" {
					group = "-"
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n", i, strings.Join(p.Names(t), ", "),
					t.Priority(), group, yesNo(t.UsesAccelerator()), yesNo(exec.IsTarget(t)))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if n := cached.Len(); n > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d cached\n", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "result store path (default from config)")
	cmd.Flags().BoolVar(&resume, "resume", false, "leave out steps with stored results")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	var (
		store string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx, store, false)
			if err != nil {
				return err
			}
			if st == nil {
				return errors.New("no result store configured")
			}
			defer st.Close()

			runs, err := st.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tRESULTS\tPIPELINE\tDESCRIPTION\tERROR")
			for _, r := range runs {
				duration := "-"
				if !r.FinishedAt.IsZero() {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					shortID(r.ID), r.Status, humanize.Time(r.StartedAt), duration,
					humanize.Comma(int64(r.Results)), r.Pipeline, orDash(r.Description), orDash(r.Error))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "result store path (default from config)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs, 0 for all")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(a.cfg, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "edit",
		Short: "Edit engine settings interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			saveTarget := tui.SaveProject
			compute, retention := cfg.ComputeDevice, cfg.RetentionDevice
			logLevel, storePath, quiet := cfg.LogLevel, cfg.StorePath, cfg.Quiet

			form := tui.NewSettingsForm(&saveTarget, &compute, &retention, &logLevel, &storePath, &quiet)
			if err := form.Run(); err != nil {
				return err
			}

			cfg.ComputeDevice, cfg.RetentionDevice = compute, retention
			cfg.LogLevel, cfg.StorePath, cfg.Quiet = logLevel, storePath, quiet
			path := a.projectPath
			if saveTarget == tui.SaveGlobal {
				path = a.globalPath
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", path)
			return nil
		},
	})
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
