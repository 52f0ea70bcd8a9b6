package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskgraph/internal/device"
	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/persistence"
	"github.com/aristath/taskgraph/internal/pipeline"
	"github.com/aristath/taskgraph/internal/progress"
	"github.com/aristath/taskgraph/internal/scheduler"
	"github.com/aristath/taskgraph/internal/tui"
)

var errMonitorClosed = errors.New("monitor closed before the run finished")

type runOptions struct {
	profile   string
	compute   string
	retention string
	desc      string
	store     string
	noStore   bool
	resume    bool
	quiet     bool
	monitor   bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run PIPELINE",
		Short: "Execute a pipeline and print its targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.profile, "profile", "", "device profile from config")
	f.StringVar(&opts.compute, "compute", "", "device accelerated steps run on")
	f.StringVar(&opts.retention, "retention", "", "device results are kept on")
	f.StringVar(&opts.desc, "desc", "", "run description for progress and the result store")
	f.StringVar(&opts.store, "store", "", "result store path (default from config)")
	f.BoolVar(&opts.noStore, "no-store", false, "do not record the run")
	f.BoolVar(&opts.resume, "resume", false, "reuse the latest stored results instead of recomputing them")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "hide the progress bar")
	f.BoolVar(&opts.monitor, "tui", false, "watch the run in the interactive monitor")
	return cmd
}

// engineOptions turns config and flags into executor options.
func (a *app) engineOptions(opts runOptions) ([]scheduler.Option, error) {
	engine, err := a.cfg.Resolve(opts.profile)
	if err != nil {
		return nil, err
	}
	if opts.compute != "" {
		if engine.Compute, err = device.Parse(opts.compute); err != nil {
			return nil, fmt.Errorf("--compute: %w", err)
		}
	}
	if opts.retention != "" {
		if engine.Retention, err = device.Parse(opts.retention); err != nil {
			return nil, fmt.Errorf("--retention: %w", err)
		}
	}

	out := []scheduler.Option{
		scheduler.WithComputeDevice(engine.Compute),
		scheduler.WithRetentionDevice(engine.Retention),
		scheduler.WithDescription(opts.desc),
	}
	if engine.NonBlocking != nil {
		out = append(out, scheduler.WithNonBlocking(*engine.NonBlocking))
	}
	return out, nil
}

// openStore returns nil when recording is disabled.
func (a *app) openStore(ctx context.Context, flagPath string, disabled bool) (persistence.Store, error) {
	path := a.cfg.StorePath
	if flagPath != "" {
		path = flagPath
	}
	if disabled || path == "" {
		return nil, nil
	}
	store, err := persistence.NewSQLiteStore(ctx, path, persistence.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (a *app) run(ctx context.Context, stdout, stderr io.Writer, path string, opts runOptions) error {
	p, err := pipeline.Load(path)
	if err != nil {
		return err
	}
	execOpts, err := a.engineOptions(opts)
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx, opts.store, opts.noStore)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	var cached *scheduler.ValueMap
	if opts.resume {
		if store == nil {
			return errors.New("--resume needs a result store")
		}
		if cached, err = storedValues(ctx, store, p); err != nil {
			return err
		}
		a.logger.Info().Int("cached", cached.Len()).Msg("resuming from stored results")
		execOpts = append(execOpts, scheduler.WithCachedValues(cached))
	}

	logger := a.logger
	out := stdout
	var buffered bytes.Buffer
	if opts.monitor {
		// The monitor owns the terminal until it exits.
		logger = zerolog.Nop()
		out = &buffered
	}

	bus := events.NewEventBus()
	execOpts = append(execOpts, scheduler.WithLogger(logger), scheduler.WithEventBus(bus))
	exec, err := scheduler.NewExecutor(p.Targets, execOpts...)
	if err != nil {
		return err
	}

	// Subscribe before anything is published.
	var monitor func(context.Context) error
	if opts.monitor {
		model := tui.New(bus, a.cfg, a.globalPath, a.projectPath)
		monitor = func(ctx context.Context) error {
			final, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			if err != nil {
				return err
			}
			if m, ok := final.(tui.Model); ok && !m.RunEnded() {
				return errMonitorClosed
			}
			return nil
		}
	} else {
		sub := bus.SubscribeAll(1024)
		reporter := progress.New(stderr, progress.WithQuiet(opts.quiet || a.cfg.Quiet))
		monitor = func(ctx context.Context) error {
			return reporter.Run(ctx, sub)
		}
	}

	for _, t := range p.Targets {
		if v, ok := cached.Get(t); ok {
			printResult(out, p, t, v, true)
		}
	}

	var runID string
	if store != nil {
		if runID, err = store.BeginRun(ctx, path, opts.desc); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer bus.Close()
		runErr := consume(gctx, exec.Run(gctx), p, store, runID, out)
		if store != nil {
			// Record the outcome even when the run was interrupted.
			if err := store.FinishRun(context.WithoutCancel(gctx), runID, runErr); err != nil {
				a.logger.Error().Err(err).Str("run", runID).Msg("failed to record run outcome")
				if runErr == nil {
					runErr = err
				}
			}
		}
		return runErr
	})
	g.Go(func() error {
		err := monitor(gctx)
		if gctx.Err() != nil {
			// The engine goroutine reports why the run stopped.
			return nil
		}
		return err
	})
	err = g.Wait()

	if opts.monitor {
		if ferr := flushResults(stdout, &buffered); ferr != nil {
			a.logger.Error().Err(ferr).Msg("failed to print results held during the monitor")
			if err == nil {
				err = ferr
			}
		}
	}
	if err == nil && runID != "" {
		a.logger.Info().Str("run", runID).Msg("results stored")
	}
	return err
}

// flushResults writes the results printed while the monitor owned the
// terminal.
func flushResults(dst io.Writer, held *bytes.Buffer) error {
	if _, err := io.Copy(dst, held); err != nil {
		return fmt.Errorf("printing results: %w", err)
	}
	return nil
}

// consume pulls every target, printing and storing each one. It stops
// pulling once ctx is done.
func consume(ctx context.Context, r *scheduler.Run, p *pipeline.Pipeline, store persistence.Store, runID string, out io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run abandoned: %w", err)
		}
		if !r.Next() {
			return r.Err()
		}
		t, v := r.Task(), r.Value()
		printResult(out, p, t, v, false)
		if store == nil {
			continue
		}
		key, err := scheduler.KeyOf(t)
		if err != nil {
			return err
		}
		if err := store.SaveResult(ctx, runID, key, strings.Join(p.Names(t), ","), v); err != nil {
			return fmt.Errorf("storing %s: %w", scheduler.Label(t), err)
		}
	}
}

// storedValues binds the latest finished results in store to p's steps.
func storedValues(ctx context.Context, store persistence.Store, p *pipeline.Pipeline) (*scheduler.ValueMap, error) {
	latest, err := store.LatestResults(ctx)
	if err != nil {
		return nil, err
	}
	return persistence.CachedValues(latest, stepTasks(p))
}

// stepTasks returns every distinct task in p.
func stepTasks(p *pipeline.Pipeline) []scheduler.Task {
	seen := make(map[scheduler.Key]bool, len(p.Steps))
	var out []scheduler.Task
	for _, t := range p.Steps {
		key, err := scheduler.KeyOf(t)
		if err != nil || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func printResult(out io.Writer, p *pipeline.Pipeline, t scheduler.Task, v any, cached bool) {
	line := fmt.Sprintf("%s = %s", strings.Join(p.Names(t), ", "), formatValue(v))
	if cached {
		line += " (cached)"
	}
	fmt.Fprintln(out, line)
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case device.Buffer:
		parts := make([]string, len(v.Data))
		for i, x := range v.Data {
			parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
		}
		return fmt.Sprintf("[%s] @%s", strings.Join(parts, " "), v.Device)
	default:
		return fmt.Sprint(v)
	}
}

