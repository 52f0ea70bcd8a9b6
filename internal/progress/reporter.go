// Package progress renders run progress events as a single updating line.
package progress

import (
	"context"
	"fmt"
	"io"

	pbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskgraph/internal/events"
)

const defaultWidth = 40

var (
	styleDesc   = lipgloss.NewStyle().Bold(true)
	styleCount  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("red")).Bold(true)
)

// Reporter writes a `desc [bar] n/total` line for every progress event it
// receives, redrawing in place.
type Reporter struct {
	out   io.Writer
	bar   pbar.Model
	quiet bool
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithQuiet discards everything.
func WithQuiet(quiet bool) Option {
	return func(r *Reporter) { r.quiet = quiet }
}

// WithWidth sets the bar width in cells.
func WithWidth(width int) Option {
	return func(r *Reporter) { r.bar.Width = width }
}

// New returns a reporter writing to out.
func New(out io.Writer, opts ...Option) *Reporter {
	r := &Reporter{
		out: out,
		bar: pbar.New(pbar.WithDefaultGradient(), pbar.WithWidth(defaultWidth), pbar.WithoutPercentage()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes events until a final progress event arrives, the channel is
// closed, or ctx is done. Events other than RunProgressEvent are ignored,
// except a TaskFailedEvent, which is reported once the line is finished.
func (r *Reporter) Run(ctx context.Context, sub <-chan events.Event) error {
	var failed *events.TaskFailedEvent
	for {
		select {
		case <-ctx.Done():
			r.finish(nil)
			return ctx.Err()
		case e, ok := <-sub:
			if !ok {
				r.finish(failed)
				return nil
			}
			switch ev := e.(type) {
			case events.TaskFailedEvent:
				failed = &ev
			case events.RunProgressEvent:
				r.draw(ev)
				if ev.Done {
					r.finish(failed)
					return nil
				}
			}
		}
	}
}

// Render formats one progress line.
func (r *Reporter) Render(e events.RunProgressEvent) string {
	pct := 0.0
	if e.Total > 0 {
		pct = float64(e.Completed) / float64(e.Total)
	}
	return fmt.Sprintf("%s %s %s",
		styleDesc.Render(e.Description),
		r.bar.ViewAs(pct),
		styleCount.Render(fmt.Sprintf("%d/%d", e.Completed, e.Total)),
	)
}

func (r *Reporter) draw(e events.RunProgressEvent) {
	if r.quiet {
		return
	}
	fmt.Fprintf(r.out, "\r%s", r.Render(e))
}

func (r *Reporter) finish(failed *events.TaskFailedEvent) {
	if r.quiet {
		return
	}
	fmt.Fprintln(r.out)
	if failed != nil {
		fmt.Fprintln(r.out, styleFailed.Render(fmt.Sprintf("failed at step %d (%s): %v",
			failed.Index, failed.Label, failed.Err)))
	}
}
