package progress

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aristath/taskgraph/internal/events"
)

func TestRender(t *testing.T) {
	r := New(&bytes.Buffer{}, WithWidth(10))

	tests := []struct {
		name  string
		event events.RunProgressEvent
		want  []string
	}{
		{"start", events.RunProgressEvent{Description: "Merging", Total: 4}, []string{"Merging", "0/4"}},
		{"middle", events.RunProgressEvent{Description: "Merging", Total: 4, Completed: 2}, []string{"2/4"}},
		{"empty schedule", events.RunProgressEvent{Description: "Nothing", Done: true}, []string{"Nothing", "0/0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Render(tt.event)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("Render() = %q, missing %q", got, want)
				}
			}
		})
	}
}

func TestRunStopsOnDone(t *testing.T) {
	var out bytes.Buffer
	r := New(&out)

	sub := make(chan events.Event, 8)
	sub <- events.TaskStartedEvent{Label: "a"}
	sub <- events.RunProgressEvent{Description: "Run", Total: 2, Completed: 1}
	sub <- events.RunProgressEvent{Description: "Run", Total: 2, Completed: 2}
	sub <- events.RunProgressEvent{Description: "Run", Total: 2, Completed: 2, Done: true}
	sub <- events.RunProgressEvent{Description: "ignored", Total: 9}

	if err := r.Run(context.Background(), sub); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := out.String()
	if strings.Count(got, "\r") != 3 {
		t.Errorf("expected 3 redraws, got %q", got)
	}
	if !strings.HasSuffix(got, "\n") || strings.Contains(got, "ignored") {
		t.Errorf("unexpected output %q", got)
	}
	if len(sub) != 1 {
		t.Error("Run should stop reading after the final event")
	}
}

func TestRunReportsFailure(t *testing.T) {
	var out bytes.Buffer
	r := New(&out)

	sub := make(chan events.Event, 4)
	sub <- events.TaskFailedEvent{Label: "blend", Index: 3, Err: errors.New("shape mismatch"), Timestamp: time.Now()}
	sub <- events.RunProgressEvent{Description: "Run", Total: 5, Completed: 3, Done: true}

	if err := r.Run(context.Background(), sub); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := out.String(); !strings.Contains(got, "failed at step 3 (blend): shape mismatch") {
		t.Errorf("output %q does not report the failure", got)
	}
}

func TestRunQuiet(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, WithQuiet(true))

	sub := make(chan events.Event, 2)
	sub <- events.RunProgressEvent{Description: "Run", Total: 1, Completed: 1, Done: true}

	if err := r.Run(context.Background(), sub); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("quiet reporter wrote %q", out.String())
	}
}

func TestRunEndsWithChannelOrContext(t *testing.T) {
	r := New(&bytes.Buffer{})

	closed := make(chan events.Event)
	close(closed)
	if err := r.Run(context.Background(), closed); err != nil {
		t.Errorf("closed channel: err = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx, make(chan events.Event)); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context: err = %v", err)
	}
}
