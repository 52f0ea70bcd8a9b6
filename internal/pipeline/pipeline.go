// Package pipeline loads task graphs from YAML files.
//
// A pipeline file lists named steps, each one a built-in op with its inputs
// given by step name, and the targets whose values are wanted:
//
//	steps:
//	  - name: base
//	    op: const
//	    vector: [1, 2, 3]
//	  - name: tuned
//	    op: scale
//	    inputs: [base]
//	    factor: 0.5
//	    accelerator: true
//	targets: [tuned]
package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/gammazero/toposort"
	"gopkg.in/yaml.v3"

	"github.com/aristath/taskgraph/internal/ops"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid pipeline")

// Supported ops.
const (
	OpConst  = "const"
	OpSum    = "sum"
	OpScale  = "scale"
	OpLinear = "linear"
)

// File is the on-disk form of a pipeline.
type File struct {
	Steps   []Step   `yaml:"steps"`
	Targets []string `yaml:"targets,omitempty"`
}

// Step is one named op.
type Step struct {
	Name      string    `yaml:"name"`
	Op        string    `yaml:"op"`
	Inputs    []string  `yaml:"inputs,omitempty"`
	Value     *float64  `yaml:"value,omitempty"`
	Vector    []float64 `yaml:"vector,omitempty"`
	Factor    *float64  `yaml:"factor,omitempty"`
	Weights   []float64 `yaml:"weights,omitempty"`
	Normalize bool      `yaml:"normalize,omitempty"`

	scheduler.Hints `yaml:",inline"`
}

// Pipeline is a loaded, validated pipeline.
type Pipeline struct {
	// Steps maps every step name to its task. Steps with identical
	// configuration share one task.
	Steps map[string]scheduler.Task
	// Targets are the requested tasks in file order.
	Targets []scheduler.Task
	// Labels lists the step names that resolved to each task key.
	Labels map[scheduler.Key][]string
}

// Load reads and parses the pipeline file at path.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and builds a pipeline. Unknown fields are rejected.
func Parse(data []byte) (*Pipeline, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return Build(&f)
}

// Build validates f and constructs its tasks. When f names no targets, every
// step no other step consumes becomes a target.
func Build(f *File) (*Pipeline, error) {
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalid)
	}

	specs := make(map[string]*Step, len(f.Steps))
	for i := range f.Steps {
		s := &f.Steps[i]
		if s.Name == "" {
			return nil, fmt.Errorf("%w: step %d has no name", ErrInvalid, i)
		}
		if _, dup := specs[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate step %q", ErrInvalid, s.Name)
		}
		specs[s.Name] = s
	}

	order, err := constructionOrder(f.Steps, specs)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Steps:  make(map[string]scheduler.Task, len(specs)),
		Labels: make(map[scheduler.Key][]string),
	}
	for _, name := range order {
		task, err := buildStep(specs[name], p.Steps)
		if err != nil {
			return nil, err
		}
		key, err := scheduler.KeyOf(task)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", name, err)
		}
		// Identical configurations collapse onto the first task built.
		if names, ok := p.Labels[key]; ok {
			task = p.Steps[names[0]]
		}
		p.Steps[name] = task
		p.Labels[key] = append(p.Labels[key], name)
	}

	targets := f.Targets
	if len(targets) == 0 {
		targets = sinks(f.Steps)
	}
	for _, name := range targets {
		task, ok := p.Steps[name]
		if !ok {
			return nil, fmt.Errorf("%w: target %q is not a step", ErrInvalid, name)
		}
		p.Targets = append(p.Targets, task)
	}
	return p, nil
}

// Names returns the step names behind t, sorted.
func (p *Pipeline) Names(t scheduler.Task) []string {
	key, err := scheduler.KeyOf(t)
	if err != nil {
		return nil
	}
	names := append([]string(nil), p.Labels[key]...)
	sort.Strings(names)
	return names
}

// constructionOrder orders steps so every step comes after its inputs.
func constructionOrder(steps []Step, specs map[string]*Step) ([]string, error) {
	var edges []toposort.Edge
	for _, s := range steps {
		if len(s.Inputs) == 0 {
			edges = append(edges, toposort.Edge{nil, s.Name})
			continue
		}
		seen := make(map[string]bool, len(s.Inputs))
		for _, in := range s.Inputs {
			if seen[in] {
				continue
			}
			seen[in] = true
			if _, ok := specs[in]; !ok {
				return nil, fmt.Errorf("%w: step %q references unknown step %q", ErrInvalid, s.Name, in)
			}
			if in == s.Name {
				return nil, fmt.Errorf("%w: step %q references itself", ErrInvalid, s.Name)
			}
			edges = append(edges, toposort.Edge{in, s.Name})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: steps reference each other in a cycle: %v", ErrInvalid, err)
	}

	order := make([]string, 0, len(specs))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(specs) {
		return nil, fmt.Errorf("%w: steps reference each other in a cycle", ErrInvalid)
	}
	return order, nil
}

func buildStep(s *Step, built map[string]scheduler.Task) (scheduler.Task, error) {
	inputs := make([]scheduler.Task, len(s.Inputs))
	for i, in := range s.Inputs {
		inputs[i] = built[in]
	}

	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: step %q: %s", ErrInvalid, s.Name, fmt.Sprintf(format, args...))
	}

	switch s.Op {
	case OpConst:
		if len(inputs) != 0 {
			return nil, invalid("const takes no inputs")
		}
		switch {
		case s.Value != nil && s.Vector != nil:
			return nil, invalid("const takes value or vector, not both")
		case s.Vector != nil:
			return ops.NewVector(s.Name, s.Vector, s.Hints)
		case s.Value != nil:
			return ops.NewConst(s.Name, *s.Value, s.Hints)
		default:
			return nil, invalid("const needs value or vector")
		}
	case OpSum:
		if len(inputs) == 0 {
			return nil, invalid("sum needs at least one input")
		}
		return ops.NewSum(s.Name, inputs, s.Hints)
	case OpScale:
		if len(inputs) != 1 {
			return nil, invalid("scale takes exactly one input, got %d", len(inputs))
		}
		if s.Factor == nil {
			return nil, invalid("scale needs factor")
		}
		return ops.NewScale(s.Name, inputs[0], *s.Factor, s.Hints)
	case OpLinear:
		if len(s.Weights) != len(inputs) {
			return nil, invalid("linear has %d weights for %d inputs", len(s.Weights), len(inputs))
		}
		t, err := ops.NewLinear(s.Name, inputs, s.Weights, s.Normalize, s.Hints)
		if err != nil {
			return nil, invalid("%v", err)
		}
		return t, nil
	case "":
		return nil, invalid("missing op")
	default:
		return nil, invalid("unknown op %q", s.Op)
	}
}

func sinks(steps []Step) []string {
	consumed := make(map[string]bool)
	for _, s := range steps {
		for _, in := range s.Inputs {
			consumed[in] = true
		}
	}
	var out []string
	for _, s := range steps {
		if !consumed[s.Name] {
			out = append(out, s.Name)
		}
	}
	return out
}
