// Package ops provides the built-in numeric tasks pipelines are made of.
//
// Every op caches its key at construction from its own configuration and
// the keys of its inputs, so building a deep graph never rehashes shared
// subtrees. Names only label a task; two ops that differ only by name share
// a key and collapse into one graph node.
package ops

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/aristath/taskgraph/internal/device"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// identity is what an op's key is hashed from.
type identity struct {
	Op        string
	Hints     scheduler.Hints
	Scalar    float64
	Vector    []float64
	Factor    float64
	Weights   []float64
	Normalize bool
	Inputs    []scheduler.Key
}

func deriveKey(id identity, inputs []scheduler.Task) (string, error) {
	id.Inputs = make([]scheduler.Key, len(inputs))
	for i, in := range inputs {
		k, err := scheduler.KeyOf(in)
		if err != nil {
			return "", fmt.Errorf("%s input %d: %w", id.Op, i, err)
		}
		id.Inputs[i] = k
	}
	h, err := hashstructure.Hash(id, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", id.Op, err)
	}
	return fmt.Sprintf("%016x", h), nil
}

// base holds what every op shares.
type base struct {
	scheduler.Hints
	name string
	key  string
}

func (b *base) TaskKey() string { return b.key }

func (b *base) String() string {
	if b.name != "" {
		return b.name
	}
	return b.key
}

func indexedArgs(inputs []scheduler.Task) map[string]scheduler.Task {
	args := make(map[string]scheduler.Task, len(inputs))
	for i, in := range inputs {
		args[argName(i)] = in
	}
	return args
}

func indexedValues(args map[string]any, n int) ([]any, error) {
	vals := make([]any, n)
	for i := range vals {
		v, ok := args[argName(i)]
		if !ok {
			return nil, fmt.Errorf("argument %q not provided", argName(i))
		}
		vals[i] = v
	}
	return vals, nil
}

func argName(i int) string { return "in" + strconv.Itoa(i) }

// Const produces a fixed scalar or vector.
type Const struct {
	base
	scalar float64
	vector []float64
}

// NewConst returns a task producing value.
func NewConst(name string, value float64, hints scheduler.Hints) (*Const, error) {
	key, err := deriveKey(identity{Op: "const", Hints: hints, Scalar: value}, nil)
	if err != nil {
		return nil, err
	}
	return &Const{base: base{Hints: hints, name: name, key: key}, scalar: value}, nil
}

// NewVector returns a task producing a CPU buffer holding a copy of data.
func NewVector(name string, data []float64, hints scheduler.Hints) (*Const, error) {
	vec := append([]float64{}, data...)
	key, err := deriveKey(identity{Op: "vector", Hints: hints, Vector: vec}, nil)
	if err != nil {
		return nil, err
	}
	return &Const{base: base{Hints: hints, name: name, key: key}, vector: vec}, nil
}

func (c *Const) Arguments() map[string]scheduler.Task { return nil }

func (c *Const) Execute(ctx context.Context, _ map[string]any) (any, error) {
	if c.vector == nil {
		return c.scalar, nil
	}
	return device.NewBuffer(append([]float64{}, c.vector...), device.CPUDevice), nil
}

// Sum adds its inputs elementwise.
type Sum struct {
	base
	inputs []scheduler.Task
}

// NewSum returns a task adding inputs. At least one input is required.
func NewSum(name string, inputs []scheduler.Task, hints scheduler.Hints) (*Sum, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("sum %q needs at least one input", name)
	}
	key, err := deriveKey(identity{Op: "sum", Hints: hints}, inputs)
	if err != nil {
		return nil, err
	}
	return &Sum{base: base{Hints: hints, name: name, key: key}, inputs: inputs}, nil
}

func (s *Sum) Arguments() map[string]scheduler.Task { return indexedArgs(s.inputs) }

func (s *Sum) Execute(ctx context.Context, args map[string]any) (any, error) {
	vals, err := indexedValues(args, len(s.inputs))
	if err != nil {
		return nil, err
	}
	return combine(vals, nil)
}

// Scale multiplies its single input by a constant factor.
type Scale struct {
	base
	input  scheduler.Task
	factor float64
}

// NewScale returns a task computing input * factor.
func NewScale(name string, input scheduler.Task, factor float64, hints scheduler.Hints) (*Scale, error) {
	key, err := deriveKey(identity{Op: "scale", Hints: hints, Factor: factor}, []scheduler.Task{input})
	if err != nil {
		return nil, err
	}
	return &Scale{base: base{Hints: hints, name: name, key: key}, input: input, factor: factor}, nil
}

func (s *Scale) Arguments() map[string]scheduler.Task {
	return map[string]scheduler.Task{"in": s.input}
}

func (s *Scale) Execute(ctx context.Context, args map[string]any) (any, error) {
	v, ok := args["in"]
	if !ok {
		return nil, fmt.Errorf("argument %q not provided", "in")
	}
	return combine([]any{v}, []float64{s.factor})
}

// Linear computes a weighted combination of its inputs. With normalize set
// the weights are divided by their sum first.
type Linear struct {
	base
	inputs    []scheduler.Task
	weights   []float64
	normalize bool
}

// NewLinear returns a weighted-sum task. weights must match inputs one to one.
func NewLinear(name string, inputs []scheduler.Task, weights []float64, normalize bool, hints scheduler.Hints) (*Linear, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("linear %q needs at least one input", name)
	}
	if len(weights) != len(inputs) {
		return nil, fmt.Errorf("linear %q has %d weights for %d inputs", name, len(weights), len(inputs))
	}
	w := append([]float64{}, weights...)
	if normalize {
		total := 0.0
		for _, x := range w {
			total += x
		}
		if total == 0 {
			return nil, fmt.Errorf("linear %q: weights sum to zero, cannot normalize", name)
		}
	}
	key, err := deriveKey(identity{Op: "linear", Hints: hints, Weights: w, Normalize: normalize}, inputs)
	if err != nil {
		return nil, err
	}
	return &Linear{base: base{Hints: hints, name: name, key: key}, inputs: inputs, weights: w, normalize: normalize}, nil
}

func (l *Linear) Arguments() map[string]scheduler.Task { return indexedArgs(l.inputs) }

func (l *Linear) Execute(ctx context.Context, args map[string]any) (any, error) {
	vals, err := indexedValues(args, len(l.inputs))
	if err != nil {
		return nil, err
	}
	weights := l.weights
	if l.normalize {
		total := 0.0
		for _, x := range weights {
			total += x
		}
		weights = make([]float64, len(l.weights))
		for i, x := range l.weights {
			weights[i] = x / total
		}
	}
	return combine(vals, weights)
}
