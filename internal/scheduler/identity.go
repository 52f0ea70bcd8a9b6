package scheduler

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/mitchellh/hashstructure/v2"
)

var taskType = reflect.TypeOf((*Task)(nil)).Elem()

// refID identifies a pointer, map or slice by type and address.
type refID struct {
	typ reflect.Type
	ptr uintptr
}

// nestedTask stands in for a task found inside another task's
// configuration, so the parent hashes its dependency's key rather than the
// dependency's whole subgraph.
type nestedTask struct {
	Task string
}

// mapEntry is one map element; entries are sorted by the hash of their key.
type mapEntry struct {
	Key   any
	Value any
	hash  uint64
}

// keyer derives structural keys. Pointer tasks are keyed once per keyer, so
// shared subgraphs are hashed once no matter how many paths reach them.
type keyer struct {
	memo   map[refID]Key
	active map[refID]int // pointer tasks being keyed -> index in path
	refs   map[refID]int // references on the current walk -> index in path
	path   []string      // names of the tasks being keyed, outermost first
}

func newKeyer() *keyer {
	return &keyer{
		memo:   make(map[refID]Key),
		active: make(map[refID]int),
		refs:   make(map[refID]int),
	}
}

func (kr *keyer) key(t Task) (Key, error) {
	if t == nil {
		return "", fmt.Errorf("nil task")
	}
	if k, ok := t.(Keyer); ok {
		return Key(fmt.Sprintf("%T:%s", t, k.TaskKey())), nil
	}

	v := reflect.ValueOf(t)
	var ref refID
	isRef := v.Kind() == reflect.Pointer && !v.IsNil()
	if isRef {
		ref = refID{v.Type(), v.Pointer()}
		if k, ok := kr.memo[ref]; ok {
			return k, nil
		}
		if at, ok := kr.active[ref]; ok {
			return "", kr.cycle(at)
		}
		kr.active[ref] = len(kr.path)
		defer delete(kr.active, ref)
	}

	kr.path = append(kr.path, taskName(t))
	defer func() { kr.path = kr.path[:len(kr.path)-1] }()

	form, err := kr.canonical(v, true)
	if err != nil {
		return "", err
	}
	h, err := hashstructure.Hash(form, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hashing task %T: %w", t, err)
	}
	k := Key(fmt.Sprintf("%T:%016x", t, h))
	if isRef {
		kr.memo[ref] = k
	}
	return k, nil
}

// canonical rewrites v into plain values hashstructure can hash faithfully:
// structs become field maps, maps become sorted entries and nested tasks
// become their keys. Anything hashstructure would silently skip is an error.
func (kr *keyer) canonical(v reflect.Value, root bool) (any, error) {
	switch v.Kind() {
	case reflect.Invalid:
		return nil, nil
	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return kr.canonical(v.Elem(), false)
	}

	if !root && v.Type().Implements(taskType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil, nil
		}
		k, err := kr.key(v.Interface().(Task))
		if err != nil {
			return nil, err
		}
		return nestedTask{Task: string(k)}, nil
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		leave, err := kr.enter(refID{v.Type(), v.Pointer()})
		if err != nil {
			return nil, err
		}
		defer leave()
		return kr.canonical(v.Elem(), false)

	case reflect.Struct:
		t := v.Type()
		fields := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if tag := f.Tag.Get("hash"); tag == "ignore" || tag == "-" {
				continue
			}
			if !f.IsExported() {
				return nil, fmt.Errorf("unexported field %s.%s cannot take part in task identity; tag it `hash:\"ignore\"` or implement Keyer", t, f.Name)
			}
			c, err := kr.canonical(v.Field(i), false)
			if err != nil {
				return nil, err
			}
			fields[f.Name] = c
		}
		return fields, nil

	case reflect.Slice:
		if v.Len() == 0 {
			return nil, nil
		}
		leave, err := kr.enter(refID{v.Type(), v.Pointer()})
		if err != nil {
			return nil, err
		}
		defer leave()
		return kr.sequence(v)

	case reflect.Array:
		return kr.sequence(v)

	case reflect.Map:
		if v.Len() == 0 {
			return nil, nil
		}
		leave, err := kr.enter(refID{v.Type(), v.Pointer()})
		if err != nil {
			return nil, err
		}
		defer leave()

		entries := make([]mapEntry, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k, err := kr.canonical(iter.Key(), false)
			if err != nil {
				return nil, err
			}
			val, err := kr.canonical(iter.Value(), false)
			if err != nil {
				return nil, err
			}
			h, err := hashstructure.Hash(k, hashstructure.FormatV2, nil)
			if err != nil {
				return nil, err
			}
			entries = append(entries, mapEntry{Key: k, Value: val, hash: h})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].hash < entries[j].hash })
		return entries, nil

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, fmt.Errorf("%s value cannot take part in task identity; tag the field `hash:\"ignore\"` or implement Keyer", v.Type())

	default:
		return v.Interface(), nil
	}
}

func (kr *keyer) sequence(v reflect.Value) ([]any, error) {
	out := make([]any, v.Len())
	for i := range out {
		c, err := kr.canonical(v.Index(i), false)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// enter marks a reference as being walked. Meeting it again before leaving
// means the configuration refers back to itself.
func (kr *keyer) enter(ref refID) (func(), error) {
	if at, ok := kr.refs[ref]; ok {
		return nil, kr.cycle(at)
	}
	kr.refs[ref] = len(kr.path) - 1
	return func() { delete(kr.refs, ref) }, nil
}

// cycle reports the tasks from path[at] inward, closed on the first one.
func (kr *keyer) cycle(at int) error {
	if at < 0 {
		at = 0
	}
	witness := append([]string(nil), kr.path[at:]...)
	if len(witness) > 0 {
		witness = append(witness, witness[0])
	}
	return &GraphCycleError{Cycle: witness}
}

// taskName labels t without deriving its key.
func taskName(t Task) string {
	if s, ok := t.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", t)
}
