package device

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrMove is matched by every *MoveError.
var ErrMove = errors.New("resource move failed")

// MoveError reports a value that could not be relocated to a device.
type MoveError struct {
	Device Device
	Type   string
	Err    error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("moving %s to %s: %v", e.Type, e.Device, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }

func (e *MoveError) Is(target error) bool { return target == ErrMove }

// Relocatable is implemented by leaf values bound to a device. MoveTo returns
// the value as it lives on dev; it must not modify the receiver.
type Relocatable interface {
	MoveTo(dev Device, nonBlocking bool) (any, error)
}

var relocatableType = reflect.TypeOf((*Relocatable)(nil)).Elem()

type moveOptions struct {
	nonBlocking    bool
	nonBlockingSet bool
}

// MoveOption adjusts a single Move call.
type MoveOption func(*moveOptions)

// NonBlocking overrides the transfer mode. Without it, transfers to an
// accelerator are non-blocking and transfers to the CPU are blocking.
func NonBlocking(nonBlocking bool) MoveOption {
	return func(o *moveOptions) {
		o.nonBlocking = nonBlocking
		o.nonBlockingSet = true
	}
}

// Move relocates every Relocatable leaf reachable from value to dev.
//
// Slices, arrays, maps and pointers are traversed and rebuilt when they can
// hold a relocatable leaf; every other value passes through unchanged. A
// pointer whose leaf relocates to the pointed-to type comes back as a fresh
// pointer, and a pointer reached twice is rebuilt once. The input is never
// modified.
func Move(value any, dev Device, opts ...MoveOption) (any, error) {
	if value == nil {
		return nil, nil
	}

	var o moveOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.nonBlockingSet {
		o.nonBlocking = dev.IsAccelerator()
	}

	m := &mover{
		dev:         dev.normalize(),
		nonBlocking: o.nonBlocking,
		holds:       make(map[reflect.Type]bool),
		pointers:    make(map[pointerID]reflect.Value),
	}
	out, err := m.move(reflect.ValueOf(value))
	if err != nil {
		return nil, err
	}
	if !out.IsValid() {
		return nil, nil
	}
	return out.Interface(), nil
}

type pointerID struct {
	typ reflect.Type
	ptr uintptr
}

type mover struct {
	dev         Device
	nonBlocking bool
	holds       map[reflect.Type]bool
	pointers    map[pointerID]reflect.Value // rebuilt pointers by source
}

func (m *mover) move(v reflect.Value) (reflect.Value, error) {
	if !v.IsValid() {
		return v, nil
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v, nil
		}
		return m.move(v.Elem())
	}

	if v.Type().Implements(relocatableType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return v, nil
		}
		return m.relocate(v)
	}

	if !m.mayHold(v.Type()) {
		return v, nil
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return v, nil
		}
		id := pointerID{v.Type(), v.Pointer()}
		if p, ok := m.pointers[id]; ok {
			return p, nil
		}
		p := reflect.New(v.Type().Elem())
		m.pointers[id] = p
		elem, err := m.move(v.Elem())
		if err != nil {
			return v, err
		}
		if err := m.assign(p.Elem(), elem); err != nil {
			return v, err
		}
		return p, nil

	case reflect.Slice:
		if v.IsNil() {
			return v, nil
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			elem, err := m.move(v.Index(i))
			if err != nil {
				return v, err
			}
			if err := m.assign(out.Index(i), elem); err != nil {
				return v, err
			}
		}
		return out, nil

	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			elem, err := m.move(v.Index(i))
			if err != nil {
				return v, err
			}
			if err := m.assign(out.Index(i), elem); err != nil {
				return v, err
			}
		}
		return out, nil

	case reflect.Map:
		if v.IsNil() {
			return v, nil
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		elemType := v.Type().Elem()
		iter := v.MapRange()
		for iter.Next() {
			elem, err := m.move(iter.Value())
			if err != nil {
				return v, err
			}
			if !elem.IsValid() {
				elem = reflect.Zero(elemType)
			}
			if !elem.Type().AssignableTo(elemType) {
				return v, m.mismatch(elem.Type(), elemType)
			}
			out.SetMapIndex(iter.Key(), elem)
		}
		return out, nil
	}

	return v, nil
}

// relocate moves a Relocatable leaf. When v is a pointer and the leaf comes
// back as the pointed-to type, the result is boxed in a new pointer.
func (m *mover) relocate(v reflect.Value) (reflect.Value, error) {
	var id pointerID
	if v.Kind() == reflect.Pointer {
		id = pointerID{v.Type(), v.Pointer()}
		if p, ok := m.pointers[id]; ok {
			return p, nil
		}
	}

	out, err := v.Interface().(Relocatable).MoveTo(m.dev, m.nonBlocking)
	if err != nil {
		return v, &MoveError{Device: m.dev, Type: v.Type().String(), Err: err}
	}
	if out == nil {
		return reflect.Zero(v.Type()), nil
	}
	res := reflect.ValueOf(out)
	if v.Kind() == reflect.Pointer && !res.Type().AssignableTo(v.Type()) && res.Type().AssignableTo(v.Type().Elem()) {
		p := reflect.New(v.Type().Elem())
		p.Elem().Set(res)
		res = p
	}
	if v.Kind() == reflect.Pointer {
		m.pointers[id] = res
	}
	return res, nil
}

func (m *mover) assign(dst, src reflect.Value) error {
	if !src.IsValid() {
		return nil
	}
	if !src.Type().AssignableTo(dst.Type()) {
		return m.mismatch(src.Type(), dst.Type())
	}
	dst.Set(src)
	return nil
}

func (m *mover) mismatch(got, want reflect.Type) error {
	return &MoveError{
		Device: m.dev,
		Type:   want.String(),
		Err:    fmt.Errorf("relocated value of type %s does not fit %s", got, want),
	}
}

// mayHold reports whether a value of type t can contain a relocatable leaf.
func (m *mover) mayHold(t reflect.Type) bool {
	if held, ok := m.holds[t]; ok {
		return held
	}
	// Provisional answer for recursive container types.
	m.holds[t] = false

	var held bool
	switch {
	case t.Implements(relocatableType):
		held = true
	case t.Kind() == reflect.Interface:
		held = true
	case t.Kind() == reflect.Slice, t.Kind() == reflect.Array, t.Kind() == reflect.Map, t.Kind() == reflect.Pointer:
		held = m.mayHold(t.Elem())
	}
	m.holds[t] = held
	return held
}
