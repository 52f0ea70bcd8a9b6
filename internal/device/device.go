package device

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind names a class of resource a value can live on.
type Kind string

const (
	CPU  Kind = "cpu"
	CUDA Kind = "cuda"
	MPS  Kind = "mps"
	XPU  Kind = "xpu"
)

var kinds = []Kind{CPU, CUDA, MPS, XPU}

// Known reports whether k is one of the supported device kinds.
func (k Kind) Known() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

func kindList() string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// Device is an opaque handle to a compute or retention resource.
// The zero value is the CPU.
type Device struct {
	Kind  Kind
	Index int
}

// CPUDevice is the default device for both compute and retention.
var CPUDevice = Device{Kind: CPU}

// Parse reads a device string such as "cpu", "cuda" or "cuda:1". The kind
// must be one of cpu, cuda, mps or xpu.
func Parse(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Device{}, fmt.Errorf("empty device string")
	}

	kind, idx, hasIdx := strings.Cut(s, ":")
	if kind == "" {
		return Device{}, fmt.Errorf("invalid device %q: missing kind", s)
	}
	if !Kind(kind).Known() {
		return Device{}, fmt.Errorf("invalid device %q: unknown kind %q (want one of %s)", s, kind, kindList())
	}

	d := Device{Kind: Kind(kind)}
	if hasIdx {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return Device{}, fmt.Errorf("invalid device %q: bad index %q", s, idx)
		}
		d.Index = n
	}
	return d.normalize(), nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(s string) Device {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Device) normalize() Device {
	if d.Kind == "" || d.Kind == CPU {
		return CPUDevice
	}
	return d
}

// IsAccelerator reports whether d is anything other than the host CPU.
func (d Device) IsAccelerator() bool {
	return d.normalize().Kind != CPU
}

// Equal compares two devices after normalisation.
func (d Device) Equal(other Device) bool {
	return d.normalize() == other.normalize()
}

func (d Device) String() string {
	n := d.normalize()
	if n.Kind == CPU {
		return string(CPU)
	}
	return fmt.Sprintf("%s:%d", n.Kind, n.Index)
}

// MarshalText implements encoding.TextMarshaler.
func (d Device) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Device) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
