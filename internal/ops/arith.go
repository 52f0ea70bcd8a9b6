package ops

import (
	"fmt"

	"github.com/aristath/taskgraph/internal/device"
)

// combine returns sum(weights[i] * vals[i]). A nil weights slice means all
// ones. Scalars broadcast over buffers; buffers must agree on length. The
// result is a buffer on the first input buffer's device, or a scalar when no
// input is a buffer.
func combine(vals []any, weights []float64) (any, error) {
	var (
		out    []float64
		outDev device.Device
		scalar float64
	)

	for i, v := range vals {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		switch x := v.(type) {
		case float64:
			scalar += w * x
		case device.Buffer:
			if out == nil {
				out = make([]float64, x.Len())
				outDev = x.Device
			} else if x.Len() != len(out) {
				return nil, fmt.Errorf("input %d has length %d, want %d", i, x.Len(), len(out))
			}
			for j, e := range x.Data {
				out[j] += w * e
			}
		default:
			return nil, fmt.Errorf("input %d: unsupported value type %T", i, v)
		}
	}

	if out == nil {
		return scalar, nil
	}
	if scalar != 0 {
		for j := range out {
			out[j] += scalar
		}
	}
	return device.NewBuffer(out, outDev), nil
}
