package ops

import (
	"encoding/json"
	"fmt"

	"github.com/aristath/taskgraph/internal/device"
)

// Value kinds written by EncodeValue.
const (
	KindNull   = "null"
	KindScalar = "scalar"
	KindBuffer = "buffer"
)

type encodedValue struct {
	Kind   string         `json:"kind"`
	Scalar float64        `json:"scalar,omitempty"`
	Buffer *device.Buffer `json:"buffer,omitempty"`
}

// EncodeValue serialises a value produced by an op. Only nil, float64 and
// device.Buffer are supported.
func EncodeValue(v any) ([]byte, error) {
	var enc encodedValue
	switch x := v.(type) {
	case nil:
		enc.Kind = KindNull
	case float64:
		enc.Kind, enc.Scalar = KindScalar, x
	case device.Buffer:
		enc.Kind, enc.Buffer = KindBuffer, &x
	default:
		return nil, fmt.Errorf("cannot encode value of type %T", v)
	}
	return json.Marshal(enc)
}

// DecodeValue reverses EncodeValue.
func DecodeValue(data []byte) (any, error) {
	var enc encodedValue
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}
	switch enc.Kind {
	case KindNull:
		return nil, nil
	case KindScalar:
		return enc.Scalar, nil
	case KindBuffer:
		if enc.Buffer == nil {
			return nil, fmt.Errorf("decoding value: buffer kind without data")
		}
		return *enc.Buffer, nil
	default:
		return nil, fmt.Errorf("decoding value: unknown kind %q", enc.Kind)
	}
}
