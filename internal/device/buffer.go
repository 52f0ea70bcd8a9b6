package device

// Buffer is a numeric vector bound to a device. Moving a Buffer to another
// device copies its data; moving it to the device it already lives on is free.
type Buffer struct {
	Data   []float64 `json:"data"`
	Device Device    `json:"device"`
}

// NewBuffer wraps data as a buffer living on dev.
func NewBuffer(data []float64, dev Device) Buffer {
	return Buffer{Data: data, Device: dev.normalize()}
}

// Len returns the number of elements.
func (b Buffer) Len() int { return len(b.Data) }

// MoveTo implements Relocatable.
func (b Buffer) MoveTo(dev Device, nonBlocking bool) (any, error) {
	if b.Device.Equal(dev) {
		return b, nil
	}
	data := make([]float64, len(b.Data))
	copy(data, b.Data)
	return Buffer{Data: data, Device: dev.normalize()}, nil
}
