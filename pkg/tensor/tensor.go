// Package tensor provides the dense, dtype-tagged arrays the operator ABI is
// expressed in. Storage is flat raw bytes; shape and element strides describe
// the view. The last dimension of a view is always contiguous; leading
// dimensions may be strided.
package tensor

import (
	"fmt"
	"unsafe"

	"github.com/samcharles93/rotor/pkg/device"
)

// Tensor is a dense array on a device. Views created with AsStrided share
// storage with their parent; mutation through one view is visible through the
// other.
//
// Tensor does not perform memory safety beyond the checks performed by Go's
// slice types; out-of-range indices panic.
type Tensor struct {
	dt      DType
	shape   []int
	strides []int // in elements
	raw     []byte
	dev     *device.Device
}

// New allocates a zero-initialised contiguous tensor.
func New(dev *device.Device, dt DType, shape ...int) *Tensor {
	elem, ok := dt.ElemSize()
	if !ok {
		panic("tensor: unknown dtype")
	}
	n := 1
	for _, s := range shape {
		if s < 0 {
			panic("tensor: negative dimension")
		}
		n *= s
	}
	return &Tensor{
		dt:      dt,
		shape:   append([]int(nil), shape...),
		strides: contiguousStrides(shape),
		raw:     make([]byte, n*elem),
		dev:     dev,
	}
}

// FromFloat32 creates an F32 tensor that shares storage with data.
func FromFloat32(dev *device.Device, data []float32, shape ...int) *Tensor {
	t := view(dev, F32, shape, unsafe.Pointer(unsafe.SliceData(data)), len(data)*4, len(data))
	return t
}

// FromInt64 creates an I64 tensor that shares storage with data.
func FromInt64(dev *device.Device, data []int64, shape ...int) *Tensor {
	return view(dev, I64, shape, unsafe.Pointer(unsafe.SliceData(data)), len(data)*8, len(data))
}

// FromUint16 creates an F16 or BF16 tensor that shares storage with the raw
// bit-patterns in data.
func FromUint16(dev *device.Device, dt DType, data []uint16, shape ...int) *Tensor {
	if dt != F16 && dt != BF16 {
		panic("tensor: FromUint16 requires F16 or BF16")
	}
	return view(dev, dt, shape, unsafe.Pointer(unsafe.SliceData(data)), len(data)*2, len(data))
}

func view(dev *device.Device, dt DType, shape []int, ptr unsafe.Pointer, bytes, elems int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != elems {
		panic(fmt.Sprintf("tensor: data length %d does not match shape %v", elems, shape))
	}
	var raw []byte
	if bytes > 0 {
		raw = unsafe.Slice((*byte)(ptr), bytes)
	}
	return &Tensor{
		dt:      dt,
		shape:   append([]int(nil), shape...),
		strides: contiguousStrides(shape),
		raw:     raw,
		dev:     dev,
	}
}

func contiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// AsStrided returns a view with the given shape, element strides, and element
// offset into t's storage. The furthest reachable element must stay inside
// the storage.
func (t *Tensor) AsStrided(shape, strides []int, offset int) *Tensor {
	if len(shape) != len(strides) {
		panic("tensor: shape and strides rank mismatch")
	}
	elem, _ := t.dt.ElemSize()
	last := offset
	for i, s := range shape {
		if s < 0 || (s > 0 && strides[i] < 0) {
			panic("tensor: invalid view geometry")
		}
		if s > 0 {
			last += (s - 1) * strides[i]
		}
	}
	if offset < 0 || (last+1)*elem > len(t.raw) {
		panic("tensor: view reaches outside storage")
	}
	return &Tensor{
		dt:      t.dt,
		shape:   append([]int(nil), shape...),
		strides: append([]int(nil), strides...),
		raw:     t.raw[offset*elem:],
		dev:     t.dev,
	}
}

// Clone copies the storage viewed by t into a fresh tensor with the same
// geometry.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{
		dt:      t.dt,
		shape:   append([]int(nil), t.shape...),
		strides: append([]int(nil), t.strides...),
		raw:     append([]byte(nil), t.raw...),
		dev:     t.dev,
	}
	return out
}

func (t *Tensor) DType() DType           { return t.dt }
func (t *Tensor) Device() *device.Device { return t.dev }
func (t *Tensor) Rank() int              { return len(t.shape) }

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Size returns the extent of dimension i. Negative indices count from the
// back, so Size(-1) is the last dimension.
func (t *Tensor) Size(i int) int { return t.shape[t.axis(i)] }

// Stride returns the element stride of dimension i. Negative indices count
// from the back.
func (t *Tensor) Stride(i int) int { return t.strides[t.axis(i)] }

func (t *Tensor) axis(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	if i < 0 || i >= len(t.shape) {
		panic("tensor: axis out of range")
	}
	return i
}

// Numel returns the number of elements the view addresses.
func (t *Tensor) Numel() int {
	n := 1
	for _, s := range t.shape {
		n *= s
	}
	return n
}

// Raw exposes the underlying storage from the view's origin onward.
func (t *Tensor) Raw() []byte { return t.raw }

// Float32s reinterprets the storage as float32 lanes. Panics unless the
// dtype is F32.
func (t *Tensor) Float32s() []float32 {
	if t.dt != F32 {
		panic("tensor: Float32s on " + t.dt.String() + " tensor")
	}
	if len(t.raw) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.raw[0])), len(t.raw)/4)
}

// Uint16s reinterprets the storage as 16-bit lanes. Panics unless the dtype
// is F16 or BF16.
func (t *Tensor) Uint16s() []uint16 {
	if t.dt != F16 && t.dt != BF16 {
		panic("tensor: Uint16s on " + t.dt.String() + " tensor")
	}
	if len(t.raw) == 0 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&t.raw[0])), len(t.raw)/2)
}

// Int64s reinterprets the storage as int64 lanes. Panics unless the dtype is
// I64.
func (t *Tensor) Int64s() []int64 {
	if t.dt != I64 {
		panic("tensor: Int64s on " + t.dt.String() + " tensor")
	}
	if len(t.raw) == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&t.raw[0])), len(t.raw)/8)
}

// FloatAt reads the element at flat storage offset off, decoded to float32.
func (t *Tensor) FloatAt(off int) float32 {
	switch t.dt {
	case F32:
		return t.Float32s()[off]
	case F16:
		return Float16ToFloat32(t.Uint16s()[off])
	case BF16:
		return BFloat16ToFloat32(t.Uint16s()[off])
	default:
		panic("tensor: FloatAt on " + t.dt.String() + " tensor")
	}
}

// SetFloatAt writes v at flat storage offset off, encoded to the tensor's
// dtype.
func (t *Tensor) SetFloatAt(off int, v float32) {
	switch t.dt {
	case F32:
		t.Float32s()[off] = v
	case F16:
		t.Uint16s()[off] = Float32ToFloat16(v)
	case BF16:
		t.Uint16s()[off] = Float32ToBFloat16(v)
	default:
		panic("tensor: SetFloatAt on " + t.dt.String() + " tensor")
	}
}
