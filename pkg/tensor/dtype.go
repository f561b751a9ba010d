package tensor

import (
	"math"

	"github.com/x448/float16"
)

// DType identifies the element encoding of a tensor.
// Keep these stable; add new values only.
type DType uint32

const (
	DTypeUnknown DType = iota
	F32
	F16
	BF16
	I64
)

func (dt DType) String() string {
	switch dt {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	case I64:
		return "i64"
	default:
		return "unknown"
	}
}

// ElemSize returns the storage size of one element in bytes.
// The second return is false for unknown dtypes.
func (dt DType) ElemSize() (int, bool) {
	switch dt {
	case F32:
		return 4, true
	case F16, BF16:
		return 2, true
	case I64:
		return 8, true
	default:
		return 0, false
	}
}

// Floating reports whether dt is one of the floating element dtypes
// kernels dispatch on.
func (dt DType) Floating() bool {
	return dt == F32 || dt == F16 || dt == BF16
}

// bf16Table maps every possible BF16 bit-pattern to float32.
var bf16Table = func() [1 << 16]float32 {
	var tbl [1 << 16]float32
	for i := range tbl {
		tbl[i] = math.Float32frombits(uint32(i) << 16)
	}
	return tbl
}()

// fp16Table maps every possible FP16 bit-pattern to float32.
var fp16Table = func() [1 << 16]float32 {
	var tbl [1 << 16]float32
	for i := range tbl {
		tbl[i] = float16.Frombits(uint16(i)).Float32()
	}
	return tbl
}()

// Float16ToFloat32 decodes an IEEE binary16 bit-pattern.
func Float16ToFloat32(u uint16) float32 {
	return fp16Table[u]
}

// Float32ToFloat16 encodes f as IEEE binary16 with round-to-nearest-even.
func Float32ToFloat16(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

// BFloat16ToFloat32 decodes a bfloat16 bit-pattern.
func BFloat16ToFloat32(u uint16) float32 {
	return bf16Table[u]
}

// Float32ToBFloat16 encodes f as bfloat16 with round-to-nearest-even
// on the truncated 16 bits.
func Float32ToBFloat16(f float32) uint16 {
	u := math.Float32bits(f)
	rnd := uint32(0x7FFF + ((u >> 16) & 1))
	return uint16((u + rnd) >> 16)
}
