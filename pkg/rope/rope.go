// Package rope implements the rotary position embedding operator: an
// in-place, position-dependent 2D rotation of the leading rotary channels of
// each query and key head, in either the NeoX (split-half) or GPT-J
// (interleaved) pairing convention.
package rope

import (
	"errors"
	"fmt"

	"github.com/samcharles93/rotor/pkg/device"
	"github.com/samcharles93/rotor/pkg/tensor"
)

var (
	ErrShapeMismatch    = errors.New("rope: shape mismatch")
	ErrDTypeMismatch    = errors.New("rope: query, key and cos_sin_cache dtypes differ")
	ErrUnsupportedDType = errors.New("rope: unsupported element dtype")
	ErrOddRotDim        = errors.New("rope: rot_dim must be even")
	ErrRotDimTooLarge   = errors.New("rope: rot_dim exceeds head_size")
	ErrPositionRange    = errors.New("rope: position outside cos/sin cache")
	ErrNotContiguous    = errors.New("rope: last dimension must be contiguous")
)

// Apply rotates the first rotDim channels of every query and key head in
// place, where rotDim = cosSinCache.Size(1). positions holds one int64
// position per token; query and key may have any leading shape whose
// flattened length matches, with the head-packed channels in the last
// dimension. cosSinCache row p holds rotDim/2 cosines followed by rotDim/2
// sines for position p.
//
// The rotation is enqueued on the current stream of query's device and Apply
// returns as soon as it is submitted; the mutation is visible after
// Stream.Synchronize. Contract violations are reported synchronously before
// anything is enqueued.
func Apply(positions, query, key *tensor.Tensor, headSize int, cosSinCache *tensor.Tensor, isNeox bool) error {
	if err := validate(positions, query, key, headSize, cosSinCache); err != nil {
		return err
	}

	numTokens := query.Numel() / query.Size(-1)
	rotDim := cosSinCache.Size(1)
	numHeads := query.Size(-1) / headSize
	numKVHeads := key.Size(-1) / headSize

	guard := device.Enter(query.Device())
	defer guard.Release()
	stream := query.Device().Stream()

	plan := planLaunch(numTokens, max(numHeads, numKVHeads)*rotDim/2, query.Device().Cores())

	pos := positions.Int64s()[:numTokens]

	switch query.DType() {
	case tensor.F32:
		args := &kernelArgs[float32]{
			positions: pos, query: query.Float32s(), key: key.Float32s(),
			cache: cosSinCache.Float32s(), rotDim: rotDim,
			queryStride: rowStride(query), keyStride: rowStride(key),
			numHeads: numHeads, numKVHeads: numKVHeads, headSize: headSize, isNeox: isNeox,
		}
		return stream.Submit("rotary_embedding", func() error {
			return launch[float32, f32Conv](stream.Device(), plan, args)
		})
	case tensor.F16:
		args := &kernelArgs[uint16]{
			positions: pos, query: query.Uint16s(), key: key.Uint16s(),
			cache: cosSinCache.Uint16s(), rotDim: rotDim,
			queryStride: rowStride(query), keyStride: rowStride(key),
			numHeads: numHeads, numKVHeads: numKVHeads, headSize: headSize, isNeox: isNeox,
		}
		return stream.Submit("rotary_embedding", func() error {
			return launch[uint16, f16Conv](stream.Device(), plan, args)
		})
	case tensor.BF16:
		args := &kernelArgs[uint16]{
			positions: pos, query: query.Uint16s(), key: key.Uint16s(),
			cache: cosSinCache.Uint16s(), rotDim: rotDim,
			queryStride: rowStride(query), keyStride: rowStride(key),
			numHeads: numHeads, numKVHeads: numKVHeads, headSize: headSize, isNeox: isNeox,
		}
		return stream.Submit("rotary_embedding", func() error {
			return launch[uint16, bf16Conv](stream.Device(), plan, args)
		})
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDType, query.DType())
	}
}

// rowStride is the element stride that advances one token row across the
// head-packed dimension. A rank-1 tensor is a single row.
func rowStride(t *tensor.Tensor) int {
	if t.Rank() < 2 {
		return t.Size(-1)
	}
	return t.Stride(-2)
}

func validate(positions, query, key *tensor.Tensor, headSize int, cosSinCache *tensor.Tensor) error {
	if headSize <= 0 {
		return fmt.Errorf("%w: head_size %d", ErrShapeMismatch, headSize)
	}
	if positions.DType() != tensor.I64 {
		return fmt.Errorf("%w: positions must be i64, got %s", ErrUnsupportedDType, positions.DType())
	}
	if !query.DType().Floating() {
		return fmt.Errorf("%w: %s", ErrUnsupportedDType, query.DType())
	}
	if key.DType() != query.DType() || cosSinCache.DType() != query.DType() {
		return fmt.Errorf("%w: query %s, key %s, cache %s",
			ErrDTypeMismatch, query.DType(), key.DType(), cosSinCache.DType())
	}
	if cosSinCache.Rank() != 2 {
		return fmt.Errorf("%w: cos_sin_cache must be rank 2, got rank %d", ErrShapeMismatch, cosSinCache.Rank())
	}

	rotDim := cosSinCache.Size(1)
	if rotDim%2 != 0 {
		return fmt.Errorf("%w: rot_dim %d", ErrOddRotDim, rotDim)
	}
	if rotDim > headSize {
		return fmt.Errorf("%w: rot_dim %d, head_size %d", ErrRotDimTooLarge, rotDim, headSize)
	}
	if query.Size(-1)%headSize != 0 {
		return fmt.Errorf("%w: query last dim %d not a multiple of head_size %d",
			ErrShapeMismatch, query.Size(-1), headSize)
	}
	if key.Size(-1)%headSize != 0 {
		return fmt.Errorf("%w: key last dim %d not a multiple of head_size %d",
			ErrShapeMismatch, key.Size(-1), headSize)
	}

	numTokens := query.Numel() / query.Size(-1)
	if positions.Numel() != numTokens {
		return fmt.Errorf("%w: %d positions for %d token rows", ErrShapeMismatch, positions.Numel(), numTokens)
	}
	if key.Numel()/key.Size(-1) != numTokens {
		return fmt.Errorf("%w: key has %d token rows, query has %d",
			ErrShapeMismatch, key.Numel()/key.Size(-1), numTokens)
	}

	if positions.Stride(-1) != 1 {
		return fmt.Errorf("%w: positions", ErrNotContiguous)
	}
	for i := 0; i+1 < positions.Rank(); i++ {
		if positions.Stride(i) != positions.Size(i+1)*positions.Stride(i+1) {
			return fmt.Errorf("%w: positions", ErrNotContiguous)
		}
	}
	for _, t := range []*tensor.Tensor{query, key} {
		if t.Stride(-1) != 1 {
			return ErrNotContiguous
		}
		if err := checkFlattenable(t); err != nil {
			return err
		}
	}
	if cosSinCache.Stride(-1) != 1 || cosSinCache.Stride(0) != rotDim {
		return fmt.Errorf("%w: cos_sin_cache rows", ErrNotContiguous)
	}

	// Cheap host-side scan; an out-of-range position would otherwise read
	// past the cache inside the kernel.
	maxPosition := int64(cosSinCache.Size(0))
	for _, p := range positions.Int64s()[:positions.Numel()] {
		if p < 0 || p >= maxPosition {
			return fmt.Errorf("%w: position %d, max_position %d", ErrPositionRange, p, maxPosition)
		}
	}
	return nil
}

// checkFlattenable verifies that token rows live at regular multiples of
// stride(-2), so leading dimensions can be treated as one flat token axis.
func checkFlattenable(t *tensor.Tensor) error {
	for i := 0; i+2 < t.Rank(); i++ {
		if t.Stride(i) != t.Size(i+1)*t.Stride(i+1) {
			return fmt.Errorf("%w: leading dimension %d not flattenable", ErrNotContiguous, i)
		}
	}
	return nil
}
