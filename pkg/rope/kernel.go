package rope

import (
	"github.com/samcharles93/rotor/pkg/device"
	"github.com/samcharles93/rotor/pkg/tensor"
)

// conv converts between the storage lane type E and float32 for the
// multiply-adds. Each dtype gets a zero-size converter so the kernel math is
// written once and specialised at the dispatch site.
type conv[E any] interface {
	To(E) float32
	From(float32) E
}

type f32Conv struct{}

func (f32Conv) To(v float32) float32   { return v }
func (f32Conv) From(v float32) float32 { return v }

type f16Conv struct{}

func (f16Conv) To(v uint16) float32   { return tensor.Float16ToFloat32(v) }
func (f16Conv) From(v float32) uint16 { return tensor.Float32ToFloat16(v) }

type bf16Conv struct{}

func (bf16Conv) To(v uint16) float32   { return tensor.BFloat16ToFloat32(v) }
func (bf16Conv) From(v float32) uint16 { return tensor.Float32ToBFloat16(v) }

// kernelArgs carries the flattened operands of one launch. Slices are lane
// views over the tensors' storage; strides are in elements.
type kernelArgs[E any] struct {
	positions []int64
	query     []E
	key       []E
	cache     []E // [maxPosition, rotDim], cos row half then sin row half

	rotDim      int
	queryStride int
	keyStride   int
	numHeads    int
	numKVHeads  int
	headSize    int
	isNeox      bool
}

// rotatePair rewrites one channel pair of head slice x in place. Both lanes
// are staged in locals before either write, which is what makes the in-place
// rewrite safe.
func rotatePair[E any, C conv[E]](x []E, cosRow, sinRow []E, pair int, isNeox bool) {
	var cv C
	var xi, yi int
	if isNeox {
		xi = pair
		yi = pair + len(cosRow)
	} else {
		xi = 2 * pair
		yi = 2*pair + 1
	}
	c := cv.To(cosRow[pair])
	s := cv.To(sinRow[pair])
	x0 := cv.To(x[xi])
	y0 := cv.To(x[yi])
	x[xi] = cv.From(x0*c - y0*s)
	x[yi] = cv.From(y0*c + x0*s)
}

// rotateToken applies the rotation to every head of query and key for one
// token. Pair indices walk the flattened (head, pair) space in GroupWidth
// steps, the same order a SIMT block would.
func rotateToken[E any, C conv[E]](a *kernelArgs[E], p LaunchPlan, t int) {
	pos := int(a.positions[t])
	embedDim := a.rotDim / 2
	cacheRow := a.cache[pos*a.rotDim : (pos+1)*a.rotDim]
	cosRow := cacheRow[:embedDim]
	sinRow := cacheRow[embedDim:]

	nq := a.numHeads * embedDim
	for base := 0; base < nq; base += p.GroupWidth {
		end := min(base+p.GroupWidth, nq)
		for i := base; i < end; i++ {
			head := i / embedDim
			off := t*a.queryStride + head*a.headSize
			rotatePair[E, C](a.query[off:off+a.headSize], cosRow, sinRow, i%embedDim, a.isNeox)
		}
	}

	nk := a.numKVHeads * embedDim
	for base := 0; base < nk; base += p.GroupWidth {
		end := min(base+p.GroupWidth, nk)
		for i := base; i < end; i++ {
			head := i / embedDim
			off := t*a.keyStride + head*a.headSize
			rotatePair[E, C](a.key[off:off+a.headSize], cosRow, sinRow, i%embedDim, a.isNeox)
		}
	}
}

// launch fans the token range of each plan group out over the device cores
// and blocks until the launch completes. Groups write disjoint rows, so the
// fabric needs no synchronization beyond the final join.
func launch[E any, C conv[E]](dev *device.Device, p LaunchPlan, a *kernelArgs[E]) error {
	n := len(a.positions)
	return dev.Run(p.Groups, func(g int) {
		lo, hi := p.tokenRange(g, n)
		for t := lo; t < hi; t++ {
			rotateToken[E, C](a, p, t)
		}
	})
}
