package rope

import (
	"math"
	"math/rand"
	"testing"

	"github.com/samcharles93/rotor/pkg/device"
	"github.com/samcharles93/rotor/pkg/tensor"
)

// testCosSinCache builds a cache from the standard base-10000 frequencies:
// row p holds rotDim/2 cosines then rotDim/2 sines.
func testCosSinCache(dev *device.Device, dt tensor.DType, maxPosition, rotDim int) *tensor.Tensor {
	d := rotDim / 2
	cache := tensor.New(dev, dt, maxPosition, rotDim)
	for p := 0; p < maxPosition; p++ {
		for i := 0; i < d; i++ {
			theta := float64(p) * math.Pow(10000, -2*float64(i)/float64(rotDim))
			cache.SetFloatAt(p*rotDim+i, float32(math.Cos(theta)))
			cache.SetFloatAt(p*rotDim+d+i, float32(math.Sin(theta)))
		}
	}
	return cache
}

func randomTensor(dev *device.Device, dt tensor.DType, rng *rand.Rand, shape ...int) *tensor.Tensor {
	t := tensor.New(dev, dt, shape...)
	for i := 0; i < t.Numel(); i++ {
		t.SetFloatAt(i, rng.Float32()*2-1)
	}
	return t
}

func TestPairNormPreserved(t *testing.T) {
	dev := testDevice()
	rng := rand.New(rand.NewSource(7))
	const (
		numTokens = 17
		numHeads  = 4
		headSize  = 16
		rotDim    = 12
	)
	cache := testCosSinCache(dev, tensor.F32, 64, rotDim)

	pos := make([]int64, numTokens)
	for i := range pos {
		pos[i] = rng.Int63n(64)
	}
	positions := tensor.FromInt64(dev, pos, numTokens)
	q := randomTensor(dev, tensor.F32, rng, numTokens, numHeads*headSize)
	k := randomTensor(dev, tensor.F32, rng, numTokens, numHeads*headSize)
	qIn := q.Clone()

	applySync(t, positions, q, k, headSize, cache, true)

	d := rotDim / 2
	for tok := 0; tok < numTokens; tok++ {
		for h := 0; h < numHeads; h++ {
			base := tok*numHeads*headSize + h*headSize
			for i := 0; i < d; i++ {
				before := math.Hypot(float64(qIn.FloatAt(base+i)), float64(qIn.FloatAt(base+i+d)))
				after := math.Hypot(float64(q.FloatAt(base+i)), float64(q.FloatAt(base+i+d)))
				if math.Abs(before-after) > f32Tol {
					t.Fatalf("tok %d head %d pair %d: norm %v became %v", tok, h, i, before, after)
				}
			}
			for c := rotDim; c < headSize; c++ {
				if q.FloatAt(base+c) != qIn.FloatAt(base+c) {
					t.Fatalf("tok %d head %d channel %d: tail modified", tok, h, c)
				}
			}
		}
	}
}

// The permutation mapping NeoX pairing (i, i+d) onto GPT-J pairing
// (2i, 2i+1) commutes with the rotation.
func TestModeEquivalenceUnderPermutation(t *testing.T) {
	dev := testDevice()
	rng := rand.New(rand.NewSource(11))
	const (
		numTokens = 5
		headSize  = 8
		rotDim    = 8
	)
	d := rotDim / 2
	cache := testCosSinCache(dev, tensor.F32, 32, rotDim)

	perm := func(src *tensor.Tensor) *tensor.Tensor {
		out := tensor.New(dev, tensor.F32, numTokens, headSize)
		for tok := 0; tok < numTokens; tok++ {
			for i := 0; i < d; i++ {
				out.SetFloatAt(tok*headSize+2*i, src.FloatAt(tok*headSize+i))
				out.SetFloatAt(tok*headSize+2*i+1, src.FloatAt(tok*headSize+i+d))
			}
		}
		return out
	}

	pos := []int64{0, 3, 9, 1, 17}
	positions := tensor.FromInt64(dev, pos, numTokens)

	qNeox := randomTensor(dev, tensor.F32, rng, numTokens, headSize)
	kNeox := randomTensor(dev, tensor.F32, rng, numTokens, headSize)
	qGptj := perm(qNeox)
	kGptj := perm(kNeox)

	applySync(t, positions, qNeox, kNeox, headSize, cache, true)
	applySync(t, positions, qGptj, kGptj, headSize, cache, false)

	permNeox := perm(qNeox)
	for i := 0; i < numTokens*headSize; i++ {
		if diff := math.Abs(float64(permNeox.FloatAt(i) - qGptj.FloatAt(i))); diff > f32Tol {
			t.Fatalf("elem %d: permuted neox %v, gptj %v", i, permNeox.FloatAt(i), qGptj.FloatAt(i))
		}
	}
}

// Rotating q and k by positions m and n leaves their rotary dot-product a
// function of m-n only.
func TestDotProductRelativePosition(t *testing.T) {
	dev := testDevice()
	rng := rand.New(rand.NewSource(13))
	const rotDim = 16
	cache := testCosSinCache(dev, tensor.F32, 64, rotDim)

	qData := make([]float32, rotDim)
	kData := make([]float32, rotDim)
	for i := range qData {
		qData[i] = rng.Float32()*2 - 1
		kData[i] = rng.Float32()*2 - 1
	}

	dotAt := func(m, n int64) float64 {
		q := tensor.FromFloat32(dev, append([]float32(nil), qData...), 1, rotDim)
		k := tensor.FromFloat32(dev, append([]float32(nil), kData...), 1, rotDim)
		dummyQ := tensor.FromFloat32(dev, append([]float32(nil), qData...), 1, rotDim)
		dummyK := tensor.FromFloat32(dev, append([]float32(nil), kData...), 1, rotDim)

		applySync(t, tensor.FromInt64(dev, []int64{m}, 1), q, dummyK, rotDim, cache, true)
		applySync(t, tensor.FromInt64(dev, []int64{n}, 1), dummyQ, k, rotDim, cache, true)

		var dot float64
		for i := 0; i < rotDim; i++ {
			dot += float64(q.FloatAt(i)) * float64(k.FloatAt(i))
		}
		return dot
	}

	// Same position: dot product unchanged.
	var plain float64
	for i := range qData {
		plain += float64(qData[i]) * float64(kData[i])
	}
	if diff := math.Abs(dotAt(9, 9) - plain); diff > 1e-4 {
		t.Fatalf("same-position dot drifted by %v", diff)
	}

	// Equal offsets: equal dot products.
	if a, b := dotAt(5, 3), dotAt(7, 5); math.Abs(a-b) > 1e-4 {
		t.Fatalf("offset 2 dot products differ: %v vs %v", a, b)
	}
	if a, b := dotAt(3, 10), dotAt(20, 27); math.Abs(a-b) > 1e-4 {
		t.Fatalf("offset -7 dot products differ: %v vs %v", a, b)
	}
}

func TestStrideIndependence(t *testing.T) {
	dev := testDevice()
	rng := rand.New(rand.NewSource(17))
	const (
		numTokens = 6
		numHeads  = 2
		headSize  = 8
		rotDim    = 8
		rowWidth  = numHeads * headSize
		pad       = 5
	)
	cache := testCosSinCache(dev, tensor.F32, 32, rotDim)
	pos := make([]int64, numTokens)
	for i := range pos {
		pos[i] = rng.Int63n(32)
	}

	qDense := randomTensor(dev, tensor.F32, rng, numTokens, rowWidth)
	kDense := randomTensor(dev, tensor.F32, rng, numTokens, rowWidth)

	// Same rows living in padded storage: stride(-2) > size(-1).
	parentQ := tensor.New(dev, tensor.F32, numTokens, rowWidth+pad)
	parentK := tensor.New(dev, tensor.F32, numTokens, rowWidth+pad)
	qView := parentQ.AsStrided([]int{numTokens, rowWidth}, []int{rowWidth + pad, 1}, 0)
	kView := parentK.AsStrided([]int{numTokens, rowWidth}, []int{rowWidth + pad, 1}, 0)
	for tok := 0; tok < numTokens; tok++ {
		for c := 0; c < rowWidth; c++ {
			qView.SetFloatAt(tok*(rowWidth+pad)+c, qDense.FloatAt(tok*rowWidth+c))
			kView.SetFloatAt(tok*(rowWidth+pad)+c, kDense.FloatAt(tok*rowWidth+c))
		}
	}

	positions := tensor.FromInt64(dev, pos, numTokens)
	applySync(t, positions, qDense, kDense, headSize, cache, true)
	applySync(t, positions, qView, kView, headSize, cache, true)

	for tok := 0; tok < numTokens; tok++ {
		for c := 0; c < rowWidth; c++ {
			dense := qDense.FloatAt(tok*rowWidth + c)
			strided := qView.FloatAt(tok*(rowWidth+pad) + c)
			if dense != strided {
				t.Fatalf("tok %d col %d: dense %v strided %v", tok, c, dense, strided)
			}
		}
		// Padding lanes stay untouched.
		for p := 0; p < pad; p++ {
			if v := parentQ.FloatAt(tok*(rowWidth+pad) + rowWidth + p); v != 0 {
				t.Fatalf("tok %d pad %d written: %v", tok, p, v)
			}
		}
	}
}

func TestMatchesReference(t *testing.T) {
	dev := testDevice()
	rng := rand.New(rand.NewSource(19))
	shapes := []struct {
		numTokens, numHeads, numKVHeads, headSize, rotDim int
	}{
		{1, 1, 1, 4, 4},
		{3, 2, 1, 8, 8},
		{16, 8, 2, 32, 16},
		{33, 4, 4, 64, 64},
	}
	for _, sh := range shapes {
		for _, isNeox := range []bool{true, false} {
			cache := testCosSinCache(dev, tensor.F32, 128, sh.rotDim)
			pos := make([]int64, sh.numTokens)
			for i := range pos {
				pos[i] = rng.Int63n(128)
			}
			positions := tensor.FromInt64(dev, pos, sh.numTokens)
			q := randomTensor(dev, tensor.F32, rng, sh.numTokens, sh.numHeads*sh.headSize)
			k := randomTensor(dev, tensor.F32, rng, sh.numTokens, sh.numKVHeads*sh.headSize)
			refQ := q.Clone()
			refK := k.Clone()

			applySync(t, positions, q, k, sh.headSize, cache, isNeox)
			if err := Reference(positions, refQ, refK, sh.headSize, cache, isNeox); err != nil {
				t.Fatalf("reference: %v", err)
			}

			for i := 0; i < q.Numel(); i++ {
				if diff := math.Abs(float64(q.FloatAt(i) - refQ.FloatAt(i))); diff > f32Tol {
					t.Fatalf("shape %+v neox=%v: q[%d] kernel %v reference %v",
						sh, isNeox, i, q.FloatAt(i), refQ.FloatAt(i))
				}
			}
			for i := 0; i < k.Numel(); i++ {
				if diff := math.Abs(float64(k.FloatAt(i) - refK.FloatAt(i))); diff > f32Tol {
					t.Fatalf("shape %+v neox=%v: k[%d] kernel %v reference %v",
						sh, isNeox, i, k.FloatAt(i), refK.FloatAt(i))
				}
			}
		}
	}
}

func TestDTypeDispatchConsistent(t *testing.T) {
	dev := testDevice()
	rng := rand.New(rand.NewSource(23))
	const (
		numTokens = 9
		numHeads  = 2
		headSize  = 16
		rotDim    = 16
	)

	pos := make([]int64, numTokens)
	for i := range pos {
		pos[i] = rng.Int63n(64)
	}
	base := make([]float32, numTokens*numHeads*headSize)
	for i := range base {
		base[i] = rng.Float32()*2 - 1
	}

	run := func(dt tensor.DType) *tensor.Tensor {
		q := tensor.New(dev, dt, numTokens, numHeads*headSize)
		k := tensor.New(dev, dt, numTokens, numHeads*headSize)
		for i, v := range base {
			q.SetFloatAt(i, v)
			k.SetFloatAt(i, v)
		}
		cache := testCosSinCache(dev, dt, 64, rotDim)
		positions := tensor.FromInt64(dev, append([]int64(nil), pos...), numTokens)
		applySync(t, positions, q, k, headSize, cache, true)
		return q
	}

	ref := run(tensor.F32)
	tols := map[tensor.DType]float64{tensor.F16: 5e-3, tensor.BF16: 5e-2}
	for dt, tol := range tols {
		got := run(dt)
		for i := 0; i < got.Numel(); i++ {
			diff := math.Abs(float64(got.FloatAt(i) - ref.FloatAt(i)))
			if diff > tol {
				t.Fatalf("%s elem %d: got %v, f32 %v (diff %v)", dt, i, got.FloatAt(i), ref.FloatAt(i), diff)
			}
		}
	}
}
