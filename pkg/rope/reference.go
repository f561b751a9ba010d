package rope

import "github.com/samcharles93/rotor/pkg/tensor"

// Reference applies the same rotation as Apply but synchronously on the
// host, one element at a time through the dtype-converting accessors. It
// shares no code with the kernel and exists as the oracle the verifier and
// the property tests compare against.
func Reference(positions, query, key *tensor.Tensor, headSize int, cosSinCache *tensor.Tensor, isNeox bool) error {
	if err := validate(positions, query, key, headSize, cosSinCache); err != nil {
		return err
	}

	numTokens := query.Numel() / query.Size(-1)
	rotDim := cosSinCache.Size(1)
	d := rotDim / 2
	pos := positions.Int64s()[:numTokens]

	rotate := func(t *tensor.Tensor, heads, stride int, tok int, p int64) {
		for h := 0; h < heads; h++ {
			base := tok*stride + h*headSize
			for i := 0; i < d; i++ {
				c := cosSinCache.FloatAt(int(p)*rotDim + i)
				s := cosSinCache.FloatAt(int(p)*rotDim + d + i)
				var xi, yi int
				if isNeox {
					xi, yi = base+i, base+i+d
				} else {
					xi, yi = base+2*i, base+2*i+1
				}
				x := t.FloatAt(xi)
				y := t.FloatAt(yi)
				t.SetFloatAt(xi, x*c-y*s)
				t.SetFloatAt(yi, y*c+x*s)
			}
		}
	}

	numHeads := query.Size(-1) / headSize
	numKVHeads := key.Size(-1) / headSize
	qStride := rowStride(query)
	kStride := rowStride(key)
	for tok := 0; tok < numTokens; tok++ {
		rotate(query, numHeads, qStride, tok, pos[tok])
		rotate(key, numKVHeads, kStride, tok, pos[tok])
	}
	return nil
}
