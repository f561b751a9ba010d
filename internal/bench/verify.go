package bench

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/rotor/pkg/device"
	"github.com/samcharles93/rotor/pkg/rope"
	"github.com/samcharles93/rotor/pkg/tensor"
)

// tolerance is the allowed elementwise deviation between the operator and
// the reference per dtype. The two paths round identically, so these mostly
// absorb order-of-evaluation differences.
func tolerance(dt tensor.DType) float64 {
	switch dt {
	case tensor.F32:
		return 1e-5
	default:
		return 1e-2
	}
}

// Verify runs every case in the config through both the asynchronous
// operator and the synchronous reference and compares the mutated query and
// key elementwise. It returns the number of cases checked.
func Verify(dev *device.Device, cfg Config) (int, error) {
	cases, err := cfg.Cases()
	if err != nil {
		return 0, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	for _, cs := range cases {
		wl := buildWorkload(dev, cs, cfg.MaxPosition, cfg.RopeBase, rng)
		refQ := wl.query.Clone()
		refK := wl.key.Clone()

		if err := rope.Apply(wl.positions, wl.query, wl.key, cs.Shape.HeadSize, wl.cache, cs.NeoX); err != nil {
			return 0, fmt.Errorf("bench: verify %s %s %s: %w", cs.Shape, cs.DType, cs.mode(), err)
		}
		if err := dev.Stream().Synchronize(); err != nil {
			return 0, fmt.Errorf("bench: verify %s %s %s: %w", cs.Shape, cs.DType, cs.mode(), err)
		}
		if err := rope.Reference(wl.positions, refQ, refK, cs.Shape.HeadSize, wl.cache, cs.NeoX); err != nil {
			return 0, fmt.Errorf("bench: verify reference %s %s %s: %w", cs.Shape, cs.DType, cs.mode(), err)
		}

		if err := compare("query", wl.query, refQ, cs); err != nil {
			return 0, err
		}
		if err := compare("key", wl.key, refK, cs); err != nil {
			return 0, err
		}
	}
	return len(cases), nil
}

func compare(name string, got, want *tensor.Tensor, cs Case) error {
	tol := tolerance(cs.DType)
	for i := 0; i < got.Numel(); i++ {
		g := float64(got.FloatAt(i))
		w := float64(want.FloatAt(i))
		if math.Abs(g-w) > tol {
			return fmt.Errorf("bench: verify %s %s %s: %s[%d] = %g, reference %g",
				cs.Shape, cs.DType, cs.mode(), name, i, g, w)
		}
	}
	return nil
}
