// Package bench builds randomized rotary workloads and drives the operator
// through the full submit/synchronize path, for both throughput measurement
// and verification against the reference implementation.
package bench

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/samcharles93/rotor/pkg/device"
	"github.com/samcharles93/rotor/pkg/rope"
	"github.com/samcharles93/rotor/pkg/tensor"
)

// Case is one fully-specified run: a shape, a dtype, and a pairing mode.
type Case struct {
	Shape Shape
	DType tensor.DType
	NeoX  bool
}

// Cases expands the config matrix.
func (c Config) Cases() ([]Case, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var out []Case
	for _, s := range c.Shapes {
		for _, name := range c.DTypes {
			dt, err := ParseDType(name)
			if err != nil {
				return nil, err
			}
			for _, m := range c.Modes {
				out = append(out, Case{Shape: s, DType: dt, NeoX: m == "neox"})
			}
		}
	}
	return out, nil
}

func (cs Case) mode() string {
	if cs.NeoX {
		return "neox"
	}
	return "gptj"
}

// workload holds the operand tensors of one case.
type workload struct {
	positions *tensor.Tensor
	query     *tensor.Tensor
	key       *tensor.Tensor
	cache     *tensor.Tensor
}

func buildWorkload(dev *device.Device, cs Case, maxPosition int, base float64, rng *rand.Rand) workload {
	s := cs.Shape
	pos := make([]int64, s.NumTokens)
	for i := range pos {
		pos[i] = rng.Int63n(int64(maxPosition))
	}

	q := tensor.New(dev, cs.DType, s.NumTokens, s.NumHeads*s.HeadSize)
	k := tensor.New(dev, cs.DType, s.NumTokens, s.NumKVHeads*s.HeadSize)
	fillUniform(q, rng)
	fillUniform(k, rng)

	return workload{
		positions: tensor.FromInt64(dev, pos, s.NumTokens),
		query:     q,
		key:       k,
		cache:     CosSinCache(dev, cs.DType, maxPosition, s.RotDim, base),
	}
}

func fillUniform(t *tensor.Tensor, rng *rand.Rand) {
	for i := 0; i < t.Numel(); i++ {
		t.SetFloatAt(i, rng.Float32()*2-1)
	}
}

// CosSinCache precomputes the trig table callers of the operator normally
// supply: row p holds rotDim/2 cosines then rotDim/2 sines of p*base^(-2i/rotDim).
func CosSinCache(dev *device.Device, dt tensor.DType, maxPosition, rotDim int, base float64) *tensor.Tensor {
	d := rotDim / 2
	cache := tensor.New(dev, dt, maxPosition, rotDim)
	for p := 0; p < maxPosition; p++ {
		for i := 0; i < d; i++ {
			theta := float64(p) * math.Pow(base, -2*float64(i)/float64(rotDim))
			cache.SetFloatAt(p*rotDim+i, float32(math.Cos(theta)))
			cache.SetFloatAt(p*rotDim+d+i, float32(math.Sin(theta)))
		}
	}
	return cache
}

// Result is the measured outcome of one case.
type Result struct {
	Shape     string  `json:"shape"`
	DType     string  `json:"dtype"`
	Mode      string  `json:"mode"`
	Iters     int     `json:"iters"`
	Elapsed   float64 `json:"elapsed_seconds"`
	TokensSec float64 `json:"tokens_per_second"`
	BytesSec  float64 `json:"bytes_per_second"`
}

// rotaryBytes is the memory traffic of one call: the rotary slice of every
// query and key head is read and written once.
func rotaryBytes(cs Case) int64 {
	elem, _ := cs.DType.ElemSize()
	s := cs.Shape
	perToken := (s.NumHeads + s.NumKVHeads) * s.RotDim * elem
	return int64(s.NumTokens) * int64(perToken) * 2
}

// Run measures every case in the config on dev. Progress is drawn to w when
// it is non-nil.
func Run(dev *device.Device, cfg Config, w io.Writer) ([]Result, error) {
	cases, err := cfg.Cases()
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	var bar *progressbar.ProgressBar
	if w != nil {
		bar = progressbar.NewOptions(len(cases)*cfg.Iters,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("bench"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	results := make([]Result, 0, len(cases))
	for _, cs := range cases {
		wl := buildWorkload(dev, cs, cfg.MaxPosition, cfg.RopeBase, rng)
		stream := dev.Stream()

		for i := 0; i < cfg.Warmup; i++ {
			if err := applyOnce(wl, cs); err != nil {
				return nil, err
			}
		}
		if err := stream.Synchronize(); err != nil {
			return nil, err
		}

		start := time.Now()
		for i := 0; i < cfg.Iters; i++ {
			if err := applyOnce(wl, cs); err != nil {
				return nil, err
			}
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if err := stream.Synchronize(); err != nil {
			return nil, err
		}
		elapsed := time.Since(start)

		secs := elapsed.Seconds()
		if secs <= 0 {
			secs = math.SmallestNonzeroFloat64
		}
		results = append(results, Result{
			Shape:     cs.Shape.String(),
			DType:     cs.DType.String(),
			Mode:      cs.mode(),
			Iters:     cfg.Iters,
			Elapsed:   secs,
			TokensSec: float64(cs.Shape.NumTokens) * float64(cfg.Iters) / secs,
			BytesSec:  float64(rotaryBytes(cs)) * float64(cfg.Iters) / secs,
		})
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return results, nil
}

func applyOnce(wl workload, cs Case) error {
	if err := rope.Apply(wl.positions, wl.query, wl.key, cs.Shape.HeadSize, wl.cache, cs.NeoX); err != nil {
		return fmt.Errorf("bench: %s %s %s: %w", cs.Shape, cs.DType, cs.mode(), err)
	}
	return nil
}
