package bench

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/rotor/pkg/tensor"
)

// Shape is one benchmarked operand geometry.
type Shape struct {
	NumTokens  int `yaml:"num_tokens"`
	NumHeads   int `yaml:"num_heads"`
	NumKVHeads int `yaml:"num_kv_heads"`
	HeadSize   int `yaml:"head_size"`
	RotDim     int `yaml:"rot_dim"`
}

func (s Shape) String() string {
	return fmt.Sprintf("n%d_h%d_kv%d_hs%d_rot%d", s.NumTokens, s.NumHeads, s.NumKVHeads, s.HeadSize, s.RotDim)
}

// Config drives the bench and verify sweeps.
type Config struct {
	Shapes      []Shape  `yaml:"shapes"`
	DTypes      []string `yaml:"dtypes"`
	Modes       []string `yaml:"modes"` // "neox", "gptj"
	Iters       int      `yaml:"iters"`
	Warmup      int      `yaml:"warmup"`
	MaxPosition int      `yaml:"max_position"`
	RopeBase    float64  `yaml:"rope_base"`
	Seed        int64    `yaml:"seed"`
}

// DefaultConfig covers the common decode and prefill geometries.
func DefaultConfig() Config {
	return Config{
		Shapes: []Shape{
			{NumTokens: 1, NumHeads: 32, NumKVHeads: 8, HeadSize: 128, RotDim: 128},
			{NumTokens: 256, NumHeads: 32, NumKVHeads: 8, HeadSize: 128, RotDim: 128},
			{NumTokens: 4096, NumHeads: 32, NumKVHeads: 8, HeadSize: 128, RotDim: 128},
			{NumTokens: 4096, NumHeads: 16, NumKVHeads: 16, HeadSize: 64, RotDim: 32},
		},
		DTypes:      []string{"f32", "f16", "bf16"},
		Modes:       []string{"neox", "gptj"},
		Iters:       50,
		Warmup:      5,
		MaxPosition: 8192,
		RopeBase:    10000,
		Seed:        1,
	}
}

// LoadConfig reads a YAML config file, filling unset fields from the
// defaults. A missing path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("bench: read config: %w", err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("bench: parse config: %w", err)
	}
	if len(file.Shapes) > 0 {
		cfg.Shapes = file.Shapes
	}
	if len(file.DTypes) > 0 {
		cfg.DTypes = file.DTypes
	}
	if len(file.Modes) > 0 {
		cfg.Modes = file.Modes
	}
	if file.Iters > 0 {
		cfg.Iters = file.Iters
	}
	if file.Warmup > 0 {
		cfg.Warmup = file.Warmup
	}
	if file.MaxPosition > 0 {
		cfg.MaxPosition = file.MaxPosition
	}
	if file.RopeBase > 0 {
		cfg.RopeBase = file.RopeBase
	}
	if file.Seed != 0 {
		cfg.Seed = file.Seed
	}
	return cfg, nil
}

// Validate rejects configs the sweeps cannot run.
func (c Config) Validate() error {
	if len(c.Shapes) == 0 {
		return fmt.Errorf("bench: no shapes configured")
	}
	for _, s := range c.Shapes {
		if s.NumTokens < 1 || s.NumHeads < 1 || s.NumKVHeads < 1 || s.HeadSize < 1 {
			return fmt.Errorf("bench: invalid shape %s", s)
		}
		if s.RotDim < 2 || s.RotDim%2 != 0 || s.RotDim > s.HeadSize {
			return fmt.Errorf("bench: invalid rot_dim in shape %s", s)
		}
		if s.NumKVHeads > s.NumHeads {
			return fmt.Errorf("bench: num_kv_heads exceeds num_heads in shape %s", s)
		}
	}
	for _, name := range c.DTypes {
		if _, err := ParseDType(name); err != nil {
			return err
		}
	}
	for _, m := range c.Modes {
		if m != "neox" && m != "gptj" {
			return fmt.Errorf("bench: unknown mode %q (expected neox or gptj)", m)
		}
	}
	return nil
}

// ParseDType maps a config dtype name to the tensor dtype.
func ParseDType(name string) (tensor.DType, error) {
	switch name {
	case "f32", "float32":
		return tensor.F32, nil
	case "f16", "float16":
		return tensor.F16, nil
	case "bf16", "bfloat16":
		return tensor.BF16, nil
	default:
		return tensor.DTypeUnknown, fmt.Errorf("bench: unknown dtype %q", name)
	}
}
