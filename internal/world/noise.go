package world

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// NoiseConfig holds the sampling parameters for a NoiseField.
type NoiseConfig struct {
	Octaves     int     `yaml:"octaves"`
	Frequency   float64 `yaml:"frequency"`   // cycles per kilometre at the first octave
	Persistence float64 `yaml:"persistence"` // amplitude falloff per octave
}

// DefaultNoiseConfig returns a gentle two-octave field.
func DefaultNoiseConfig() NoiseConfig {
	return NoiseConfig{
		Octaves:     2,
		Frequency:   0.6,
		Persistence: 0.5,
	}
}

// NoiseField samples normalized multi-octave simplex noise over the plane.
// Nearby points draw similar values, so a freshly generated city has
// districts rather than salt-and-pepper noise.
type NoiseField struct {
	noise opensimplex.Noise
	cfg   NoiseConfig
}

// NewNoiseField creates a field for one metric. Each metric should use its
// own seed so metrics are not perfectly correlated.
func NewNoiseField(seed int64, cfg NoiseConfig) *NoiseField {
	if cfg.Octaves <= 0 {
		cfg.Octaves = 1
	}
	return &NoiseField{
		noise: opensimplex.NewNormalized(seed),
		cfg:   cfg,
	}
}

// At returns a value in [0, 1) for a point in metres.
func (f *NoiseField) At(p Point2D) float64 {
	v := octaveNoise(f.noise, p.X/1000, p.Y/1000, f.cfg.Octaves, f.cfg.Frequency, f.cfg.Persistence)
	if v >= 1 {
		v = 0.999999
	}
	if v < 0 {
		v = 0
	}
	return v
}

// octaveNoise sums octaves of normalized noise and rescales to [0, 1).
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
