// Package similarity converts raw cosine values returned by the vector index
// into a bounded percentage.
//
// Indexes disagree on what they return for a cosine metric: some return a
// similarity score in [-1, 1] (higher is better), others a distance in [0, 2]
// (lower is better). The convention is a deployment setting and must match the
// index actually in use; the two formulas are not interchangeable.
package similarity

import (
	"fmt"
	"math"
	"strings"
)

// Convention names the meaning of a raw value.
type Convention string

const (
	// Score: raw in [-1, 1], higher is better.
	Score Convention = "score"
	// Distance: raw in [0, 2], lower is better.
	Distance Convention = "distance"
)

// ParseConvention parses a configuration value.
func ParseConvention(s string) (Convention, error) {
	switch Convention(strings.ToLower(strings.TrimSpace(s))) {
	case Score:
		return Score, nil
	case Distance:
		return Distance, nil
	default:
		return "", fmt.Errorf("similarity: unknown convention %q (want score or distance)", s)
	}
}

// Sigmoid defaults.
const (
	DefaultAlpha = 5.0
	DefaultBeta  = 0.5
)

// Normalizer maps raw values to [0, 100] rounded to two decimals.
type Normalizer struct {
	Convention Convention
	// Sigmoid rescales the [0, 1] base similarity to push weak matches toward 0
	// and strong matches toward 100.
	Sigmoid bool
	Alpha   float64
	Beta    float64
}

// New returns a linear Normalizer for c.
func New(c Convention) Normalizer {
	return Normalizer{Convention: c, Alpha: DefaultAlpha, Beta: DefaultBeta}
}

// WithSigmoid returns a copy of n with sigmoid rescaling enabled.
func (n Normalizer) WithSigmoid(alpha, beta float64) Normalizer {
	n.Sigmoid = true
	n.Alpha = alpha
	n.Beta = beta
	return n
}

// Base maps raw to the [0, 1] similarity before percenting. Results outside
// the nominal input range are not clamped here.
func (n Normalizer) Base(raw float64) float64 {
	if n.Convention == Distance {
		return 1 - raw/2
	}
	return (raw + 1) / 2
}

// Normalize returns the similarity percentage for raw. NaN maps to 0.
func (n Normalizer) Normalize(raw float64) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	base := n.Base(raw)
	if n.Sigmoid {
		base = sigmoid(n.alpha() * (base - n.Beta))
	}
	return clamp(round2(base * 100))
}

func (n Normalizer) alpha() float64 {
	if n.Alpha == 0 {
		return DefaultAlpha
	}
	return n.Alpha
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
