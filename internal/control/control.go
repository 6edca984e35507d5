package control

import (
	"fmt"
	"math/rand"
)

// Control is one control vector, e.g. [steer, velocity] for a ground vehicle.
type Control []float64

// Sequence is an ordered control sequence covering a planning horizon.
type Sequence []Control

// Bounds holds per-dimension [lower, upper] limits for a control vector.
type Bounds struct {
	Lower []float64
	Upper []float64
}

func (b Bounds) Dim() int {
	return len(b.Lower)
}

func (b Bounds) Validate() error {
	if len(b.Lower) == 0 {
		return fmt.Errorf("control bounds require at least one dimension")
	}
	if len(b.Lower) != len(b.Upper) {
		return fmt.Errorf("control bounds dimension mismatch: lower=%d upper=%d", len(b.Lower), len(b.Upper))
	}
	for i := range b.Lower {
		if b.Lower[i] > b.Upper[i] {
			return fmt.Errorf("control bounds inverted at dimension %d: [%g, %g]", i, b.Lower[i], b.Upper[i])
		}
	}
	return nil
}

// Clip returns a copy of u with every dimension forced into the bounds.
func (b Bounds) Clip(u Control) Control {
	out := make(Control, len(u))
	for i := range u {
		v := u[i]
		if i < len(b.Lower) && v < b.Lower[i] {
			v = b.Lower[i]
		}
		if i < len(b.Upper) && v > b.Upper[i] {
			v = b.Upper[i]
		}
		out[i] = v
	}
	return out
}

func (b Bounds) Contains(u Control) bool {
	if len(u) != b.Dim() {
		return false
	}
	for i := range u {
		if u[i] < b.Lower[i] || u[i] > b.Upper[i] {
			return false
		}
	}
	return true
}

// SampleUniform draws one control vector uniformly within the bounds.
func (b Bounds) SampleUniform(rng *rand.Rand) Control {
	out := make(Control, b.Dim())
	for i := range out {
		out[i] = b.Lower[i] + rng.Float64()*(b.Upper[i]-b.Lower[i])
	}
	return out
}

// SampleSequence draws a full horizon of independent uniform control vectors.
func (b Bounds) SampleSequence(rng *rand.Rand, horizon int) Sequence {
	seq := make(Sequence, horizon)
	for t := range seq {
		seq[t] = b.SampleUniform(rng)
	}
	return seq
}

func (u Control) Clone() Control {
	return append(Control(nil), u...)
}

func (s Sequence) Clone() Sequence {
	out := make(Sequence, len(s))
	for t := range s {
		out[t] = s[t].Clone()
	}
	return out
}

// Within reports whether every control vector of the sequence lies inside b.
func (s Sequence) Within(b Bounds) bool {
	for _, u := range s {
		if !b.Contains(u) {
			return false
		}
	}
	return true
}
