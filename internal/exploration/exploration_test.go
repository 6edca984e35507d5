package exploration

import (
	"math"
	"math/rand"
	"testing"

	"probcoll/internal/control"
)

func testBounds() control.Bounds {
	return control.Bounds{Lower: []float64{-1, 0}, Upper: []float64{1, 2}}
}

func TestNewPolicyValidation(t *testing.T) {
	if _, err := NewPolicy(Config{}); err == nil {
		t.Fatal("expected error for missing bounds")
	}
	if _, err := NewPolicy(Config{Bounds: testBounds(), EpsilonBounds: [2]float64{-0.1, 0.5}}); err == nil {
		t.Fatal("expected error for epsilon below 0")
	}
	if _, err := NewPolicy(Config{Bounds: testBounds(), Noise: NoiseGaussian}); err == nil {
		t.Fatal("expected error for missing gaussian std")
	}
	if _, err := NewPolicy(Config{Bounds: testBounds(), Noise: NoiseOU}); err == nil {
		t.Fatal("expected error for missing OU parameters")
	}
	if _, err := NewPolicy(Config{Bounds: testBounds(), Noise: "perlin"}); err == nil {
		t.Fatal("expected error for unknown noise type")
	}
	mismatched := Config{
		Bounds:            testBounds(),
		ExplorationBounds: control.Bounds{Lower: []float64{0}, Upper: []float64{1}},
	}
	if _, err := NewPolicy(mismatched); err == nil {
		t.Fatal("expected error for exploration bounds dimension mismatch")
	}
}

func TestEpsilonInterpolatesOverProgress(t *testing.T) {
	p, err := NewPolicy(Config{Bounds: testBounds(), EpsilonBounds: [2]float64{0.5, 0.1}})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	if got := p.Epsilon(0); got != 0.5 {
		t.Fatalf("epsilon at start: %g", got)
	}
	if got := p.Epsilon(1); math.Abs(got-0.1) > 1e-12 {
		t.Fatalf("epsilon at end: %g", got)
	}
	if got := p.Epsilon(0.5); math.Abs(got-0.3) > 1e-12 {
		t.Fatalf("epsilon at midpoint: %g", got)
	}
	if got := p.Epsilon(-5); got != 0.5 {
		t.Fatalf("epsilon below range not clamped: %g", got)
	}
	if got := p.Epsilon(5); math.Abs(got-0.1) > 1e-12 {
		t.Fatalf("epsilon above range not clamped: %g", got)
	}
}

func TestZeroNoiseZeroEpsilonIsIdentity(t *testing.T) {
	p, err := NewPolicy(Config{Bounds: testBounds()})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	rng := rand.New(rand.NewSource(1))
	planned := control.Control{0.5, 1.5}
	for i := 0; i < 50; i++ {
		out, noisy := p.Explore(rng, planned, 0.5)
		if noisy {
			t.Fatal("zero policy reported noise")
		}
		if out[0] != 0.5 || out[1] != 1.5 {
			t.Fatalf("zero policy altered action: %v", out)
		}
	}
}

func TestFullEpsilonIgnoresPlan(t *testing.T) {
	narrow := control.Bounds{Lower: []float64{-0.2, 0.5}, Upper: []float64{0.2, 1.0}}
	p, err := NewPolicy(Config{
		Bounds:            testBounds(),
		ExplorationBounds: narrow,
		EpsilonBounds:     [2]float64{1, 1},
	})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	rng := rand.New(rand.NewSource(2))
	planned := control.Control{1, 2}
	sawDifferent := false
	for i := 0; i < 100; i++ {
		out, noisy := p.Explore(rng, planned, 0)
		if !noisy {
			t.Fatal("epsilon=1 did not report exploration")
		}
		if !narrow.Contains(out) {
			t.Fatalf("epsilon draw escaped exploration bounds: %v", out)
		}
		if out[0] != planned[0] || out[1] != planned[1] {
			sawDifferent = true
		}
	}
	if !sawDifferent {
		t.Fatal("epsilon draws never deviated from the plan")
	}
}

func TestGaussianNoiseClipsToBounds(t *testing.T) {
	b := testBounds()
	p, err := NewPolicy(Config{
		Bounds:      b,
		Noise:       NoiseGaussian,
		GaussianStd: []float64{10, 10},
	})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	rng := rand.New(rand.NewSource(3))
	planned := control.Control{0, 1}
	for i := 0; i < 200; i++ {
		out, noisy := p.Explore(rng, planned, 0)
		if !noisy {
			t.Fatal("gaussian noise did not report deviation")
		}
		if !b.Contains(out) {
			t.Fatalf("noisy action escaped bounds: %v", out)
		}
	}
}

func TestUniformNoiseStaysWithinOffsets(t *testing.T) {
	b := control.Bounds{Lower: []float64{-100}, Upper: []float64{100}}
	p, err := NewPolicy(Config{
		Bounds:       b,
		Noise:        NoiseUniform,
		UniformLower: []float64{-0.5},
		UniformUpper: []float64{0.5},
	})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	rng := rand.New(rand.NewSource(4))
	planned := control.Control{10}
	for i := 0; i < 200; i++ {
		out, _ := p.Explore(rng, planned, 0)
		if out[0] < 9.5 || out[0] > 10.5 {
			t.Fatalf("uniform offset out of range: %g", out[0])
		}
	}
}

func TestOUNoiseIsTemporallyCorrelatedAndResets(t *testing.T) {
	b := control.Bounds{Lower: []float64{-100}, Upper: []float64{100}}
	p, err := NewPolicy(Config{
		Bounds:  b,
		Noise:   NoiseOU,
		OUTheta: 0.15,
		OUSigma: 0.2,
	})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	planned := control.Control{0}
	run := func(seed int64) []float64 {
		p.Reset()
		rng := rand.New(rand.NewSource(seed))
		out := make([]float64, 50)
		for i := range out {
			u, _ := p.Explore(rng, planned, 0)
			out[i] = u[0]
		}
		return out
	}

	first := run(7)
	second := run(7)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("reset did not clear OU state: step %d differs", i)
		}
	}

	// Lag-1 autocorrelation of an OU walk is positive; white noise is not.
	series := run(11)
	mean := 0.0
	for _, x := range series {
		mean += x
	}
	mean /= float64(len(series))
	num, den := 0.0, 0.0
	for i := 1; i < len(series); i++ {
		num += (series[i] - mean) * (series[i-1] - mean)
	}
	for _, x := range series {
		den += (x - mean) * (x - mean)
	}
	if den == 0 || num/den < 0.2 {
		t.Fatalf("OU noise not temporally correlated: autocorr=%g", num/den)
	}
}
