package condition

import (
	"errors"
	"math/rand"
	"testing"
)

func TestNewManagerValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	if _, err := NewManager(Spec{}, rng); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for missing defaults, got %v", err)
	}

	inverted := Spec{
		Defaults:       []float64{0},
		Repeats:        1,
		RandomizeConds: true,
		Ranges:         []DimensionRange{{Min: 5, Max: 1, NumBins: 3}},
	}
	if _, err := NewManager(inverted, rng); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for inverted range, got %v", err)
	}

	empty := Spec{
		Defaults:       []float64{0},
		Repeats:        1,
		RandomizeConds: true,
		Ranges:         []DimensionRange{{Min: 0, Max: 1, NumBins: 0}},
	}
	if _, err := NewManager(empty, rng); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for empty range, got %v", err)
	}

	badReps := Spec{
		Defaults:      []float64{0},
		Repeats:       2,
		RandomizeReps: true,
	}
	if _, err := NewManager(badReps, rng); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for missing perturbations, got %v", err)
	}
}

func TestSeedReproducesConditionSequence(t *testing.T) {
	spec := Spec{
		Defaults:       []float64{0, 0},
		Repeats:        2,
		RandomizeConds: true,
		Ranges: []DimensionRange{
			{Min: 0, Max: 100, NumBins: 11},
			{Min: -17, Max: 17, NumBins: 5},
		},
	}

	first, err := NewManager(spec, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	second, err := NewManager(spec, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	for i := 0; i < 20; i++ {
		a, err := first.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		b, err := second.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if a.ID != b.ID || a.Index != b.Index || a.Rep != b.Rep {
			t.Fatalf("diverged at draw %d: %+v vs %+v", i, a, b)
		}
		for d := range a.Values {
			if a.Values[d] != b.Values[d] {
				t.Fatalf("values diverged at draw %d dim %d: %g vs %g", i, d, a.Values[d], b.Values[d])
			}
		}
	}
}

func TestRepeatsReuseBaseDraw(t *testing.T) {
	spec := Spec{
		Defaults:       []float64{0},
		Repeats:        3,
		RandomizeConds: true,
		Ranges:         []DimensionRange{{Min: 0, Max: 10, NumBins: 11}},
	}
	m, err := NewManager(spec, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	first, _ := m.Next()
	for rep := 1; rep < 3; rep++ {
		cond, err := m.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if cond.Index != first.Index {
			t.Fatalf("repeat advanced the base condition: %+v", cond)
		}
		if cond.Rep != rep {
			t.Fatalf("unexpected rep counter: got=%d want=%d", cond.Rep, rep)
		}
		if cond.Values[0] != first.Values[0] {
			t.Fatalf("repeat redrew the base values: %g vs %g", cond.Values[0], first.Values[0])
		}
	}
	next, _ := m.Next()
	if next.Index != first.Index+1 || next.Rep != 0 {
		t.Fatalf("expected fresh base draw after repeats: %+v", next)
	}
}

func TestRandomizeRepsPerturbsLinearly(t *testing.T) {
	spec := Spec{
		Defaults:      []float64{10, 20},
		Repeats:       3,
		RandomizeReps: true,
		Perturbations: []float64{1, -2},
	}
	m, err := NewManager(spec, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	for rep := 0; rep < 3; rep++ {
		cond, err := m.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		want0 := 10 + float64(rep)*1
		want1 := 20 + float64(rep)*-2
		if cond.Values[0] != want0 || cond.Values[1] != want1 {
			t.Fatalf("rep %d: got %v want [%g %g]", rep, cond.Values, want0, want1)
		}
	}
}

func TestBinnedDrawStaysInRange(t *testing.T) {
	spec := Spec{
		Defaults:       []float64{0},
		Repeats:        1,
		RandomizeConds: true,
		Ranges:         []DimensionRange{{Min: -3, Max: 3, NumBins: 7}},
	}
	m, err := NewManager(spec, rand.New(rand.NewSource(9)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	for i := 0; i < 100; i++ {
		cond, err := m.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		v := cond.Values[0]
		if v < -3 || v > 3 {
			t.Fatalf("draw %d escapes range: %g", i, v)
		}
	}
}

func TestTestEveryFlagsHeldOutConditions(t *testing.T) {
	spec := Spec{
		Defaults:  []float64{0},
		Repeats:   1,
		TestEvery: 3,
	}
	m, err := NewManager(spec, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	for i := 0; i < 10; i++ {
		cond, err := m.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		want := i > 0 && i%3 == 0
		if cond.IsTest != want {
			t.Fatalf("condition %d: is_test=%t want=%t", i, cond.IsTest, want)
		}
	}
}
