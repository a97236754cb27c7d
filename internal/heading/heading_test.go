package heading

import (
	"math"
	"math/rand"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSmoother_WrapAcrossNorth(t *testing.T) {
	var s Smoother
	s.Add(350)

	got := s.Add(5)
	if !approx(got, 352.25) {
		t.Errorf("expected 352.25, got %v", got)
	}

	var back Smoother
	back.Add(5)
	got = back.Add(350)
	if !approx(got, 2.75) {
		t.Errorf("expected 2.75, got %v", got)
	}
}

func TestSmoother_FirstSampleSeeds(t *testing.T) {
	var s Smoother
	if s.Ready() {
		t.Fatal("zero smoother should not be ready")
	}
	if got := s.Add(187); got != 187 {
		t.Errorf("expected seed 187, got %v", got)
	}
	if !s.Ready() || s.Display() != 187 {
		t.Errorf("expected display 187, got %d", s.Display())
	}

	s.Reset()
	if s.Ready() {
		t.Error("reset smoother should not be ready")
	}
}

func TestSmoother_BoundedSteps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var s Smoother
	prev := s.Add(rng.Float64() * 360)

	for i := 0; i < 10000; i++ {
		raw := rng.Float64() * 360
		diff := raw - prev
		if diff > 180 {
			diff -= 360
		} else if diff < -180 {
			diff += 360
		}

		next := s.Add(raw)
		if next < 0 || next >= 360 {
			t.Fatalf("output out of range: %v", next)
		}

		step := next - prev
		if step > 180 {
			step -= 360
		} else if step < -180 {
			step += 360
		}
		if math.Abs(step) > Alpha*math.Abs(diff)+1e-9 {
			t.Fatalf("step %v exceeds alpha*diff %v", step, Alpha*diff)
		}
		prev = next
	}
}

func TestSmoother_Converges(t *testing.T) {
	var s Smoother
	s.Add(90)
	for i := 0; i < 200; i++ {
		s.Add(270.4)
	}
	if s.Display() != 270 {
		t.Errorf("expected display 270, got %d", s.Display())
	}
}

func TestRaw(t *testing.T) {
	tests := []struct {
		name   string
		sample Sample
		want   float64
		ok     bool
	}{
		{"compass preferred", Sample{CompassHeading: ptr(42), Alpha: ptr(10)}, 42, true},
		{"alpha converted", Sample{Alpha: ptr(90)}, 270, true},
		{"alpha zero", Sample{Alpha: ptr(0)}, 0, true},
		{"alpha full turn", Sample{Alpha: ptr(360)}, 0, true},
		{"negative compass", Sample{CompassHeading: ptr(-10)}, 350, true},
		{"empty", Sample{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Raw(tt.sample)
			if ok != tt.ok || !approx(got, tt.want) {
				t.Errorf("Raw() = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRound(t *testing.T) {
	tests := map[float64]int{
		0:      0,
		186.5:  187,
		359.4:  359,
		359.6:  0,
		-0.4:   0,
		720.25: 0,
	}
	for in, want := range tests {
		if got := Round(in); got != want {
			t.Errorf("Round(%v) = %d, want %d", in, got, want)
		}
	}
}
