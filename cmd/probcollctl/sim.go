package main

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"probcoll/internal/control"
	"probcoll/internal/obs"
	probapi "probcoll/pkg/probcoll"
)

const (
	simRays      = 8
	simMaxRange  = 5.0
	simHalfWidth = 1.5
	simDT        = 0.1
	simSteerGain = 1.2
)

// corridorSim is a planar vehicle in an infinite corridor: drive forward,
// steer away from the walls. It serves as both observation source and
// actuation sink so a run works end to end without hardware.
type corridorSim struct {
	mu       sync.Mutex
	rng      *rand.Rand
	x, y     float64
	heading  float64
	collided bool
	reported bool
}

func newCorridorSim(seed int64) *corridorSim {
	s := &corridorSim{rng: rand.New(rand.NewSource(seed + 99))}
	s.reset()
	return s
}

func (s *corridorSim) reset() {
	s.x = 0
	s.y = (s.rng.Float64()*2 - 1) * simHalfWidth * 0.5
	s.heading = (s.rng.Float64()*2 - 1) * 0.3
	s.collided = false
	s.reported = false
}

// Observe returns simRays wall distances plus the collision flag. After a
// collision has been reported once, the next call respawns the vehicle, which
// plays the part of a new episode start.
func (s *corridorSim) Observe(ctx context.Context) (obs.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collided {
		if !s.reported {
			s.reported = true
			return s.vector(1), nil
		}
		s.reset()
	}
	return s.vector(0), nil
}

func (s *corridorSim) vector(collision float64) obs.Vector {
	v := make(obs.Vector, simRays+1)
	for i := 0; i < simRays; i++ {
		// Ray angles spread across the forward arc.
		angle := s.heading + (float64(i)/float64(simRays-1)-0.5)*math.Pi
		v[i] = s.rayDistance(angle) / simMaxRange
	}
	v[simRays] = collision
	return v
}

// rayDistance finds the distance at which a ray from (x, y) hits a corridor
// wall at y = +-simHalfWidth.
func (s *corridorSim) rayDistance(angle float64) float64 {
	sin := math.Sin(angle)
	if math.Abs(sin) < 1e-9 {
		return simMaxRange
	}
	wall := simHalfWidth
	if sin < 0 {
		wall = -simHalfWidth
	}
	d := (wall - s.y) / sin
	if d < 0 || d > simMaxRange {
		return simMaxRange
	}
	return d
}

func (s *corridorSim) Execute(ctx context.Context, u control.Control) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collided {
		return nil
	}

	steer, speed := u[0], 0.0
	if len(u) > 1 {
		speed = u[1]
	}
	s.heading += steer * simSteerGain * simDT
	s.x += speed * math.Cos(s.heading) * simDT
	s.y += speed * math.Sin(s.heading) * simDT
	if math.Abs(s.y) >= simHalfWidth {
		s.collided = true
	}
	return nil
}

// applySimDefaults fills the request fields the simulator dictates: control
// space, observation layout and the primitive grids.
func applySimDefaults(req *probapi.RunRequest, sim *corridorSim) {
	if len(req.ControlLower) == 0 {
		req.ControlLower = []float64{-1, 0}
		req.ControlUpper = []float64{1, 2}
	}
	if len(req.ObsSegments) == 0 {
		req.ObsSegments = []obs.Segment{
			{Name: obs.SegmentCamera, Dim: simRays},
			{Name: obs.SegmentCollision, Dim: 1},
		}
	}
	if len(req.SafeAction) == 0 {
		req.SafeAction = []float64{0, 0}
	}
	if len(req.Steers) == 0 {
		req.Steers = []float64{-1, -0.5, 0, 0.5, 1}
	}
	if len(req.Speeds) == 0 {
		req.Speeds = []float64{0.5, 1, 2}
	}
	if len(req.DesiredControl) == 0 {
		req.DesiredControl = []float64{0, 1}
	}
	if req.EpsilonStart == 0 && req.EpsilonEnd == 0 {
		req.EpsilonStart = 0.3
		req.EpsilonEnd = 0.05
	}
	if req.Noise == "" {
		req.Noise = "gaussian"
		req.GaussianStd = []float64{0.1, 0.1}
	}
}
