package timeline

import (
	"fmt"
	"math"
)

// floorSlack absorbs float representation error in duration/dt so that
// 0.4/0.1 counts as 4 steps and not 3.
const floorSlack = 1e-9

// Resolution is the primary input of a ramp: either its point count or its
// target speed. The other quantity is derived.
type Resolution interface {
	resolve(delta, dt float64) (points int, duration, speed float64, err error)
}

// ByCount builds a ramp with exactly N points, endpoints included.
type ByCount struct {
	N int
}

func (r ByCount) resolve(delta, dt float64) (int, float64, float64, error) {
	if r.N < 2 {
		return 0, 0, 0, fmt.Errorf("%w: ramp needs at least 2 points, got %d", ErrConfig, r.N)
	}
	duration := dt * float64(r.N-1)
	return r.N, duration, delta / duration, nil
}

// BySpeed builds a ramp approaching Speed mbar/s. The point count is rounded
// down to the time grid, so the achieved speed is approximate.
type BySpeed struct {
	Speed float64
}

func (r BySpeed) resolve(delta, dt float64) (int, float64, float64, error) {
	if r.Speed <= 0 || math.IsNaN(r.Speed) || math.IsInf(r.Speed, 0) {
		return 0, 0, 0, fmt.Errorf("%w: ramp speed must be a positive number, got %v", ErrConfig, r.Speed)
	}
	duration := delta / r.Speed
	points := int(math.Floor(duration/dt + floorSlack))
	if points < 1 {
		points = 1
	}
	return points, duration, r.Speed, nil
}

// Ramp is a monotonic pressure transition sampled every dt seconds
type Ramp struct {
	Samples  []float64
	Duration float64 // seconds
	Speed    float64 // mbar/s
}

// BuildRamp computes the transition from start to end (mbar) with a time
// resolution of dt seconds.
func BuildRamp(start, end, dt float64, res Resolution) (Ramp, error) {
	if dt <= 0 || math.IsNaN(dt) {
		return Ramp{}, fmt.Errorf("%w: time resolution must be > 0, got %v", ErrConfig, dt)
	}
	if res == nil {
		return Ramp{}, fmt.Errorf("%w: ramp needs a point count or a speed", ErrConfig)
	}

	points, duration, speed, err := res.resolve(math.Abs(end-start), dt)
	if err != nil {
		return Ramp{}, err
	}

	return Ramp{
		Samples:  linspace(start, end, points),
		Duration: duration,
		Speed:    speed,
	}, nil
}

// linspace returns n evenly spaced values from start to end inclusive. A
// single value is start.
func linspace(start, end float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = end
	return out
}
