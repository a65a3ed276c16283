package timeline

// BuildCycle composes one period of a triangle wave between pMin and pMax.
// A sync cycle rises first; an opposed cycle is its time reversal and falls
// first. The period holds 2*points-2 samples since the turning points are
// not repeated.
func BuildCycle(pMin, pMax, dt float64, res Resolution, sync bool) ([]float64, error) {
	ramp, err := BuildRamp(pMin, pMax, dt, res)
	if err != nil {
		return nil, err
	}

	up := ramp.Samples
	n := len(up)
	cycle := make([]float64, 0, 2*n)

	if sync {
		cycle = append(cycle, up...)
		for i := n - 2; i >= 1; i-- {
			cycle = append(cycle, up[i])
		}
		return cycle, nil
	}

	for i := n - 1; i >= 0; i-- {
		cycle = append(cycle, up[i])
	}
	if n > 2 {
		cycle = append(cycle, up[1:n-1]...)
	}
	return cycle, nil
}
