package playback

import "time"

// Progress is reported once per tick, before the tick's sleep
type Progress struct {
	Tick    int           `json:"tick"`
	Elapsed time.Duration `json:"elapsed"`
	Total   time.Duration `json:"total"`
}

// Percent is the elapsed share of the total duration, capped at 100
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 100
	}
	pct := float64(p.Elapsed) / float64(p.Total) * 100
	return min(pct, 100)
}

// Observer receives run events. Calls happen on the scheduler goroutine and
// must not block; they have no effect on control flow.
type Observer interface {
	OnStatus(status Status)
	OnProgress(p Progress)
	OnFinish(res Result, err error)
}

// MultiObserver fans events out to every observer in order
type MultiObserver []Observer

func (m MultiObserver) OnStatus(status Status) {
	for _, o := range m {
		o.OnStatus(status)
	}
}

func (m MultiObserver) OnProgress(p Progress) {
	for _, o := range m {
		o.OnProgress(p)
	}
}

func (m MultiObserver) OnFinish(res Result, err error) {
	for _, o := range m {
		o.OnFinish(res, err)
	}
}

type nopObserver struct{}

func (nopObserver) OnStatus(Status)        {}
func (nopObserver) OnProgress(Progress)    {}
func (nopObserver) OnFinish(Result, error) {}
