package playback

import (
	"context"
	"time"
)

// Clock is the time source of the scheduler. Sleep is not interruptible.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

// RealClock returns the wall clock
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// settleSlice bounds how long a settle wait ignores cancellation
const settleSlice = 100 * time.Millisecond

// wait sleeps for d in slices so that ctx is observed during long waits
func wait(ctx context.Context, clock Clock, d time.Duration) error {
	deadline := clock.Now().Add(d)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		left := deadline.Sub(clock.Now())
		if left <= 0 {
			return nil
		}
		clock.Sleep(min(left, settleSlice))
	}
}
