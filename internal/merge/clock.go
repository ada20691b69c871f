package merge

import "time"

// Clock supplies the current time to the services. Passed explicitly so
// tests control event and metrics timestamps; no ambient time reads.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current wall time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
