package usage

import "time"

// Clock provides time information for usage sampling.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}
