package platform

import "time"

// SystemClock is the real wall-clock Clock implementation; tests inject a
// fake instead so UUID rotation and rekey timers are deterministic.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a Clock anchored to the current instant.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Now() time.Time { return time.Now() }

func (c *SystemClock) Monotonic() time.Duration { return time.Since(c.start) }


