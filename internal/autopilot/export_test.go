package autopilot

import "time"

// SetNow swaps the controller's clock for deterministic cooldown tests.
func SetNow(c *Controller, f func() time.Time) {
	c.now = f
}
