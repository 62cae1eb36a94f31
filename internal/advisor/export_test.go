package advisor

import "time"

// SetNow swaps the advisor's clock for deterministic cooldown tests.
func SetNow(a *Advisor, f func() time.Time) {
	a.now = f
}
