package reminder

import (
	"time"

	"github.com/remindlab/remind/telemetry"
)

// EmitTick records one loop tick: an outcome counter and the tick duration.
func EmitTick(job string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.Counter("loop.tick", "job", job, "outcome", outcome)
	telemetry.Duration("loop.tick.duration", start, "job", job)
}
