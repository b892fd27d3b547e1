// Package janitor runs periodic cleanup passes for in-process key maps.
package janitor

import (
	"context"
	"log/slog"
	"time"
)

// SweepFunc performs one cleanup pass and reports how many keys it removed.
type SweepFunc func() int

// Run calls sweep every interval until ctx is done. Non-positive intervals
// disable the loop.
func Run(ctx context.Context, every time.Duration, sweep SweepFunc, logger *slog.Logger, what string) {
	if every <= 0 || sweep == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := sweep(); n > 0 {
					logger.Debug("swept idle keys", "component", what, "removed", n)
				}
			}
		}
	}()
}
