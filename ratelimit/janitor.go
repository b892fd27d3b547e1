package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/goliatone/go-call-guard/internal/janitor"
)

// Sweeper is implemented by limiters that can drop idle keys.
type Sweeper interface {
	Sweep(idle time.Duration) int
}

// StartJanitor sweeps s every interval until ctx is done. Keys idle for at
// least idle are removed. A non-positive interval disables the janitor.
func StartJanitor(ctx context.Context, s Sweeper, every, idle time.Duration, logger *slog.Logger) {
	if s == nil {
		return
	}
	janitor.Run(ctx, every, func() int { return s.Sweep(idle) }, logger, "ratelimit")
}
