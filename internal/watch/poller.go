package watch

import (
	"context"
	"time"
)

// Poll calls fn every interval until ctx is done. It blocks.
func Poll(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}
