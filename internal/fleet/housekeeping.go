package fleet

import (
	"context"
	"time"
)

// Sweeper drops expired cached readings and reports how many it removed.
type Sweeper interface {
	Purge() int
}

// RunHousekeeping sweeps the given caches every interval until ctx ends.
func (s *Service) RunHousekeeping(ctx context.Context, interval time.Duration, caches map[string]Sweeper) {
	if interval <= 0 || len(caches) == 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for name, c := range caches {
				if n := c.Purge(); n > 0 {
					s.logger.Debug("cache swept", "cache", name, "expired", n)
				}
			}
		}
	}
}
