package cache

import (
	"context"
	"log"
	"sort"
	"time"
)

// WarmJob precomputes one cache entry. Higher-priority jobs run first.
type WarmJob struct {
	Key      string
	TTL      time.Duration
	Priority int
	Compute  func(context.Context) ([]byte, error)
}

// Warm runs the jobs in the background in priority order, skipping keys
// that are already cached. Foreground lookups are never blocked: warming
// shares the coalescing machinery of GetOrCompute, so a concurrent
// foreground request for the same key simply joins the warm computation.
// The returned channel closes when every job has been attempted or the
// context is cancelled.
func (c *Cache) Warm(ctx context.Context, jobs []WarmJob) <-chan struct{} {
	ordered := make([]WarmJob, len(jobs))
	copy(ordered, jobs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		warmed, failed := 0, 0
		for _, job := range ordered {
			if ctx.Err() != nil {
				log.Printf("[Cache] warming cancelled after %d jobs", warmed)
				return
			}
			if job.Compute == nil {
				continue
			}
			if _, ok := c.Get(job.Key); ok {
				continue
			}
			if _, _, err := c.GetOrCompute(ctx, job.Key, job.TTL, job.Compute); err != nil {
				failed++
				log.Printf("[Cache] warm job %s failed: %v", job.Key, err)
				continue
			}
			warmed++
		}
		if warmed > 0 || failed > 0 {
			log.Printf("[Cache] warming complete: %d computed, %d failed", warmed, failed)
		}
	}()
	return done
}
