package stream

import (
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/climastream/weather-stream/internal/cache"
)

// Sweeper runs periodic maintenance on a fixed interval, independent of
// individual session loops: it evicts stale connections from the registry and
// drops expired entries from the shared response cache.
type Sweeper struct {
	scheduler *gocron.Scheduler
	registry  *Registry
	cache     *cache.Cache
	interval  time.Duration
	timeout   time.Duration
}

// NewSweeper creates a Sweeper evicting connections idle longer than timeout.
// responseCache may be nil to skip cache maintenance.
func NewSweeper(registry *Registry, responseCache *cache.Cache, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{
		scheduler: gocron.NewScheduler(time.UTC),
		registry:  registry,
		cache:     responseCache,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start schedules the maintenance job and starts the underlying scheduler.
func (s *Sweeper) Start() error {
	seconds := int(s.interval.Seconds())
	if seconds <= 0 {
		seconds = 60
	}

	_, err := s.scheduler.Every(seconds).Seconds().Do(func() {
		now := time.Now()
		if evicted := s.registry.Sweep(now, s.timeout); evicted > 0 {
			log.Printf("sweeper: evicted %d stale connections", evicted)
		}
		if s.cache != nil {
			if purged := s.cache.Purge(now); purged > 0 {
				log.Printf("sweeper: purged %d expired cache entries", purged)
			}
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels future sweeps.
func (s *Sweeper) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
