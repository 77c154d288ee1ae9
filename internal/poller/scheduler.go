package poller

import (
	"context"
	"log"
	"time"
)

// Scheduler runs poll cycles at a fixed interval.
type Scheduler struct {
	poller   *Poller
	interval time.Duration
	logger   *log.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(poller *Poller, interval time.Duration, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{poller: poller, interval: interval, logger: logger}
}

// Start runs one cycle immediately, then one per interval until the
// context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.poller == nil {
		return
	}
	if err := s.poller.RunCycle(ctx); err != nil {
		s.logger.Printf("poll cycle error: %v", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.poller.RunCycle(ctx); err != nil {
				s.logger.Printf("poll cycle error: %v", err)
			}
		}
	}
}
