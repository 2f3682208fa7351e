package app

import (
	"context"
	"sync"
	"time"
)

// Sampler polls on a fixed period in its own goroutine. The period can be
// changed while it runs.
type Sampler struct {
	poll  func(context.Context)
	reset chan time.Duration

	mu       sync.Mutex
	interval time.Duration
}

func newSampler(interval time.Duration, poll func(context.Context)) *Sampler {
	return &Sampler{
		poll:     poll,
		reset:    make(chan time.Duration, 1),
		interval: interval,
	}
}

// Run polls immediately and then once per interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	s.poll(ctx)

	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.reset:
			ticker.Reset(d)
			log.Info("sampler interval changed", "intervalMs", d.Milliseconds())
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// SetInterval changes the period. Non-positive values are ignored. Only the
// latest pending change is applied.
func (s *Sampler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d == s.interval {
		return
	}
	s.interval = d

	select {
	case s.reset <- d:
	default:
		select {
		case <-s.reset:
		default:
		}
		s.reset <- d
	}
}

func (s *Sampler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
