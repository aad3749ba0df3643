package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"CatalogHarvester/internal/ports"
)

// Harvest frequencies understood by IntervalFor.
const (
	FrequencyManual  = "MANUAL"
	FrequencyDaily   = "DAILY"
	FrequencyWeekly  = "WEEKLY"
	FrequencyMonthly = "MONTHLY"
	FrequencyAlways  = "ALWAYS"
)

var intervals = map[string]time.Duration{
	FrequencyDaily:   24 * time.Hour,
	FrequencyWeekly:  7 * 24 * time.Hour,
	FrequencyMonthly: 30 * 24 * time.Hour,
	FrequencyAlways:  time.Hour,
}

// IntervalFor maps a harvest frequency to its tick interval. MANUAL and
// empty frequencies report false: those sources only run on demand.
func IntervalFor(frequency string) (time.Duration, bool, error) {
	f := strings.ToUpper(strings.TrimSpace(frequency))
	if f == "" || f == FrequencyManual {
		return 0, false, nil
	}
	d, ok := intervals[f]
	if !ok {
		return 0, false, fmt.Errorf("unknown frequency %q", frequency)
	}
	return d, true, nil
}

// IntervalScheduler runs a job immediately and then on every tick.
type IntervalScheduler struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds a scheduler ticking every interval.
func NewIntervalScheduler(interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{interval: interval}
}

// Start begins ticking. Starting twice is a no-op.
func (s *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}
	if s.interval <= 0 {
		return fmt.Errorf("non-positive interval %s", s.interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		job(time.Now())
		for {
			select {
			case t := <-ticker.C:
				job(t)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine and waits for a running job to return,
// or for ctx to expire.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stop == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.stop)
	done := s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
