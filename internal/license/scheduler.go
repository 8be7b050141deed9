package license

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler wakes on a fixed cadence and revalidates the cached
// license once its check deadline has passed. It owns its timer and
// has an explicit start/stop lifecycle. Overlapping wake-ups are
// dropped, not queued: validation is idempotent and the next wake is
// the retry.
type Scheduler struct {
	client       *Client
	wakeInterval time.Duration
	callTimeout  time.Duration
	logger       *slog.Logger

	inFlight atomic.Bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler creates a revalidation scheduler. wakeInterval is the
// timer cadence (daily in production, short in tests).
func NewScheduler(client *Client, wakeInterval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		client:       client,
		wakeInterval: wakeInterval,
		callTimeout:  30 * time.Second,
		logger:       logger.With(slog.String("component", "license_scheduler")),
	}
}

// Start launches the background timer. Starting a running scheduler is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.logger.Info("revalidation scheduler started",
		slog.Duration("wake_interval", s.wakeInterval),
	)

	go s.run(ctx)
}

// Stop halts the timer and waits for any in-flight check to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("revalidation scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.wakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.wake(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// wake performs at most one revalidation cycle. Concurrent wakes are
// coalesced: whoever loses the in-flight race simply returns.
func (s *Scheduler) wake(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("revalidation already in flight, wake dropped")
		return
	}
	defer s.inFlight.Store(false)

	if !s.client.Due() {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	res, err := s.client.Validate(callCtx)
	if err != nil {
		s.logger.Error("scheduled revalidation failed",
			slog.String("error", err.Error()),
		)
		return
	}

	switch res.Outcome {
	case ValidationOK:
		s.client.Ping(callCtx)
	case ValidationRejected:
		s.logger.Warn("license revoked during scheduled check",
			slog.String("code", res.Code),
		)
	case ValidationUnavailable:
		// Grace: cache untouched, next wake retries.
	}
}
