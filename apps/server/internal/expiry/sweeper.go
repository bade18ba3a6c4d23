package expiry

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
)

const DefaultInterval = time.Minute

// Closer closes every OPEN game whose deadline is at or before now.
type Closer interface {
	CloseExpired(ctx context.Context, now time.Time) ([]string, error)
}

// Sweeper periodically closes expired games. It never touches a game that is settling.
type Sweeper struct {
	closer   Closer
	clock    quartz.Clock
	interval time.Duration
	log      *log.Logger
}

func NewSweeper(closer Closer, clock quartz.Clock, interval time.Duration, logger *log.Logger) *Sweeper {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{
		closer:   closer,
		clock:    clock,
		interval: interval,
		log:      logger.WithPrefix("expiry"),
	}
}

// SweepOnce runs a single pass and returns the ids it closed.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]string, error) {
	closed, err := s.closer.CloseExpired(ctx, s.clock.Now())
	if len(closed) > 0 {
		s.log.Info("closed expired games", "count", len(closed))
	}
	return closed, err
}

// Start registers the ticker and returns immediately; the returned waiter finishes once
// ctx is done.
func (s *Sweeper) Start(ctx context.Context) quartz.Waiter {
	s.log.Info("sweeper started", "interval", s.interval)
	return s.clock.TickerFunc(ctx, s.interval, func() error {
		if _, err := s.SweepOnce(ctx); err != nil {
			s.log.Error("sweep failed", "err", err)
		}
		return nil
	}, "expiry")
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	err := s.Start(ctx).Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
