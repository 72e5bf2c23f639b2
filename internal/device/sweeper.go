package device

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically marks devices offline once they have been silent
// for longer than staleAfter.
type Sweeper struct {
	svc        *Service
	staleAfter time.Duration
	interval   time.Duration
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewSweeper(svc *Service, staleAfter, interval time.Duration, logger *zap.SugaredLogger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sweeper{svc: svc, staleAfter: staleAfter, interval: interval, logger: logger, now: time.Now}
}

// SweepOnce runs a single pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	return s.svc.SweepStale(ctx, s.now().Add(-s.staleAfter))
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warnw("device sweep failed", "err", err)
			}
		}
	}
}
