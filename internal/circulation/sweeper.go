// internal/circulation/sweeper.go
package circulation

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultSweepInterval = time.Hour

// SweeperOptions holds the settings of an OverdueSweeper.
type SweeperOptions struct {
	Logger   *log.Entry
	Interval time.Duration
	Clock    func() time.Time
}

// SweeperOption configures an OverdueSweeper.
type SweeperOption func(*SweeperOptions)

// WithSweepLogger sets the sweeper logger.
func WithSweepLogger(logger *log.Entry) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Logger = logger
	}
}

// WithSweepInterval sets the time between sweeps.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Interval = interval
	}
}

// WithSweepClock sets the source of "today" for each sweep.
func WithSweepClock(now func() time.Time) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Clock = now
	}
}

// OverdueSweeper periodically flags past-due loans as overdue.
type OverdueSweeper struct {
	svc      Service
	logger   *log.Entry
	interval time.Duration
	now      func() time.Time
}

// NewOverdueSweeper creates a sweeper driving svc.
func NewOverdueSweeper(svc Service, options ...SweeperOption) *OverdueSweeper {
	opts := SweeperOptions{
		Interval: defaultSweepInterval,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "overdue-sweeper")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &OverdueSweeper{
		svc:      svc,
		logger:   logger,
		interval: opts.Interval,
		now:      opts.Clock,
	}
}

// Run sweeps once right away and then on every tick until ctx is cancelled.
func (w *OverdueSweeper) Run(ctx context.Context) {
	if w.svc == nil {
		w.logger.Warn("overdue sweeper is disabled: service is nil")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *OverdueSweeper) sweep(ctx context.Context) {
	if _, err := w.SweepOnce(ctx); err != nil {
		w.logger.WithError(err).Warn("overdue sweep failed")
	}
}

// SweepOnce runs a single sweep dated by the sweeper clock.
func (w *OverdueSweeper) SweepOnce(ctx context.Context) (int, error) {
	flipped, err := w.svc.SweepOverdueLoans(ctx, w.now())
	if err != nil {
		return flipped, err
	}
	if flipped > 0 {
		w.logger.WithField("flipped", flipped).Debug("overdue sweep completed")
	}
	return flipped, nil
}
