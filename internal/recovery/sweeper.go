package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain/repositories"
)

const (
	// DefaultInterval is how often stuck recordings are looked for
	DefaultInterval = time.Minute

	// DefaultStaleAfter is how long a recording may stay in processing
	DefaultStaleAfter = 10 * time.Minute

	// InterruptedMessage is stored on recordings released by the sweep
	InterruptedMessage = "processing interrupted"
)

// Config holds the sweeper settings
type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

// StaleObserver receives the number of recordings released by each sweep
type StaleObserver interface {
	RecordStaleExpired(n int)
}

// Sweeper marks recordings whose run died mid-way as failed so they can be re-invoked
type Sweeper struct {
	recordings repositories.RecordingRepository
	config     Config
	observer   StaleObserver
	logger     *zap.Logger
	stopChan   chan struct{}
	doneChan   chan struct{}
	now        func() time.Time
}

// NewSweeper creates a new stale-run sweeper
func NewSweeper(recordings repositories.RecordingRepository, config Config, observer StaleObserver, logger *zap.Logger) *Sweeper {
	if config.Interval <= 0 {
		logger.Info("Using default sweep interval", zap.Duration("interval", DefaultInterval))
		config.Interval = DefaultInterval
	}
	if config.StaleAfter <= 0 {
		logger.Info("Using default stale threshold", zap.Duration("staleAfter", DefaultStaleAfter))
		config.StaleAfter = DefaultStaleAfter
	}

	return &Sweeper{
		recordings: recordings,
		config:     config,
		observer:   observer,
		logger:     logger,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
		now:        time.Now,
	}
}

// Start begins the background sweep
func (s *Sweeper) Start() {
	go s.sweepLoop()
	s.logger.Info("Stale recording sweeper started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("staleAfter", s.config.StaleAfter))
}

// Stop stops the sweep and waits for a running pass to finish
func (s *Sweeper) Stop() {
	close(s.stopChan)
	<-s.doneChan
	s.logger.Info("Stale recording sweeper stopped")
}

func (s *Sweeper) sweepLoop() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval)
			s.Sweep(ctx)
			cancel()
		}
	}
}

// Sweep runs one pass and returns the number of recordings released
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.config.StaleAfter)

	expired, err := s.recordings.ExpireStale(ctx, cutoff, InterruptedMessage)
	if err != nil {
		s.logger.Error("Failed to expire stale recordings", zap.Error(err))
		return 0
	}

	if expired > 0 {
		s.logger.Warn("Released stale recordings",
			zap.Int("count", expired),
			zap.Time("cutoff", cutoff))
		if s.observer != nil {
			s.observer.RecordStaleExpired(expired)
		}
	}
	return expired
}
