package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/program-booking-engine/pkg/logger"
	"go.uber.org/zap"
)

// StaleExpirer fails pending bookings older than a cutoff
type StaleExpirer interface {
	ExpireStale(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// TimeoutSweeperConfig contains configuration for the timeout sweeper
type TimeoutSweeperConfig struct {
	// Interval is the time between sweeps
	Interval time.Duration
	// ReservationTimeout is how long a booking may stay pending
	ReservationTimeout time.Duration
	// BatchSize caps how many bookings one sweep expires
	BatchSize int
}

// DefaultTimeoutSweeperConfig returns default configuration
func DefaultTimeoutSweeperConfig() *TimeoutSweeperConfig {
	return &TimeoutSweeperConfig{
		Interval:           30 * time.Second,
		ReservationTimeout: 15 * time.Minute,
		BatchSize:          100,
	}
}

// TimeoutSweeper periodically fails reservations whose payment never completed,
// releasing their seats through the lifecycle's guarded transition
type TimeoutSweeper struct {
	expirer StaleExpirer
	config  *TimeoutSweeperConfig
	now     func() time.Time
	log     *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	totalExpired     int64
	sweeps           int64
	lastSweepTime    time.Time
	lastExpiredCount int
}

// NewTimeoutSweeper creates a new timeout sweeper
func NewTimeoutSweeper(expirer StaleExpirer, config *TimeoutSweeperConfig) *TimeoutSweeper {
	if config == nil {
		config = DefaultTimeoutSweeperConfig()
	}
	return &TimeoutSweeper{
		expirer: expirer,
		config:  config,
		now:     time.Now,
		log:     logger.Get().Named("timeout-sweeper"),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the sweeper
func (w *TimeoutSweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("timeout sweeper already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting timeout sweeper",
		zap.Duration("interval", w.config.Interval),
		zap.Duration("reservation_timeout", w.config.ReservationTimeout),
	)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop stops the sweeper and waits for an in-flight sweep to finish
func (w *TimeoutSweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Timeout sweeper stopped")
}

func (w *TimeoutSweeper) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many bookings were expired
func (w *TimeoutSweeper) Sweep(ctx context.Context) int {
	cutoff := w.now().Add(-w.config.ReservationTimeout)

	expired, err := w.expirer.ExpireStale(ctx, cutoff, w.config.BatchSize)

	w.mu.Lock()
	w.sweeps++
	w.lastSweepTime = w.now()
	w.lastExpiredCount = expired
	w.totalExpired += int64(expired)
	w.mu.Unlock()

	if err != nil {
		w.log.Error("Sweep failed", zap.Error(err))
		return expired
	}
	if expired > 0 {
		w.log.Info("Expired stale reservations", zap.Int("count", expired))
	}
	return expired
}

// GetStats returns sweeper statistics
func (w *TimeoutSweeper) GetStats() *TimeoutSweeperStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &TimeoutSweeperStats{
		IsRunning:        w.running,
		Sweeps:           w.sweeps,
		TotalExpired:     w.totalExpired,
		LastSweepTime:    w.lastSweepTime,
		LastExpiredCount: w.lastExpiredCount,
	}
}

// TimeoutSweeperStats contains sweeper statistics
type TimeoutSweeperStats struct {
	IsRunning        bool      `json:"is_running"`
	Sweeps           int64     `json:"sweeps"`
	TotalExpired     int64     `json:"total_expired"`
	LastSweepTime    time.Time `json:"last_sweep_time"`
	LastExpiredCount int       `json:"last_expired_count"`
}
