package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PassFunc runs one reconciliation pass and returns its report
type PassFunc[R any] func(ctx context.Context) (R, error)

// ReconcileSchedulerConfig holds configuration for the reconcile scheduler
type ReconcileSchedulerConfig struct {
	// Enabled determines if the periodic loop is started
	Enabled bool

	// Interval between two scheduled passes
	Interval time.Duration

	// RunOnStart runs a pass right after Start
	RunOnStart bool

	// PassTimeout is the maximum time for one pass
	PassTimeout time.Duration
}

// DefaultReconcileSchedulerConfig returns default configuration
func DefaultReconcileSchedulerConfig() ReconcileSchedulerConfig {
	return ReconcileSchedulerConfig{
		Enabled:     true,
		Interval:    15 * time.Minute,
		RunOnStart:  true,
		PassTimeout: 10 * time.Minute,
	}
}

// Validate checks the configuration
func (c ReconcileSchedulerConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.PassTimeout <= 0 {
		return fmt.Errorf("%w: pass timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// PassStatus describes the most recent pass
type PassStatus struct {
	Running    bool
	InProgress bool
	StartedAt  time.Time
	FinishedAt time.Time
	LastError  string
	Passes     int64
	Skipped    int64
}

// ReconcileScheduler runs reconciliation passes on a fixed interval.
// At most one pass runs at a time; a tick that finds a pass still running is skipped.
type ReconcileScheduler[R any] struct {
	pass   PassFunc[R]
	logger *zap.Logger
	config ReconcileSchedulerConfig

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	inProgress atomic.Bool
	passes     atomic.Int64
	skipped    atomic.Int64

	statusMu   sync.Mutex
	startedAt  time.Time
	finishedAt time.Time
	lastErr    error
}

// NewReconcileScheduler creates a new reconcile scheduler
func NewReconcileScheduler[R any](pass PassFunc[R], logger *zap.Logger, config ReconcileSchedulerConfig) (*ReconcileScheduler[R], error) {
	if pass == nil {
		return nil, fmt.Errorf("%w: pass function is required", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileScheduler[R]{
		pass:   pass,
		logger: logger.Named("reconcile-scheduler"),
		config: config,
	}, nil
}

// Start begins the periodic loop
func (s *ReconcileScheduler[R]) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}
	if !s.config.Enabled {
		s.logger.Info("Reconcile scheduler is disabled")
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Reconcile scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Bool("run_on_start", s.config.RunOnStart))
	return nil
}

// Stop cancels the loop and waits for a running pass to finish
func (s *ReconcileScheduler[R]) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Reconcile scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Reconcile scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the loop is active
func (s *ReconcileScheduler[R]) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// RunNow runs a pass immediately in the caller's goroutine
func (s *ReconcileScheduler[R]) RunNow(ctx context.Context) (R, error) {
	var zero R
	if !s.IsRunning() {
		return zero, ErrSchedulerNotRunning
	}
	report, ran, err := s.runPass(ctx, "manual")
	if !ran {
		return zero, ErrPassInProgress
	}
	return report, err
}

// Status returns a snapshot of the scheduler state
func (s *ReconcileScheduler[R]) Status() PassStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	status := PassStatus{
		Running:    s.IsRunning(),
		InProgress: s.inProgress.Load(),
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
		Passes:     s.passes.Load(),
		Skipped:    s.skipped.Load(),
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

func (s *ReconcileScheduler[R]) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		s.tick(ctx, "startup")
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, "timer")
		}
	}
}

func (s *ReconcileScheduler[R]) tick(ctx context.Context, trigger string) {
	if _, ran, _ := s.runPass(ctx, trigger); !ran {
		s.skipped.Add(1)
		s.logger.Warn("Skipping reconcile tick, previous pass still running", zap.String("trigger", trigger))
	}
}

// runPass reports ran=false without calling the pass when another one holds the slot
func (s *ReconcileScheduler[R]) runPass(ctx context.Context, trigger string) (report R, ran bool, err error) {
	if !s.inProgress.CompareAndSwap(false, true) {
		return report, false, nil
	}
	defer s.inProgress.Store(false)

	passCtx, cancel := context.WithTimeout(ctx, s.config.PassTimeout)
	defer cancel()

	start := time.Now()
	s.statusMu.Lock()
	s.startedAt = start
	s.statusMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			ran = true
			err = fmt.Errorf("reconcile pass panicked: %v", r)
			s.logger.Error("Reconcile pass panicked", zap.Any("panic", r), zap.String("trigger", trigger))
		}
		s.passes.Add(1)
		s.statusMu.Lock()
		s.finishedAt = time.Now()
		s.lastErr = err
		s.statusMu.Unlock()
	}()

	report, err = s.pass(passCtx)
	if err != nil {
		s.logger.Error("Reconcile pass failed",
			zap.String("trigger", trigger),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return report, true, err
	}

	s.logger.Info("Reconcile pass completed",
		zap.String("trigger", trigger),
		zap.Duration("duration", time.Since(start)),
		zap.Any("report", report))
	return report, true, nil
}
